//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/infra"
	redisstore "github.com/eliteGoblin/focusd/child_mon/internal/store/redis"
	"github.com/eliteGoblin/focusd/child_mon/internal/usecase"
)

const (
	familyID = "fam-1"
	childID  = "child-1"
)

var _ = Describe("Enforcement session", func() {
	var (
		ctx       context.Context
		mr        *miniredis.Miniredis
		store     *redisstore.Store
		processes *fakeProcesses
		usage     *fakeUsage
		blocker   *infra.ProcessBlocker
		session   *usecase.Session
	)

	sweep := func() {
		Expect(blocker.Sweep(ctx)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		store, err = redisstore.Open(config.RedisConfig{
			Host:         mr.Addr(),
			PoolSize:     10,
			DialTimeout:  "5s",
			ReadTimeout:  "3s",
			WriteTimeout: "3s",
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		processes = newFakeProcesses()
		processes.Launch(100, "minecraft")
		processes.Launch(200, "roblox")
		processes.Launch(300, "firefox")

		usage = newFakeUsage()
		blocker = infra.NewProcessBlocker(processes, infra.BlockerConfig{
			TrackedPackages:   []string{"minecraft", "roblox"},
			ProtectedPackages: []string{"childmon"},
			SuspendMode:       false,
		}, nil, zap.NewNop())

		session = usecase.NewSession(
			store.Controls(),
			usage,
			store.RemoteStatus(),
			blocker,
			usecase.DefaultSessionConfig(),
			zap.NewNop(),
		)
	})

	AfterEach(func() {
		session.Stop(ctx)
		session.Wait()
		store.Close()
		mr.Close()
	})

	Describe("Start", func() {
		Context("with an invalid child context", func() {
			It("should refuse and stay stopped", func() {
				err := session.Start(ctx, domain.EnforcementContext{ChildID: "undefined", FamilyID: familyID})
				Expect(err).To(MatchError(domain.ErrInvalidContext))
				Expect(session.Status().Started).To(BeFalse())
			})
		})

		Context("with no controls yet", func() {
			It("should block nothing", func() {
				Expect(session.Start(ctx, domain.EnforcementContext{ChildID: childID, FamilyID: familyID})).To(Succeed())

				Eventually(func() *domain.EnforcementDecision {
					return session.Status().LastDecision
				}).WithTimeout(2 * time.Second).ShouldNot(BeNil())
				Expect(session.Status().LastDecision.IsEmpty()).To(BeTrue())
				Expect(processes.Killed()).To(BeEmpty())
			})
		})
	})

	Describe("Parent controls", func() {
		BeforeEach(func() {
			Expect(session.Start(ctx, domain.EnforcementContext{ChildID: childID, FamilyID: familyID})).To(Succeed())
		})

		Context("when the parent blocks an app", func() {
			It("should kill it and leave other apps alone", func() {
				Expect(store.Controls().SetAppRule(ctx, familyID, childID, "minecraft", domain.AppRule{Blocked: true})).To(Succeed())

				Eventually(func() []string {
					sweep()
					return processes.Killed()
				}).WithTimeout(2 * time.Second).Should(Equal([]string{"minecraft"}))
				Expect(processes.Running("firefox")).To(BeTrue())
				Expect(session.Status().EnforcementMethod).To(Equal(infra.MethodProcess))
			})
		})

		Context("when an app goes over its daily limit", func() {
			It("should block it once usage passes limit plus grace", func() {
				Expect(store.Controls().SetMeta(ctx, familyID, childID, domain.ControlsMeta{GraceMillis: 60000})).To(Succeed())
				Expect(store.Controls().SetAppRule(ctx, familyID, childID, "roblox", domain.AppRule{DailyLimitMillis: millis(600000)})).To(Succeed())

				usage.Publish(domain.UsageSnapshot{
					Totals:          []domain.UsageTotal{{PackageName: "roblox", DurationMs: 630000}},
					TotalDurationMs: 630000,
				})
				Consistently(func() []string {
					sweep()
					return processes.Killed()
				}).WithTimeout(300 * time.Millisecond).Should(BeEmpty())

				usage.Publish(domain.UsageSnapshot{
					Totals:          []domain.UsageTotal{{PackageName: "roblox", DurationMs: 660000}},
					TotalDurationMs: 660000,
				})
				Eventually(func() []string {
					sweep()
					return processes.Killed()
				}).WithTimeout(2 * time.Second).Should(Equal([]string{"roblox"}))
			})
		})

		Context("when the device-wide limit is reached", func() {
			It("should block every tracked app", func() {
				Expect(store.Controls().SetMeta(ctx, familyID, childID, domain.ControlsMeta{GlobalDailyLimitMillis: millis(3600000)})).To(Succeed())
				usage.Publish(domain.UsageSnapshot{TotalDurationMs: 3600000})

				Eventually(func() []string {
					sweep()
					return processes.Killed()
				}).WithTimeout(2 * time.Second).Should(Equal([]string{"minecraft", "roblox"}))
				Expect(processes.Running("firefox")).To(BeTrue())
			})
		})

		Context("when controls carry a timezone", func() {
			It("should forward it to usage tracking", func() {
				tz := "Australia/Sydney"
				Expect(store.Controls().SetMeta(ctx, familyID, childID, domain.ControlsMeta{Timezone: &tz})).To(Succeed())

				Eventually(usage.Timezones).WithTimeout(2 * time.Second).Should(ContainElement(tz))
			})
		})
	})

	Describe("Remote blocks", func() {
		BeforeEach(func() {
			Expect(session.Start(ctx, domain.EnforcementContext{ChildID: childID, FamilyID: familyID})).To(Succeed())
		})

		It("should enforce the block and confirm it on the record", func() {
			_, err := store.RemoteStatus().SetRemoteStatus(ctx, childID, "minecraft", true, domain.ReasonRemoteBlock, "Homework first")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() []string {
				sweep()
				return processes.Killed()
			}).WithTimeout(2 * time.Second).Should(Equal([]string{"minecraft"}))

			Eventually(func() bool {
				record, err := store.RemoteStatus().GetRemoteStatus(ctx, childID, "minecraft")
				return err == nil && record.Enforced
			}).WithTimeout(2 * time.Second).Should(BeTrue())

			record, err := store.RemoteStatus().GetRemoteStatus(ctx, childID, "minecraft")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.EnforcementMethod).To(Equal(infra.MethodProcess))
			Expect(record.EnforcedBy).To(Equal(childID))
			Eventually(func() int { return session.Status().Confirmed }).WithTimeout(2 * time.Second).Should(Equal(1))
		})

		It("should override a local rule for the same app", func() {
			Expect(store.Controls().SetAppRule(ctx, familyID, childID, "minecraft", domain.AppRule{Blocked: true})).To(Succeed())
			_, err := store.RemoteStatus().SetRemoteStatus(ctx, childID, "minecraft", true, domain.ReasonRemoteBlock, "Dinner time")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() domain.AppDecision {
				d := session.Status().LastDecision
				if d == nil {
					return domain.AppDecision{}
				}
				return d.Apps["minecraft"]
			}).WithTimeout(2 * time.Second).Should(Equal(domain.AppDecision{
				Active:  true,
				Reason:  domain.ReasonRemoteBlock,
				Message: "Dinner time",
			}))
		})

		It("should lift the block when the parent clears it", func() {
			_, err := store.RemoteStatus().SetRemoteStatus(ctx, childID, "minecraft", true, domain.ReasonRemoteBlock, "")
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() int { return session.Status().RemoteBlocks }).WithTimeout(2 * time.Second).Should(Equal(1))

			_, err = store.RemoteStatus().SetRemoteStatus(ctx, childID, "minecraft", false, domain.ReasonRemoteBlock, "")
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() int { return session.Status().RemoteBlocks }).WithTimeout(2 * time.Second).Should(Equal(0))

			processes.Launch(101, "minecraft")
			sweep()
			Expect(processes.Running("minecraft")).To(BeTrue())
		})
	})

	Describe("Stop", func() {
		It("should clear every rule", func() {
			Expect(session.Start(ctx, domain.EnforcementContext{ChildID: childID, FamilyID: familyID})).To(Succeed())
			Expect(store.Controls().SetAppRule(ctx, familyID, childID, "roblox", domain.AppRule{Blocked: true})).To(Succeed())
			Eventually(func() []string {
				sweep()
				return processes.Killed()
			}).WithTimeout(2 * time.Second).Should(Equal([]string{"roblox"}))

			session.Stop(ctx)
			Expect(session.Status().Started).To(BeFalse())

			processes.Launch(201, "roblox")
			sweep()
			Expect(processes.Running("roblox")).To(BeTrue())
		})
	})
})
