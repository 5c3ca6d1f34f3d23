package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/api"
	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/infra"
	"github.com/eliteGoblin/focusd/child_mon/internal/systemd"
	"github.com/eliteGoblin/focusd/child_mon/internal/usecase"
)

var apiAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enforcement status",
	Long: `Queries the running agent's local API and prints the session, the current
decision and today's usage. Falls back to the last recorded heartbeat when
the agent is not reachable.`,
	RunE: runStatus,
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Show what the blocker is allowed to do",
	Long: `Prints the three permission grants: accessibility (can see other
processes), overlay (can signal them) and battery optimization (runs under
a restarting supervisor). Checks locally when the agent is not running.`,
	RunE: runPermissions,
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, permissionsCmd} {
		c.Flags().StringVar(&apiAddr, "addr", "", "Agent API address (default: api.bind_address)")
	}
}

func apiClient(cfg *config.Config) *api.Client {
	addr := apiAddr
	if addr == "" {
		addr = cfg.API.BindAddress
	}
	return api.NewClient(addr)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("=== childmon Status ===")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := apiClient(cfg).Status(ctx)
	if err != nil {
		red.Println("Agent: NOT REACHABLE")
		printLastHeartbeat(cfg)
		fmt.Println("\nRun 'childmon start' (or start the systemd unit) to enable enforcement.")
		return nil
	}

	s := status.Session
	if s.Started {
		green.Println("Agent: ENFORCING")
	} else {
		yellow.Println("Agent: RUNNING (no active session)")
	}
	fmt.Printf("Version:     %s\n", status.Version)
	fmt.Printf("Device:      %s\n", status.DeviceID)
	fmt.Printf("Child:       %s\n", s.Context.ChildID)
	fmt.Printf("Family:      %s\n", s.Context.FamilyID)
	fmt.Printf("Method:      %s\n", s.EnforcementMethod)
	if !s.LastAppliedAt.IsZero() {
		fmt.Printf("Last apply:  %s ago\n", time.Since(s.LastAppliedAt).Round(time.Second))
	}
	fmt.Printf("Remote blocks: %d (confirmed: %d)\n", s.RemoteBlocks, s.Confirmed)

	fmt.Println()
	cyan.Println("Decision:")
	printDecision(s.LastDecision, red, yellow)

	if len(status.Suspended) > 0 {
		fmt.Println()
		cyan.Println("Suspended:")
		for _, pkg := range status.Suspended {
			fmt.Printf("  - %s\n", pkg)
		}
	}

	if status.Usage != nil {
		fmt.Println()
		cyan.Printf("Usage today (%s, %s):\n", status.Usage.Date, status.Usage.Timezone)
		for _, t := range status.Usage.Totals {
			fmt.Printf("  %-30s %s\n", t.PackageName, formatMillis(t.DurationMs))
		}
		fmt.Printf("  %-30s %s\n", "total", formatMillis(status.Usage.TotalDurationMs))
	}

	cyan.Println("=======================")
	return nil
}

// printLastHeartbeat reports the agent record left in local state.
func printLastHeartbeat(cfg *config.Config) {
	state, err := openState(cfg)
	if err != nil {
		return
	}
	defer state.Close()

	if link, err := state.LoadLink(); err == nil {
		fmt.Printf("Linked child: %s (family %s)\n", link.Context.ChildID, link.Context.FamilyID)
	} else if errors.Is(err, domain.ErrNotLinked) {
		fmt.Println("Linked child: none (run 'childmon link')")
	}

	agent, err := state.LoadAgentState()
	if err != nil {
		return
	}
	fmt.Printf("Last heartbeat: %s ago (pid %d, api %s)\n",
		time.Since(agent.LastHeartbeat).Round(time.Second), agent.PID, agent.APIAddress)
}

func printDecision(d *domain.EnforcementDecision, red, yellow *color.Color) {
	if d == nil || d.IsEmpty() {
		fmt.Println("  nothing blocked")
		return
	}
	if d.Global.Active {
		red.Print("  GLOBAL ")
		fmt.Printf("%s (%s)\n", d.Global.Message, d.Global.Reason)
	}
	for _, pkg := range sortedPackages(d.Apps) {
		rule := d.Apps[pkg]
		if rule.Reason == domain.ReasonRemoteBlock {
			red.Printf("  %-30s ", pkg)
		} else {
			yellow.Printf("  %-30s ", pkg)
		}
		fmt.Printf("%s (%s)\n", rule.Message, rule.Reason)
	}
}

func runPermissions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	perms, err := apiClient(cfg).Permissions(ctx)
	source := "agent"
	if err != nil {
		blocker := infra.NewProcessBlocker(infra.NewProcessManager(), blockerConfig(cfg), systemd.Supervised, zap.NewNop())
		perms = usecase.NewPermissionChecker(blocker, zap.NewNop()).Status(ctx)
		source = "local check"
	}

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Printf("=== Permissions (%s) ===\n", source)
	printGrant("Accessibility", "can see other processes", perms.Accessibility)
	printGrant("Overlay", "can suspend or kill them", perms.Overlay)
	printGrant("Battery optimization", "restarted by systemd watchdog", perms.BatteryOptimization)
	return nil
}

func printGrant(name, meaning string, granted bool) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Printf("%-22s ", name)
	if granted {
		green.Print("GRANTED")
	} else {
		red.Print("MISSING")
	}
	fmt.Printf("  (%s)\n", meaning)
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
