//go:build integration

package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
	"github.com/eliteGoblin/focusd/child_mon/internal/schema"
)

var _ = Describe("Check fixtures", func() {
	paths, err := filepath.Glob(filepath.Join("..", "fixtures", "*.json"))
	if err != nil {
		panic(err)
	}

	for _, path := range paths {
		path := path
		if filepath.Base(path) == "controls_document.json" {
			continue
		}

		It("should match the expected decision for "+filepath.Base(path), func() {
			raw, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())

			fixture, err := schema.ParseCheckFixture(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(fixture.Expect).NotTo(BeNil())

			decision := policy.Evaluate(fixture.Inputs())
			Expect(decision).To(Equal(*fixture.Expect))
			Expect(policy.Fingerprint(decision)).To(Equal(policy.Fingerprint(*fixture.Expect)))
		})
	}

	It("should accept the sample controls document", func() {
		raw, err := os.ReadFile(filepath.Join("..", "fixtures", "controls_document.json"))
		Expect(err).NotTo(HaveOccurred())

		doc, err := schema.ParseControlsDocument(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Controls().Apps).To(HaveLen(2))
		Expect(doc.RemoteStatus).To(HaveKey("discord"))
	})
})
