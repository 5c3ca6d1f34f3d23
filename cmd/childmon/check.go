package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
	"github.com/eliteGoblin/focusd/child_mon/internal/schema"
)

var checkCmd = &cobra.Command{
	Use:   "check <fixture.json>",
	Short: "Evaluate a controls fixture offline",
	Long: `Validates a fixture (controls, usage snapshot and remote blocks), runs the
evaluator on it and prints the decision with its fingerprint. When the
fixture has an "expect" decision, the command fails on a mismatch.

Example:
  childmon check test/fixtures/daily_limit.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}
	fixture, err := schema.ParseCheckFixture(raw)
	if err != nil {
		return err
	}

	decision := policy.Evaluate(fixture.Inputs())
	fingerprint := policy.Fingerprint(decision)

	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("ENFORCEMENT CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if fixture.Description != "" {
		fmt.Printf("Fixture:     %s\n", fixture.Description)
	}
	fmt.Printf("Apps:        %d rules\n", len(fixture.Controls.Apps))
	fmt.Printf("Remote:      %d blocks\n", len(fixture.RemoteBlocks))
	if fixture.Usage != nil {
		fmt.Printf("Usage:       %s total\n", formatMillis(fixture.Usage.TotalDurationMs))
	}
	fmt.Printf("Fingerprint: %s\n", fingerprint)
	fmt.Println()

	cyan.Println("Decision:")
	printDecision(&decision, red, yellow)
	fmt.Println()

	if fixture.Expect != nil {
		want := policy.Fingerprint(*fixture.Expect)
		cyan.Print("Expected:    ")
		if want != fingerprint {
			red.Println("MISMATCH")
			printDecision(fixture.Expect, red, yellow)
			fmt.Println()
			return fmt.Errorf("decision does not match expected (got %s, want %s)", fingerprint[:12], want[:12])
		}
		green.Println("MATCH")
		fmt.Println()
	}

	return nil
}

func sortedPackages(apps map[string]domain.AppDecision) []string {
	out := make([]string, 0, len(apps))
	for pkg := range apps {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}
