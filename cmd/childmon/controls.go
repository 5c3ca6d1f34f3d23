package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/schema"
	redisstore "github.com/eliteGoblin/focusd/child_mon/internal/store/redis"
)

var importPrune bool

var controlsCmd = &cobra.Command{
	Use:   "controls",
	Short: "Read or write a child's controls in the remote store",
	Long:  `Parent-side and development tooling for the app controls and remote blocks a child's agent follows.`,
}

var controlsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Write a controls document to the store",
	Long: `Validates a controls document and replaces the child's controls with it.
Every entry under "remoteStatus" is written as a remote status record. With
--prune, remote status records missing from the document are deleted.

Running agents pick the change up immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runControlsImport,
}

var controlsShowCmd = &cobra.Command{
	Use:   "show <familyId> <childId>",
	Short: "Print a child's controls and remote blocks",
	Args:  cobra.ExactArgs(2),
	RunE:  runControlsShow,
}

func init() {
	controlsImportCmd.Flags().BoolVar(&importPrune, "prune", false, "Delete remote status records not in the document")
	controlsCmd.AddCommand(controlsImportCmd)
	controlsCmd.AddCommand(controlsShowCmd)
}

func openStore() (*redisstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, _ := zap.NewDevelopment()
	return redisstore.Open(cfg.Redis, logger)
}

func runControlsImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	doc, err := schema.ParseControlsDocument(raw)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Controls().ReplaceControls(ctx, doc.FamilyID, doc.ChildID, doc.Controls()); err != nil {
		return fmt.Errorf("failed to write controls: %w", err)
	}
	fmt.Printf("Wrote controls for child %s: %d app rules\n", doc.ChildID, len(doc.Apps))

	remote := store.RemoteStatus()
	packages := make([]string, 0, len(doc.RemoteStatus))
	for pkg := range doc.RemoteStatus {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)

	for _, pkg := range packages {
		entry := doc.RemoteStatus[pkg]
		record, err := remote.SetRemoteStatus(ctx, doc.ChildID, pkg, entry.IsBlocked, entry.Reason, entry.Message)
		if err != nil {
			return fmt.Errorf("failed to write remote status for %s: %w", pkg, err)
		}
		fmt.Printf("  remote %-30s blocked=%t version=%s\n", pkg, record.IsBlocked, record.StatusVersion())
	}

	if importPrune {
		existing, err := remote.ListRemoteStatus(ctx, doc.ChildID)
		if err != nil {
			return fmt.Errorf("failed to list remote status: %w", err)
		}
		for _, record := range existing {
			if _, keep := doc.RemoteStatus[record.PackageName]; keep {
				continue
			}
			if err := remote.DeleteRemoteStatus(ctx, doc.ChildID, record.PackageName); err != nil {
				return fmt.Errorf("failed to delete remote status for %s: %w", record.PackageName, err)
			}
			fmt.Printf("  removed %s\n", record.PackageName)
		}
	}

	return nil
}

func runControlsShow(cmd *cobra.Command, args []string) error {
	familyID, childID := args[0], args[1]

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	controls, err := store.Controls().GetControlsOnce(ctx, familyID, childID)
	if err != nil {
		return fmt.Errorf("failed to read controls: %w", err)
	}
	records, err := store.RemoteStatus().ListRemoteStatus(ctx, childID)
	if err != nil {
		return fmt.Errorf("failed to read remote status: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Printf("=== Controls for %s/%s ===\n", familyID, childID)
	fmt.Printf("Daily limit: %s\n", formatLimit(controls.Meta.GlobalDailyLimitMillis))
	fmt.Printf("Grace:       %s\n", formatMillis(controls.Meta.GraceMillis))
	if controls.Meta.Timezone != nil {
		fmt.Printf("Timezone:    %s\n", *controls.Meta.Timezone)
	}

	fmt.Println()
	cyan.Println("Apps:")
	pkgs := make([]string, 0, len(controls.Apps))
	for pkg := range controls.Apps {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	for _, pkg := range pkgs {
		rule := controls.Apps[pkg]
		fmt.Printf("  %-30s blocked=%t limit=%s\n", pkg, rule.Blocked, formatLimit(rule.DailyLimitMillis))
	}

	fmt.Println()
	cyan.Println("Remote status:")
	for _, r := range records {
		line := fmt.Sprintf("  %-30s %s (%s)", r.PackageName, r.Message, r.Reason)
		if r.IsBlocked {
			red.Print(line)
		} else {
			fmt.Print(line)
		}
		if r.Enforced {
			fmt.Printf(" enforced %s via %s", r.EnforcedAt.Format(time.RFC3339), r.EnforcementMethod)
		}
		fmt.Println()
	}
	return nil
}

func formatLimit(ms *int64) string {
	if ms == nil || *ms < 0 {
		return "none"
	}
	return formatMillis(*ms)
}
