package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/child_mon/internal/config"
	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

var (
	linkChild  string
	linkFamily string
	linkParent string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link this device to a child",
	Long: `Stores the child and family ids in the encrypted local state. The agent
enforces this child's controls on the next start. --family may be omitted
when --parent is given; the parent id is then used as the family id.`,
	RunE: runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Forget the linked child",
	Long:  `Removes the child context from local state. The device id is kept.`,
	RunE:  runUnlink,
}

func init() {
	linkCmd.Flags().StringVar(&linkChild, "child", "", "Child id (required)")
	linkCmd.Flags().StringVar(&linkFamily, "family", "", "Family id")
	linkCmd.Flags().StringVar(&linkParent, "parent", "", "Parent id")
	_ = linkCmd.MarkFlagRequired("child")
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	state, err := openState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	linked, err := state.SaveLink(domain.EnforcementContext{
		ChildID:  linkChild,
		FamilyID: linkFamily,
		ParentID: linkParent,
	})
	if err != nil {
		return fmt.Errorf("failed to link device: %w", err)
	}

	fmt.Printf("Linked device %s\n", linked.DeviceID)
	fmt.Printf("  child:  %s\n", linked.Context.ChildID)
	fmt.Printf("  family: %s\n", linked.Context.FamilyID)
	fmt.Println("\nRestart the agent to apply.")
	return nil
}

func runUnlink(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	state, err := openState(cfg)
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.ClearLink(); err != nil {
		return fmt.Errorf("failed to unlink device: %w", err)
	}
	fmt.Println("Device unlinked.")
	return nil
}
