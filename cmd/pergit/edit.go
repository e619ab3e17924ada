package main

import (
	"github.com/spf13/cobra"

	"github.com/pergit/pergit/internal/syncer"
)

var editCmd = &cobra.Command{
	Use:   "edit <changelist|new>",
	Short: "Open the git-side changes in a Perforce changelist",
	Long: "Diff the base revision against HEAD and open every changed file in\n" +
		"the given pending changelist: additions for add, modifications for\n" +
		"edit, deletions for delete, renames as a delete/add pair. \"new\"\n" +
		"creates a changelist described by the commit subjects since base.",
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

var (
	editBase   string
	editDryRun bool
)

func init() {
	editCmd.Flags().StringVarP(&editBase, "base", "b", "HEAD~1", "Git revision the work is diffed against")
	editCmd.Flags().BoolVarP(&editDryRun, "dry-run", "n", false, "Echo the p4 commands without running them")
	rootCmd.AddCommand(editCmd)
}

func runEdit(cmd *cobra.Command, args []string) error {
	t, err := newTool(editDryRun)
	if err != nil {
		return err
	}
	defer t.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	return t.syncer.Edit(ctx, syncer.EditRequest{
		Base:       editBase,
		Changelist: args[0],
	})
}
