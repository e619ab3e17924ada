package main

import (
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Create or update a Swarm review from the git-side changes",
}

var (
	reviewBase   string
	reviewDryRun bool
)

var reviewNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a shelved changelist marked for Swarm review",
	Long: "Create a pending changelist described by the commit subjects since\n" +
		"base, open the changed files into it, add the #review keyword and\n" +
		"shelve it so Swarm starts a review.",
	Args: cobra.NoArgs,
	RunE: runReviewNew,
}

var reviewUpdateCmd = &cobra.Command{
	Use:   "update <changelist>",
	Short: "Re-shelve the changes of an existing review",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewUpdate,
}

func init() {
	reviewCmd.PersistentFlags().StringVarP(&reviewBase, "base", "b", "HEAD~1", "Git revision the work is diffed against")
	reviewCmd.PersistentFlags().BoolVarP(&reviewDryRun, "dry-run", "n", false, "Echo the p4 commands without running them")
	reviewCmd.AddCommand(reviewNewCmd, reviewUpdateCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runReviewNew(cmd *cobra.Command, args []string) error {
	t, err := newTool(reviewDryRun)
	if err != nil {
		return err
	}
	defer t.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	return t.syncer.ReviewNew(ctx, reviewBase)
}

func runReviewUpdate(cmd *cobra.Command, args []string) error {
	t, err := newTool(reviewDryRun)
	if err != nil {
		return err
	}
	defer t.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	return t.syncer.ReviewUpdate(ctx, args[0], reviewBase)
}
