package main

import (
	"github.com/spf13/cobra"

	"github.com/pergit/pergit/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync <changelist|head>",
	Short: "Sync the workspace to a changelist and commit the result",
	Long: "Bring the workspace to the given submitted changelist (or \"head\" for\n" +
		"the newest one) and record it as a git commit. Both sides must be\n" +
		"clean; an interrupted run is resumed from the last recorded\n" +
		"changelist on the next invocation.",
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var (
	syncForce  bool
	syncDryRun bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Overwrite writable files that block the sync")
	syncCmd.Flags().BoolVarP(&syncDryRun, "dry-run", "n", false, "Report what would be synced without changing anything")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	t, err := newTool(syncDryRun)
	if err != nil {
		return err
	}
	defer t.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	return t.syncer.Sync(ctx, syncer.Request{
		Change: args[0],
		Force:  syncForce,
		DryRun: syncDryRun,
	})
}
