package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pergit/pergit/internal/workspace"
)

var listChangesCmd = &cobra.Command{
	Use:   "list-changes",
	Short: "List the commit subjects since base",
	Long:  "Print the subjects of the commits between base and HEAD, oldest first. This is the description a new review changelist would carry.",
	Args:  cobra.NoArgs,
	RunE:  runListChanges,
}

var listChangesBase string

func init() {
	listChangesCmd.Flags().StringVarP(&listChangesBase, "base", "b", "HEAD~1", "Git revision the list starts after")
	rootCmd.AddCommand(listChangesCmd)
}

func runListChanges(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	ws, err := workspace.Open(cwd)
	if err != nil {
		return err
	}
	subjects, err := ws.Subjects(listChangesBase)
	if err != nil {
		return err
	}
	for i, subject := range subjects {
		fmt.Printf("%d. %s\n", i+1, subject)
	}
	return nil
}
