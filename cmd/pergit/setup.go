package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pergit/pergit/internal/config"
	"github.com/pergit/pergit/internal/journal"
	"github.com/pergit/pergit/internal/p4"
	"github.com/pergit/pergit/internal/run"
	"github.com/pergit/pergit/internal/syncer"
	"github.com/pergit/pergit/internal/workspace"
)

// tool bundles what a subcommand needs: the enclosing git workspace
// and a Syncer wired to it per the workspace config.
type tool struct {
	ws      *workspace.Workspace
	syncer  *syncer.Syncer
	journal *journal.Logger
}

// newTool discovers the workspace enclosing the current directory,
// loads its .pergit.yaml and wires up the workflow engine. With dryRun
// the Perforce client echoes mutating commands instead of running them.
func newTool(dryRun bool) (*tool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Open(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Path(ws.Root()))
	if err != nil {
		return nil, err
	}

	var jr *journal.Logger
	if cfg.JournalEnabled() {
		jr, err = journal.NewLogger(journal.Path(ws.Root()))
		if err != nil {
			// A broken journal must never block a sync.
			slog.Warn("journal disabled", "error", err)
			jr = nil
		}
	}

	runner := run.New(ws.Root(), run.WithGrace(cfg.Grace.Duration))
	client := p4.NewClient(runner,
		p4.WithBinary(cfg.P4),
		p4.WithDepot(cfg.Depot),
		p4.WithDryRun(dryRun),
	)
	s := syncer.New(ws, client,
		syncer.WithJournal(jr),
		syncer.WithColor(colorEnabled(cfg.Color)),
	)
	return &tool{ws: ws, syncer: s, journal: jr}, nil
}

func (t *tool) close() {
	if t.journal != nil {
		t.journal.Close()
	}
}

// signalContext derives a context that is cancelled on SIGINT or
// SIGTERM, so an interrupted command gives its child the
// terminate-then-kill treatment instead of orphaning it.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// colorEnabled resolves the configured color mode against the terminal.
func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}
