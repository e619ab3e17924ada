// Package syncer implements the pergit workflows. Sync pulls a depot
// changelist into the git mirror and commits it; Edit mirrors git-side
// changes back into a pending Perforce changelist; the review
// workflows push a changelist into Swarm.
//
// Operator-facing progress goes to the configured output writer, while
// slog carries the diagnostic trail.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pergit/pergit/internal/journal"
	"github.com/pergit/pergit/internal/p4"
	"github.com/pergit/pergit/internal/run"
	"github.com/pergit/pergit/internal/stats"
	"github.com/pergit/pergit/internal/workspace"
)

// Abort reasons the CLI can distinguish.
var (
	// ErrDirtyWorkspace means one side of the mirror has local changes.
	ErrDirtyWorkspace = errors.New("workspace is not clean")

	// ErrClobbered means writable files blocked the sync and force was
	// not given.
	ErrClobbered = errors.New("sync blocked by writable files")
)

// Syncer coordinates the git workspace and the Perforce client.
type Syncer struct {
	ws      *workspace.Workspace
	client  *p4.Client
	journal *journal.Logger
	out     io.Writer
	color   bool
	log     *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithJournal records every sync run to the given journal.
func WithJournal(l *journal.Logger) Option {
	return func(s *Syncer) {
		s.journal = l
	}
}

// WithOutput sets the writer progress is reported to.
func WithOutput(w io.Writer) Option {
	return func(s *Syncer) {
		if w != nil {
			s.out = w
		}
	}
}

// WithColor enables colored file labels in progress output.
func WithColor(enabled bool) Option {
	return func(s *Syncer) {
		s.color = enabled
	}
}

// WithLogger sets the logger for workflow diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a Syncer over an open workspace and Perforce client.
func New(ws *workspace.Workspace, client *p4.Client, opts ...Option) *Syncer {
	s := &Syncer{
		ws:     ws,
		client: client,
		out:    os.Stdout,
		log:    slog.Default().With("component", "syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one sync invocation.
type Request struct {
	// Change selects the target changelist: a number, or "head" for
	// the newest submitted change in the depot.
	Change string
	// Force overwrites writable files that block the sync.
	Force bool
	// DryRun stops after reporting what a sync would do.
	DryRun bool
}

// Sync brings the workspace to the requested changelist and commits
// the result as a marker the next run can pick up. A workspace already
// at the target is left untouched.
func (s *Syncer) Sync(ctx context.Context, req Request) (err error) {
	started := time.Now()
	runID := uuid.NewString()
	log := s.log.With("run_id", runID)

	entry := journal.Entry{RunID: runID, Forced: req.Force}
	defer func() {
		entry.ElapsedMS = time.Since(started).Milliseconds()
		if entry.Outcome == "" {
			switch {
			case err == nil:
				entry.Outcome = journal.OutcomeSuccess
			case errors.Is(err, run.ErrInterrupted):
				entry.Outcome = journal.OutcomeInterrupted
			default:
				entry.Outcome = journal.OutcomeAborted
			}
		}
		if err != nil {
			entry.Error = err.Error()
		}
		s.record(entry)
	}()

	change, err := s.resolveChange(ctx, req.Change)
	if err != nil {
		return err
	}
	entry.Change = change
	log = log.With("change", change)
	log.Info("sync started", "force", req.Force, "dry_run", req.DryRun)

	// Both sides of the mirror must be clean before anything moves.
	clean, err := s.ws.IsClean()
	if err != nil {
		return err
	}
	if !clean {
		s.printf("git status shows that workspace is not clean, aborting\n")
		return ErrDirtyWorkspace
	}
	opened, err := s.client.Opened(ctx)
	if err != nil {
		return err
	}
	if len(opened) > 0 {
		for _, line := range opened {
			s.printf("%s\n", line)
		}
		s.printf("p4 opened shows that workspace is not clean, aborting\n")
		return ErrDirtyWorkspace
	}

	last, known, err := s.ws.LastSyncedChange()
	if err != nil {
		return err
	}
	if known && last == change {
		s.printf("Changelist of last commit is %d, nothing to do\n", last)
		entry.Outcome = journal.OutcomeNothingToDo
		return nil
	}

	if req.DryRun {
		count, err := s.client.SyncPreviewCount(ctx, change)
		if err != nil {
			return err
		}
		entry.Outcome = journal.OutcomeDryRun
		entry.Files = count
		if count == 0 {
			s.printf("All files are up to date\n")
			return nil
		}
		s.printf("Would sync %d files to changelist %d\n", count, change)
		return nil
	}

	// A previous run may have been interrupted between changelists;
	// restore the recorded state before moving to the target.
	if known {
		if _, err := s.syncPass(ctx, log, last, req.Force); err != nil {
			return err
		}
	}
	totals, err := s.syncPass(ctx, log, change, req.Force)
	if err != nil {
		return err
	}
	entry.Files = totals.files
	entry.Bytes = totals.bytes
	entry.Clobbered = totals.clobbered

	clean, err = s.ws.IsClean()
	if err != nil {
		return err
	}
	if !clean {
		if err := s.ws.AddAll(); err != nil {
			return err
		}
	}
	hash, err := s.ws.Commit(fmt.Sprintf("%d: p4 sync //...@%d", change, change))
	if err != nil {
		return err
	}
	entry.Commit = hash

	log.Info("workspace synced", "files", totals.files, "bytes", totals.bytes, "commit", hash)
	s.printf("Finished with success\n")
	return nil
}

// passTotals carries what one sync pass actually moved.
type passTotals struct {
	files     int
	bytes     int64
	clobbered int
}

// syncPass previews, streams and reconciles a single sync to change.
func (s *Syncer) syncPass(ctx context.Context, log *slog.Logger, change int, force bool) (*passTotals, error) {
	count, err := s.client.SyncPreviewCount(ctx, change)
	if err != nil {
		s.printf("Failed to sync files from perforce\n")
		return nil, err
	}
	if count == 0 {
		s.printf("All files are up to date\n")
		return &passTotals{}, nil
	}
	s.printf("Syncing %d files\n", count)
	log.Info("sync pass started", "pass_change", change, "files", count)

	agg := stats.New(count, stats.WithOutput(s.out), stats.WithColor(s.color))
	proc, err := s.client.StartSync(ctx, change)
	if err != nil {
		return nil, err
	}
	res, err := s.consume(proc, agg)
	if err != nil {
		return nil, err
	}
	agg.Report()

	files, bytes := agg.Effective()
	totals := &passTotals{files: files, bytes: bytes, clobbered: agg.Clobbered()}
	if res.ExitCode == 0 {
		return totals, nil
	}

	// Non-zero exit: writable-file collisions are recoverable, anything
	// else is fatal and surfaced verbatim.
	writable := p4.WritableFiles(res.Stderr)
	s.printf("Found %d writable files\n", len(writable))
	if len(writable) == 0 {
		for _, line := range res.Stderr {
			s.printf("%s\n", line)
		}
		return nil, fmt.Errorf("p4 sync exited with code %d", res.ExitCode)
	}
	if !force {
		s.printf("Leaving files as is, use --force to force sync\n")
		for _, path := range writable {
			s.printf("%s\n", path)
		}
		return nil, ErrClobbered
	}
	for _, path := range writable {
		if err := s.forceSync(ctx, log, path, change); err != nil {
			return nil, err
		}
	}
	return totals, nil
}

// forceSync overwrites one writable file at the target change.
func (s *Syncer) forceSync(ctx context.Context, log *slog.Logger, path string, change int) error {
	agg := stats.New(-1, stats.WithOutput(s.out), stats.WithColor(s.color))
	proc, err := s.client.StartForceSyncFile(ctx, path, change)
	if err != nil {
		return err
	}
	res, err := s.consume(proc, agg)
	if err != nil {
		return err
	}
	agg.Report()
	if res.ExitCode != 0 {
		return fmt.Errorf("forced sync of %s exited with code %d", path, res.ExitCode)
	}
	log.Info("clobbered file overwritten", "path", path)
	return nil
}

// consume feeds every streamed line through the aggregator, waits for
// the child and reports its elapsed time.
func (s *Syncer) consume(proc *run.Proc, agg *stats.Aggregator) (*run.Result, error) {
	for ln := range proc.Lines() {
		agg.Observe(p4.Classify(ln.Text))
	}
	res, err := proc.Wait()
	if err != nil {
		return nil, err
	}
	s.printf("Elapsed time is %s\n", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// resolveChange turns the CLI selector into a changelist number.
func (s *Syncer) resolveChange(ctx context.Context, sel string) (int, error) {
	if strings.EqualFold(sel, "head") {
		change, err := s.client.LatestChange(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolving head: %w", err)
		}
		s.printf("head is changelist %d\n", change)
		return change, nil
	}
	change, err := strconv.Atoi(sel)
	if err != nil || change <= 0 {
		return 0, fmt.Errorf("invalid changelist %q: expected a number or \"head\"", sel)
	}
	return change, nil
}

func (s *Syncer) record(entry journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Log(entry); err != nil {
		s.log.Warn("journal write failed", "error", err)
	}
}

func (s *Syncer) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
