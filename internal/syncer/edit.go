package syncer

import (
	"context"
	"strings"

	"github.com/pergit/pergit/internal/workspace"
)

// EditRequest describes one edit invocation.
type EditRequest struct {
	// Base is the git revision the current work is diffed against.
	Base string
	// Changelist receives the opened files: "default", the number of a
	// pending changelist, or "new" to create one described by the
	// commit subjects since Base.
	Changelist string
}

// Edit mirrors the git-side changes between base and HEAD into a
// Perforce changelist: additions are opened for add, modifications for
// edit, deletions for delete, and renames as a delete/add pair.
// Modified files already opened elsewhere are reopened into the target
// changelist.
func (s *Syncer) Edit(ctx context.Context, req EditRequest) error {
	changes, err := s.ws.ChangedFiles(ctx, req.Base)
	if err != nil {
		return err
	}
	if changes.Empty() {
		s.printf("No changes between %s and HEAD\n", req.Base)
		return nil
	}

	changelist := req.Changelist
	if changelist == "new" {
		subjects, err := s.ws.Subjects(req.Base)
		if err != nil {
			return err
		}
		changelist, err = s.client.CreateChangelist(ctx, strings.Join(subjects, "\n"))
		if err != nil {
			return err
		}
		s.printf("Created changelist %s\n", changelist)
	}
	return s.openChanges(ctx, changelist, changes)
}

// openChanges opens a set of git-side file changes in a changelist.
// Added files are new to the depot and open directly; only
// modifications consult their existing open state first.
func (s *Syncer) openChanges(ctx context.Context, changelist string, changes *workspace.Changes) error {
	for _, path := range changes.Adds {
		if err := s.client.Add(ctx, changelist, path); err != nil {
			return err
		}
	}
	for _, path := range changes.Mods {
		if err := s.openForEdit(ctx, changelist, path); err != nil {
			return err
		}
	}
	for _, mv := range changes.Moves {
		if err := s.client.Delete(ctx, changelist, mv.From); err != nil {
			return err
		}
		if err := s.client.Add(ctx, changelist, mv.To); err != nil {
			return err
		}
	}
	for _, path := range changes.Dels {
		if err := s.client.Delete(ctx, changelist, path); err != nil {
			return err
		}
	}
	s.log.Info("changes opened", "changelist", changelist,
		"adds", len(changes.Adds), "mods", len(changes.Mods),
		"dels", len(changes.Dels), "moves", len(changes.Moves))
	return nil
}

func (s *Syncer) openForEdit(ctx context.Context, changelist, path string) error {
	status, err := s.client.FileChangelist(ctx, path)
	if err != nil {
		return err
	}
	switch status {
	case "":
		return s.client.Edit(ctx, changelist, path)
	case changelist:
		return nil
	default:
		return s.client.Reopen(ctx, changelist, path)
	}
}
