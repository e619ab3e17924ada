package syncer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pergit/pergit/internal/p4"
)

// ReviewNew creates a pending changelist from the commits since base,
// opens the changed files into it, marks it for review and shelves it
// so Swarm picks it up. The changelist description is built from the
// commit subjects, oldest first.
func (s *Syncer) ReviewNew(ctx context.Context, base string) error {
	subjects, err := s.ws.Subjects(base)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		s.printf("No commits between %s and HEAD\n", base)
		return nil
	}
	changes, err := s.ws.ChangedFiles(ctx, base)
	if err != nil {
		return err
	}
	if changes.Empty() {
		s.printf("No changes between %s and HEAD\n", base)
		return nil
	}

	changelist, err := s.client.CreateChangelist(ctx, strings.Join(subjects, "\n"))
	if err != nil {
		return err
	}
	s.printf("Created changelist %s\n", changelist)

	if err := s.openChanges(ctx, changelist, changes); err != nil {
		return err
	}
	if s.client.DryRun() {
		s.printf("Would create Swarm review for changelist %s\n", changelist)
		return nil
	}
	if err := s.markForReview(ctx, changelist); err != nil {
		return err
	}
	if err := s.client.Shelve(ctx, changelist); err != nil {
		return err
	}
	s.printf("Created Swarm review for changelist %s\n", changelist)
	return nil
}

// ReviewUpdate refreshes an existing review: the git-side changes
// since base are reopened into the changelist and its shelf is
// replaced.
func (s *Syncer) ReviewUpdate(ctx context.Context, changelist, base string) error {
	if _, err := strconv.Atoi(changelist); err != nil {
		return fmt.Errorf("invalid changelist %q: expected a pending changelist number", changelist)
	}

	changes, err := s.ws.ChangedFiles(ctx, base)
	if err != nil {
		return err
	}
	if changes.Empty() {
		s.printf("No changes between %s and HEAD\n", base)
		return nil
	}
	if err := s.openChanges(ctx, changelist, changes); err != nil {
		return err
	}
	if s.client.DryRun() {
		s.printf("Would update Swarm review for changelist %s\n", changelist)
		return nil
	}
	if err := s.markForReview(ctx, changelist); err != nil {
		return err
	}
	if err := s.client.Shelve(ctx, changelist); err != nil {
		return err
	}
	s.printf("Updated Swarm review for changelist %s\n", changelist)
	return nil
}

// markForReview ensures the changelist description carries the #review
// keyword Swarm watches for.
func (s *Syncer) markForReview(ctx context.Context, changelist string) error {
	spec, err := s.client.ChangeSpec(ctx, changelist)
	if err != nil {
		return err
	}
	updated, changed := p4.AddReviewKeyword(spec)
	if !changed {
		s.printf("Changelist %s is already marked for review\n", changelist)
		return nil
	}
	_, err = s.client.SubmitChangeSpec(ctx, updated)
	return err
}
