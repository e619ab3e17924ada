// Package workspace wraps the git side of a synced Perforce client:
// repository discovery, cleanliness checks, the sync marker commits and
// the base..HEAD queries the edit and review commands are built on.
//
// All operations run in-process on go-git; no git binary is required.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ErrNoWorkspace means no enclosing git repository was found.
var ErrNoWorkspace = errors.New("no git workspace found")

// markerRe matches the subject of a sync marker commit. The changelist
// appears twice and both occurrences must agree.
var markerRe = regexp.MustCompile(`(\d+): p4 sync //\.\.\.@(\d+)`)

// Workspace is an open git repository with a worktree.
type Workspace struct {
	repo *git.Repository
	wt   *git.Worktree
	root string
	log  *slog.Logger
}

// Open discovers the git repository enclosing dir, walking up the
// directory tree the way git itself does, and returns it with its
// worktree root resolved.
func Open(dir string) (*Workspace, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w under %s", ErrNoWorkspace, dir)
		}
		return nil, fmt.Errorf("opening git workspace: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree: %w", err)
	}

	return &Workspace{
		repo: repo,
		wt:   wt,
		root: wt.Filesystem.Root(),
		log:  slog.Default().With("component", "workspace"),
	}, nil
}

// Root returns the worktree root directory. Child processes run here.
func (w *Workspace) Root() string {
	return w.root
}

// IsClean reports whether the worktree has no pending local changes,
// staged or not.
func (w *Workspace) IsClean() (bool, error) {
	status, err := w.wt.Status()
	if err != nil {
		return false, fmt.Errorf("reading worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// AddAll stages every modification, addition and deletion under the
// worktree root.
func (w *Workspace) AddAll() error {
	if err := w.wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

// Commit records the staged state with the given message, allowing an
// empty commit so a no-op sync still leaves a traceable marker. The
// author comes from git configuration, like the git CLI.
func (w *Workspace) Commit(msg string) (string, error) {
	hash, err := w.wt.Commit(msg, &git.CommitOptions{AllowEmptyCommits: true})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	w.log.Debug("created commit", "hash", hash.String(), "subject", msg)
	return hash.String(), nil
}

// LastCommitSubject returns the subject line of the HEAD commit, or ""
// on an unborn HEAD: a fresh repository simply has no last sync.
func (w *Workspace) LastCommitSubject() (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}

	commit, err := w.repo.CommitObject(head.Hash())
	if err != nil {
		return "", fmt.Errorf("reading HEAD commit: %w", err)
	}

	subject, _, _ := strings.Cut(commit.Message, "\n")
	return subject, nil
}

// LastSyncedChange recovers the changelist recorded by the most recent
// sync marker commit. This is how sync state survives between runs:
// in history, not in a separate file. ok is false when HEAD is unborn
// or the subject is not a marker.
func (w *Workspace) LastSyncedChange() (change int, ok bool, err error) {
	subject, err := w.LastCommitSubject()
	if err != nil || subject == "" {
		return 0, false, err
	}

	m := markerRe.FindStringSubmatch(subject)
	if m == nil || m[1] != m[2] {
		return 0, false, nil
	}

	change, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, false, nil
	}
	return change, true, nil
}

// Move is a file rename between two revisions.
type Move struct {
	From string
	To   string
}

// Changes lists the files that differ between a base revision and
// HEAD, bucketed by what happened to them.
type Changes struct {
	Adds  []string
	Mods  []string
	Dels  []string
	Moves []Move
}

// Empty reports whether no files changed.
func (c *Changes) Empty() bool {
	return len(c.Adds) == 0 && len(c.Mods) == 0 && len(c.Dels) == 0 && len(c.Moves) == 0
}

// ChangedFiles diffs base against HEAD with rename detection and
// buckets the results. base is any revision specifier git itself would
// accept (branch, tag, HEAD~1, hash).
func (w *Workspace) ChangedFiles(ctx context.Context, base string) (*Changes, error) {
	baseTree, err := w.treeAt(base)
	if err != nil {
		return nil, err
	}
	headTree, err := w.treeAt("HEAD")
	if err != nil {
		return nil, err
	}

	diff, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..HEAD: %w", base, err)
	}

	changes := &Changes{}
	for _, ch := range diff {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("classifying change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			changes.Adds = append(changes.Adds, ch.To.Name)
		case merkletrie.Delete:
			changes.Dels = append(changes.Dels, ch.From.Name)
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				changes.Moves = append(changes.Moves, Move{From: ch.From.Name, To: ch.To.Name})
			} else {
				changes.Mods = append(changes.Mods, ch.To.Name)
			}
		default:
			return nil, fmt.Errorf("unknown change action %v for %q", action, ch.To.Name)
		}
	}
	return changes, nil
}

// Subjects returns the subject lines of base..HEAD, oldest first.
func (w *Workspace) Subjects(base string) ([]string, error) {
	baseHash, err := w.resolve(base)
	if err != nil {
		return nil, err
	}

	head, err := w.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	headCommit, err := w.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}

	iter := object.NewCommitPreorderIter(headCommit, nil, []plumbing.Hash{baseHash})
	var subjects []string
	err = iter.ForEach(func(c *object.Commit) error {
		subject, _, _ := strings.Cut(c.Message, "\n")
		subjects = append(subjects, subject)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s..HEAD: %w", base, err)
	}

	slices.Reverse(subjects)
	return subjects, nil
}

func (w *Workspace) resolve(rev string) (plumbing.Hash, error) {
	hash, err := w.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	return *hash, nil
}

func (w *Workspace) treeAt(rev string) (*object.Tree, error) {
	hash, err := w.resolve(rev)
	if err != nil {
		return nil, err
	}
	commit, err := w.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", rev, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", rev, err)
	}
	return tree, nil
}
