package workspace

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

func initRepo(t *testing.T) (*Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg.User.Name = "pergit test"
	cfg.User.Email = "pergit@example.com"
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	ws, err := Open(dir)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	return ws, dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func commitAll(t *testing.T, ws *Workspace, msg string) string {
	t.Helper()
	if err := ws.AddAll(); err != nil {
		t.Fatalf("stage: %v", err)
	}
	hash, err := ws.Commit(msg)
	if err != nil {
		t.Fatalf("commit %q: %v", msg, err)
	}
	return hash
}

func assertStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d entries, got %d: %v", what, len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d]: expected %q, got %q", what, i, want[i], got[i])
		}
	}
}

func TestOpenFindsRepositoryFromSubdirectory(t *testing.T) {
	ws, dir := initRepo(t)
	sub := filepath.Join(dir, "src", "deep")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	nested, err := Open(sub)
	if err != nil {
		t.Fatalf("open from subdirectory: %v", err)
	}

	want, _ := filepath.EvalSymlinks(ws.Root())
	got, _ := filepath.EvalSymlinks(nested.Root())
	if got != want {
		t.Fatalf("expected root %q, got %q", want, got)
	}
}

func TestOpenWithoutRepository(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, ErrNoWorkspace) {
		t.Fatalf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestIsCleanReflectsWorktreeState(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\n")
	commitAll(t, ws, "initial")

	clean, err := ws.IsClean()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !clean {
		t.Fatal("expected clean worktree after commit")
	}

	writeFile(t, dir, "b.txt", "two\n")
	clean, err = ws.IsClean()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if clean {
		t.Fatal("expected dirty worktree with untracked file")
	}

	commitAll(t, ws, "add b")
	clean, err = ws.IsClean()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !clean {
		t.Fatal("expected clean worktree after second commit")
	}
}

func TestCommitAllowsEmpty(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\n")
	commitAll(t, ws, "initial")

	hash, err := ws.Commit("4221: p4 sync //...@4221")
	if err != nil {
		t.Fatalf("empty commit: %v", err)
	}
	if hash == "" {
		t.Fatal("expected a commit hash")
	}

	subject, err := ws.LastCommitSubject()
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	if subject != "4221: p4 sync //...@4221" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestLastCommitSubjectUnbornHead(t *testing.T) {
	ws, _ := initRepo(t)

	subject, err := ws.LastCommitSubject()
	if err != nil {
		t.Fatalf("expected no error on unborn HEAD, got %v", err)
	}
	if subject != "" {
		t.Fatalf("expected empty subject, got %q", subject)
	}

	_, ok, err := ws.LastSyncedChange()
	if err != nil || ok {
		t.Fatalf("expected no recorded change, got ok=%v err=%v", ok, err)
	}
}

func TestLastCommitSubjectFirstLineOnly(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\n")
	commitAll(t, ws, "subject line\n\nbody that should not leak\ninto the subject")

	subject, err := ws.LastCommitSubject()
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	if subject != "subject line" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestLastSyncedChange(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\n")

	commitAll(t, ws, "import sources")
	if _, ok, _ := ws.LastSyncedChange(); ok {
		t.Fatal("plain subject should not parse as a sync marker")
	}

	if _, err := ws.Commit("4221: p4 sync //...@4222"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok, _ := ws.LastSyncedChange(); ok {
		t.Fatal("mismatched changelist numbers should not parse")
	}

	if _, err := ws.Commit("4223: p4 sync //...@4223"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	change, ok, err := ws.LastSyncedChange()
	if err != nil {
		t.Fatalf("last synced change: %v", err)
	}
	if !ok || change != 4223 {
		t.Fatalf("expected change 4223, got %d ok=%v", change, ok)
	}
}

func TestChangedFilesBuckets(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "alpha\n")
	writeFile(t, dir, "b.txt", "bravo\n")
	writeFile(t, dir, "c.txt", "charlie\n")
	writeFile(t, dir, "d.txt", "delta content kept identical across the rename\n")
	base := commitAll(t, ws, "base")

	writeFile(t, dir, "b.txt", "bravo revised\n")
	if err := os.Remove(filepath.Join(dir, "c.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, dir, "e.txt", "echo\n")
	if err := os.MkdirAll(filepath.Join(dir, "moved"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Rename(filepath.Join(dir, "d.txt"), filepath.Join(dir, "moved", "d.txt")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	commitAll(t, ws, "rework")

	changes, err := ws.ChangedFiles(context.Background(), base)
	if err != nil {
		t.Fatalf("changed files: %v", err)
	}

	assertStrings(t, "adds", changes.Adds, []string{"e.txt"})
	assertStrings(t, "mods", changes.Mods, []string{"b.txt"})
	assertStrings(t, "dels", changes.Dels, []string{"c.txt"})
	if len(changes.Moves) != 1 {
		t.Fatalf("expected one move, got %v", changes.Moves)
	}
	if mv := changes.Moves[0]; mv.From != "d.txt" || mv.To != "moved/d.txt" {
		t.Fatalf("unexpected move %+v", mv)
	}
	if changes.Empty() {
		t.Fatal("changes should not report empty")
	}
}

func TestChangedFilesIdenticalRevisions(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "alpha\n")
	base := commitAll(t, ws, "base")

	changes, err := ws.ChangedFiles(context.Background(), base)
	if err != nil {
		t.Fatalf("changed files: %v", err)
	}
	if !changes.Empty() {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}

func TestSubjectsOldestFirst(t *testing.T) {
	ws, dir := initRepo(t)
	writeFile(t, dir, "a.txt", "one\n")
	base := commitAll(t, ws, "base")

	writeFile(t, dir, "a.txt", "two\n")
	commitAll(t, ws, "first change")
	writeFile(t, dir, "a.txt", "three\n")
	commitAll(t, ws, "second change")
	writeFile(t, dir, "a.txt", "four\n")
	commitAll(t, ws, "third change")

	subjects, err := ws.Subjects(base)
	if err != nil {
		t.Fatalf("subjects: %v", err)
	}
	assertStrings(t, "subjects", subjects, []string{"first change", "second change", "third change"})
}

// The read-side queries do not depend on an on-disk worktree; run them
// against an in-memory repository as well.
func TestQueriesOnInMemoryRepository(t *testing.T) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}

	author := &object.Signature{Name: "pergit test", Email: "pergit@example.com", When: time.Now()}
	commit := func(name, content, msg string) string {
		t.Helper()
		if err := util.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		hash, err := wt.Commit(msg, &git.CommitOptions{Author: author})
		if err != nil {
			t.Fatalf("commit %q: %v", msg, err)
		}
		return hash.String()
	}

	base := commit("a.txt", "one\n", "import sources")
	commit("a.txt", "two\n", "tweak a")
	commit("b.txt", "three\n", "100: p4 sync //...@100")

	ws := &Workspace{repo: repo, wt: wt, root: "/", log: slog.Default()}

	change, ok, err := ws.LastSyncedChange()
	if err != nil || !ok || change != 100 {
		t.Fatalf("expected change 100, got %d ok=%v err=%v", change, ok, err)
	}

	subjects, err := ws.Subjects(base)
	if err != nil {
		t.Fatalf("subjects: %v", err)
	}
	assertStrings(t, "subjects", subjects, []string{"tweak a", "100: p4 sync //...@100"})

	changes, err := ws.ChangedFiles(context.Background(), base)
	if err != nil {
		t.Fatalf("changed files: %v", err)
	}
	assertStrings(t, "adds", changes.Adds, []string{"b.txt"})
	assertStrings(t, "mods", changes.Mods, []string{"a.txt"})
}
