package p4

import (
	"testing"

	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind Kind
		path string
	}{
		{
			name: "added",
			line: "//depot/a.txt#3 - added as /ws/a.txt",
			kind: Added,
			path: "/ws/a.txt",
		},
		{
			name: "deleted",
			line: "//depot/b.txt#7 - deleted as /ws/b.txt",
			kind: Deleted,
			path: "/ws/b.txt",
		},
		{
			name: "updated",
			line: "//depot/c.txt#2 - updating /ws/c.txt",
			kind: Updated,
			path: "/ws/c.txt",
		},
		{
			name: "clobbered",
			line: "Can't clobber writable file /ws/b.txt",
			kind: Clobbered,
			path: "/ws/b.txt",
		},
		{
			name: "up to date",
			line: "//...@123 - file(s) up-to-date.",
			kind: UpToDate,
			path: "",
		},
		{
			name: "trailing whitespace trimmed",
			line: "//depot/d.txt#1 - added as /ws/d.txt   ",
			kind: Added,
			path: "/ws/d.txt",
		},
		{
			name: "unparsable",
			line: "some unrelated output",
			kind: Unparsable,
			path: "some unrelated output",
		},
		{
			name: "empty line",
			line: "",
			kind: Unparsable,
			path: "",
		},
		{
			name: "marker twice does not parse",
			line: "x - added as y - added as z",
			kind: Unparsable,
			path: "x - added as y - added as z",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Classify(tc.line)
			if ev.Kind != tc.kind {
				t.Errorf("expected kind %q, got %q", tc.kind, ev.Kind)
			}
			if ev.Path != tc.path {
				t.Errorf("expected path %q, got %q", tc.path, ev.Path)
			}
		})
	}
}

// Classify must recover the exact path from any well-formed sync line,
// whatever the depot side looks like. The generated alphabet contains
// no spaces, so it cannot collide with any marker.
func TestClassifyRecoversPath(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		depot := rapid.StringMatching(`//[a-zA-Z0-9/_.#-]+`).Draw(t, "depot")
		path := rapid.StringMatching(`/[a-zA-Z0-9/_.-]+`).Draw(t, "path")

		markers := map[Kind]string{
			Added:   " - added as ",
			Deleted: " - deleted as ",
			Updated: " - updating ",
		}
		for kind, marker := range markers {
			ev := Classify(depot + marker + path)
			if ev.Kind != kind {
				t.Fatalf("expected kind %q, got %q", kind, ev.Kind)
			}
			if ev.Path != path {
				t.Fatalf("expected path %q, got %q", path, ev.Path)
			}
		}
	})
}

func TestWritableFiles(t *testing.T) {
	stderr := []string{
		"Can't clobber writable file /ws/a.txt",
		"some other error",
		"Can't clobber writable file /ws/b.txt  ",
		"",
	}

	got := WritableFiles(stderr)
	want := []string{"/ws/a.txt", "/ws/b.txt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestWritableFilesEmpty(t *testing.T) {
	if got := WritableFiles(nil); len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
	if got := WritableFiles([]string{"nothing relevant"}); len(got) != 0 {
		t.Errorf("expected no files, got %v", got)
	}
}
