package p4

import (
	"strings"
	"testing"
)

var changeTemplate = []string{
	"Change:\tnew",
	"",
	"Client:\tws",
	"",
	"User:\tdev",
	"",
	"Description:",
	"\t<enter description here>",
	"",
	"Files:",
}

func TestSetDescription(t *testing.T) {
	got := SetDescription(changeTemplate, "Sync tooling fixes")

	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "Description:\n\tSync tooling fixes\n\nFiles:") {
		t.Errorf("unexpected spec:\n%s", joined)
	}
	if strings.Contains(joined, "<enter description here>") {
		t.Errorf("template text left behind:\n%s", joined)
	}
}

func TestSetDescriptionMultiline(t *testing.T) {
	got := SetDescription(changeTemplate, "first change\nsecond change")

	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "\tfirst change\n\tsecond change") {
		t.Errorf("expected each line indented:\n%s", joined)
	}
}

func TestSetDescriptionWithoutField(t *testing.T) {
	spec := []string{"Change:\tnew", "", "Client:\tws"}
	got := SetDescription(spec, "added later")

	joined := strings.Join(got, "\n")
	if !strings.HasSuffix(joined, "Description:\n\tadded later") {
		t.Errorf("expected appended description:\n%s", joined)
	}
}

func TestAddReviewKeyword(t *testing.T) {
	spec := SetDescription(changeTemplate, "Sync tooling fixes")

	got, changed := AddReviewKeyword(spec)
	if !changed {
		t.Fatal("expected the keyword to be added")
	}
	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "\tSync tooling fixes\n\t#review\n\t\n\nFiles:") {
		t.Errorf("unexpected spec:\n%s", joined)
	}

	again, changed := AddReviewKeyword(got)
	if changed {
		t.Error("expected second application to be a no-op")
	}
	if strings.Count(strings.Join(again, "\n"), "#review") != 1 {
		t.Errorf("keyword duplicated:\n%s", strings.Join(again, "\n"))
	}
}

func TestAddReviewKeywordAtEndOfSpec(t *testing.T) {
	spec := []string{"Description:", "\tlast field"}

	got, changed := AddReviewKeyword(spec)
	if !changed {
		t.Fatal("expected the keyword to be added")
	}
	want := []string{"Description:", "\tlast field", "\t#review", "\t"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestAddReviewKeywordWithoutDescription(t *testing.T) {
	spec := []string{"Change:\t123"}

	got, changed := AddReviewKeyword(spec)
	if changed {
		t.Error("expected no change without a Description field")
	}
	if len(got) != 1 || got[0] != "Change:\t123" {
		t.Errorf("spec mutated: %v", got)
	}
}

func TestParseCreatedChange(t *testing.T) {
	change, err := parseCreatedChange([]string{"Change 451 created."})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if change != "451" {
		t.Errorf("expected 451, got %q", change)
	}

	if _, err := parseCreatedChange([]string{"something else"}); err == nil {
		t.Error("expected error for unrecognized output")
	}
}
