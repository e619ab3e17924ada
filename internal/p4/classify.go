package p4

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind classifies one line of p4 sync output. The string values double
// as the short operator-facing labels.
type Kind string

const (
	Added      Kind = "add"
	Deleted    Kind = "del"
	Updated    Kind = "upd"
	Clobbered  Kind = "clb"
	UpToDate   Kind = "up-to-date"
	Unparsable Kind = "unparsable"
)

// Event is the classification of a single output line. Path holds the
// workspace file path for the four file kinds, and the raw line for
// Unparsable so it can be surfaced verbatim.
type Event struct {
	Kind Kind
	Path string
}

// clobberPrefix marks files p4 refused to overwrite; it also appears on
// stderr and drives the forced per-file retry.
const clobberPrefix = "Can't clobber writable file "

// upToDateRe matches the sync summary p4 prints when nothing changed.
var upToDateRe = regexp.MustCompile(`//\.\.\.@\d+ - file\(s\) up-to-date\.`)

// markers are the sync message fragments p4 emits per file operation.
// They are mutually exclusive: no real sync line contains two of them.
// Any change to p4's message format breaks this table and must be
// caught by the classifier tests.
var markers = []struct {
	kind   Kind
	marker string
}{
	{Added, " - added as "},
	{Deleted, " - deleted as "},
	{Updated, " - updating "},
	{Clobbered, clobberPrefix},
}

// Classify maps one line of p4 sync output to an Event. It is pure and
// stateless. The path is everything after the matched marker with
// trailing whitespace trimmed; a marker must occur exactly once for the
// line to parse.
func Classify(line string) Event {
	if upToDateRe.MatchString(line) {
		return Event{Kind: UpToDate}
	}

	for _, m := range markers {
		_, after, ok := strings.Cut(line, m.marker)
		if !ok || strings.Contains(after, m.marker) {
			continue
		}
		return Event{Kind: m.kind, Path: strings.TrimRightFunc(after, unicode.IsSpace)}
	}

	return Event{Kind: Unparsable, Path: line}
}

// WritableFiles extracts clobber-blocked paths from captured sync
// stderr, in order of appearance, for a forced second pass.
func WritableFiles(stderr []string) []string {
	var files []string
	for _, line := range stderr {
		rest, ok := strings.CutPrefix(line, clobberPrefix)
		if !ok {
			continue
		}
		files = append(files, strings.TrimRightFunc(rest, unicode.IsSpace))
	}
	return files
}
