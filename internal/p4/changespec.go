package p4

import (
	"slices"
	"strings"
)

// SetDescription replaces the Description block of a change spec with
// the given text, one tab-indented line per description line.
func SetDescription(spec []string, description string) []string {
	start, end := descriptionBlock(spec)
	if start < 0 {
		out := append(slices.Clone(spec), "Description:")
		return appendIndented(out, description)
	}
	out := slices.Clone(spec[:start+1])
	out = appendIndented(out, description)
	return append(out, spec[end:]...)
}

// AddReviewKeyword appends the #review marker to the Description block
// so Swarm opens a review when the spec is saved. It reports whether
// the spec changed; a spec already carrying a review keyword comes
// back untouched.
func AddReviewKeyword(spec []string) ([]string, bool) {
	start, end := descriptionBlock(spec)
	if start < 0 {
		return spec, false
	}
	for _, line := range spec[start:end] {
		if strings.Contains(line, "#review") {
			return spec, false
		}
	}
	out := slices.Clone(spec[:end])
	out = append(out, "\t#review", "\t")
	return append(out, spec[end:]...), true
}

// descriptionBlock locates the Description field: start is the header
// line, end the first blank line after it (or the end of the spec).
// start is -1 when the spec has no Description field.
func descriptionBlock(spec []string) (start, end int) {
	start = -1
	for i, line := range spec {
		if strings.TrimSpace(line) == "Description:" {
			start = i
			break
		}
	}
	if start < 0 {
		return -1, -1
	}
	for i := start + 1; i < len(spec); i++ {
		if strings.TrimSpace(spec[i]) == "" {
			return start, i
		}
	}
	return start, len(spec)
}

func appendIndented(out []string, text string) []string {
	for _, line := range strings.Split(text, "\n") {
		out = append(out, "\t"+line)
	}
	return out
}
