// Package stats accumulates per-kind sync statistics and renders the
// live progress and summary output for a sync pass.
package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pergit/pergit/internal/p4"
)

// indent prefixes the detail lines under each reported file.
const indent = "     "

// labelStyle colors the per-file kind tag. Bright green, matching the
// tool's historical output.
var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

// kindOrder fixes the per-kind breakdown order in the final report.
var kindOrder = []p4.Kind{p4.Added, p4.Deleted, p4.Updated, p4.Clobbered}

// Running is the accumulated count and byte total for one event kind.
// Both fields only grow for the lifetime of one sync pass.
type Running struct {
	Count int
	Bytes int64
}

// Aggregator consumes classified sync events for a single sync pass,
// keeps running per-kind totals, and writes progress as it goes. It is
// not safe for concurrent use; the sync pipeline feeds it from one
// goroutine.
type Aggregator struct {
	target int
	synced int
	start  time.Time
	out    io.Writer
	color  bool
	probe  func(string) int64
	kinds  map[p4.Kind]*Running
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithOutput directs progress and report rendering to w.
func WithOutput(w io.Writer) Option {
	return func(a *Aggregator) {
		if w != nil {
			a.out = w
		}
	}
}

// WithColor enables colored kind labels.
func WithColor(enabled bool) Option {
	return func(a *Aggregator) {
		a.color = enabled
	}
}

// WithSizeProbe replaces the on-disk file size lookup.
func WithSizeProbe(probe func(path string) int64) Option {
	return func(a *Aggregator) {
		if probe != nil {
			a.probe = probe
		}
	}
}

// New creates an Aggregator for a sync pass expected to touch target
// files. A target of -1 means the total is unknown and progress is
// reported without a denominator.
func New(target int, opts ...Option) *Aggregator {
	a := &Aggregator{
		target: target,
		start:  time.Now(),
		out:    os.Stdout,
		probe:  fileSize,
		kinds: map[p4.Kind]*Running{
			p4.Added:     {},
			p4.Deleted:   {},
			p4.Updated:   {},
			p4.Clobbered: {},
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe folds one classified line into the running totals and prints
// the progress block for it. Informational and unparsable events mutate
// nothing: the former short-circuits reporting, the latter is surfaced
// verbatim so the operator sees what was skipped.
func (a *Aggregator) Observe(ev p4.Event) {
	switch ev.Kind {
	case p4.UpToDate:
		fmt.Fprintln(a.out, "All files are up to date")
		return
	case p4.Unparsable:
		fmt.Fprintf(a.out, "Unparsable line: %s\n", ev.Path)
		return
	}

	r, ok := a.kinds[ev.Kind]
	if !ok {
		return
	}
	r.Count++
	a.synced++

	fmt.Fprintf(a.out, "%s: %s\n", a.label(ev.Kind), ev.Path)
	if a.target >= 0 {
		fmt.Fprintf(a.out, "%sprogress: %d / %d\n", indent, a.synced, a.target)
	}

	// Deleted files have no on-disk size to account for. A clobbered
	// file is sized so the blocked bytes can be subtracted back out of
	// the effective total.
	if ev.Kind == p4.Added || ev.Kind == p4.Updated || ev.Kind == p4.Clobbered {
		size := a.probe(ev.Path)
		r.Bytes += size
		fmt.Fprintf(a.out, "%ssize: %s\n", indent, FormatSize(float64(size)))
	}

	fmt.Fprintf(a.out, "%ssync stats %s\n", indent, a.Snapshot())
}

// Effective returns the net synced file count and byte total: files
// genuinely written to disk, excluding attempted-but-blocked ones.
// The subtraction assumes every clobbered file was first counted under
// add or upd in the same pass; that holds for p4's message order but is
// not verified here, so a mismatched sequence can drive the result
// negative.
func (a *Aggregator) Effective() (count int, size int64) {
	count = a.kinds[p4.Added].Count + a.kinds[p4.Updated].Count - a.kinds[p4.Clobbered].Count
	size = a.kinds[p4.Added].Bytes + a.kinds[p4.Updated].Bytes - a.kinds[p4.Clobbered].Bytes
	return count, size
}

// Elapsed is the wall-clock time since the pass started.
func (a *Aggregator) Elapsed() time.Duration {
	return time.Since(a.start)
}

// Clobbered is the number of clobber-blocked files observed so far.
func (a *Aggregator) Clobbered() int {
	return a.kinds[p4.Clobbered].Count
}

// Snapshot renders the current aggregate line: effective file count,
// effective size, elapsed time and average throughput. Sub-millisecond
// elapsed reports the throughput as "n/a" rather than dividing by a
// near-zero duration.
func (a *Aggregator) Snapshot() string {
	return a.snapshotAt(a.Elapsed())
}

func (a *Aggregator) snapshotAt(elapsed time.Duration) string {
	count, size := a.Effective()

	speed := "n/a"
	if elapsed >= time.Millisecond {
		speed = FormatSize(float64(size) / elapsed.Seconds())
	}

	return fmt.Sprintf("file count %d, size %s, time %s, average speed %s / sec",
		count, FormatSize(float64(size)), elapsed.Round(time.Millisecond), speed)
}

// Report writes the final summary: the aggregate line followed by a
// per-kind breakdown, including the kinds excluded from the effective
// total, so the operator can audit exactly what was blocked.
func (a *Aggregator) Report() {
	fmt.Fprintf(a.out, "Sync stats: %s\n", a.Snapshot())

	for _, kind := range kindOrder {
		r := a.kinds[kind]
		fmt.Fprintf(a.out, "%s\n", kind)
		fmt.Fprintf(a.out, "  count: %d\n", r.Count)
		fmt.Fprintf(a.out, "  size : %s\n", FormatSize(float64(r.Bytes)))
	}
}

func (a *Aggregator) label(k p4.Kind) string {
	if a.color {
		return labelStyle.Render(string(k))
	}
	return string(k)
}

// FormatSize renders a byte quantity with binary prefixes and one
// decimal digit: 0 -> "0.0B", 1536 -> "1.5KiB", 1073741824 -> "1.0GiB".
func FormatSize(n float64) string {
	for _, unit := range []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi"} {
		if math.Abs(n) < 1024.0 {
			return fmt.Sprintf("%3.1f%sB", n, unit)
		}
		n /= 1024.0
	}
	return fmt.Sprintf("%.1fYiB", n)
}

// fileSize is the default size probe: the current on-disk size of
// path, or 0 when it does not exist (it may have been deleted by a
// later sync event by the time we look).
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}
