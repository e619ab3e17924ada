// Package p4 talks to Perforce through the p4 command line client. It
// classifies sync output, previews and streams syncs, and handles the
// changelist bookkeeping behind the edit and review commands.
//
// Every invocation is echoed to the client's output writer before it
// runs, so an operator can always see the exact commands on their
// behalf. In dry-run mode commands that would change server or client
// state are echoed and skipped; read-only commands still run.
package p4

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pergit/pergit/internal/run"
)

var (
	openedChangeRe = regexp.MustCompile(`- edit change (\d+)`)
	changesRe      = regexp.MustCompile(`^Change (\d+) on `)
	createdRe      = regexp.MustCompile(`^Change (\d+) created`)
)

// Client issues p4 commands through a run.Runner rooted at the
// workspace directory.
type Client struct {
	bin    string
	depot  string
	runner *run.Runner
	out    io.Writer
	dryRun bool
	log    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary sets the p4 executable to invoke.
func WithBinary(bin string) Option {
	return func(c *Client) {
		if bin != "" {
			c.bin = bin
		}
	}
}

// WithDepot sets the depot view synced and queried by the client.
func WithDepot(depot string) Option {
	return func(c *Client) {
		if depot != "" {
			c.depot = depot
		}
	}
}

// WithOutput sets the writer command echoes and timings are printed to.
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		if w != nil {
			c.out = w
		}
	}
}

// WithDryRun makes state-changing commands echo without executing.
func WithDryRun(enabled bool) Option {
	return func(c *Client) {
		c.dryRun = enabled
	}
}

// WithLogger sets the logger for client diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient returns a Client executing through runner.
func NewClient(runner *run.Runner, opts ...Option) *Client {
	c := &Client{
		bin:    "p4",
		depot:  "//...",
		runner: runner,
		out:    os.Stdout,
		log:    slog.Default().With("component", "p4"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Depot returns the depot view the client operates on.
func (c *Client) Depot() string {
	return c.depot
}

// DryRun reports whether state-changing commands are being skipped.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// SyncPreviewCount reports how many files a sync to change would
// touch, using p4 sync -n. Zero means the client is already up to
// date.
func (c *Client) SyncPreviewCount(ctx context.Context, change int) (int, error) {
	argv := c.argv("sync", "-n", c.target(change))
	res, err := c.capture(ctx, argv)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, c.cmdError(argv, res)
	}
	return len(res.Stdout), nil
}

// StartSync begins a streaming sync to change. The caller consumes
// Lines and then Waits; clobber notices arrive on stderr and are part
// of the stream.
func (c *Client) StartSync(ctx context.Context, change int) (*run.Proc, error) {
	argv := c.argv("sync", c.target(change))
	c.echo(argv)
	return c.runner.Start(ctx, argv...)
}

// StartForceSyncFile begins a forced streaming sync of a single file,
// used to overwrite a clobbered writable file at the target change.
func (c *Client) StartForceSyncFile(ctx context.Context, path string, change int) (*run.Proc, error) {
	argv := c.argv("sync", "-f", fmt.Sprintf("%s@%d", path, change))
	c.echo(argv)
	return c.runner.Start(ctx, argv...)
}

// Opened lists the files currently opened on the client, one raw line
// per file. An empty slice means the client has nothing opened.
func (c *Client) Opened(ctx context.Context) ([]string, error) {
	argv := c.argv("opened")
	res, err := c.capture(ctx, argv)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, c.cmdError(argv, res)
	}
	return res.Stdout, nil
}

// FileChangelist reports which changelist path is opened for edit in:
// a changelist number, "default", or "" when the file is not opened.
func (c *Client) FileChangelist(ctx context.Context, path string) (string, error) {
	argv := c.argv("opened", path)
	res, err := c.capture(ctx, argv)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", c.cmdError(argv, res)
	}
	if len(res.Stdout) == 0 || strings.Contains(res.Stdout[0], "file(s) not opened on this client") {
		return "", nil
	}
	for _, line := range res.Stdout {
		if strings.Contains(line, "- edit default change ") {
			return "default", nil
		}
		if m := openedChangeRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}

// LatestChange resolves the newest submitted changelist under the
// client's depot view. The head selector syncs to this.
func (c *Client) LatestChange(ctx context.Context) (int, error) {
	argv := c.argv("changes", "-m1", "-s", "submitted", c.depot)
	res, err := c.capture(ctx, argv)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, c.cmdError(argv, res)
	}
	if len(res.Stdout) == 0 {
		return 0, fmt.Errorf("no submitted changes under %s", c.depot)
	}
	m := changesRe.FindStringSubmatch(res.Stdout[0])
	if m == nil {
		return 0, fmt.Errorf("unexpected p4 changes output %q", res.Stdout[0])
	}
	return strconv.Atoi(m[1])
}

// Add opens path for add in the given changelist.
func (c *Client) Add(ctx context.Context, changelist, path string) error {
	return c.fileOp(ctx, "add", changelist, path)
}

// Edit opens path for edit in the given changelist.
func (c *Client) Edit(ctx context.Context, changelist, path string) error {
	return c.fileOp(ctx, "edit", changelist, path)
}

// Reopen moves an already-opened path into the given changelist.
func (c *Client) Reopen(ctx context.Context, changelist, path string) error {
	return c.fileOp(ctx, "reopen", changelist, path)
}

// Delete opens path for delete in the given changelist.
func (c *Client) Delete(ctx context.Context, changelist, path string) error {
	return c.fileOp(ctx, "delete", changelist, path)
}

func (c *Client) fileOp(ctx context.Context, op, changelist, path string) error {
	argv := c.argv(op, "-c", changelist, path)
	res, err := c.mutate(ctx, argv)
	if err != nil {
		return err
	}
	if res != nil && res.ExitCode != 0 {
		return c.cmdError(argv, res)
	}
	return nil
}

// ChangeSpec fetches the editable form of a changelist, or a fresh
// template when changelist is empty.
func (c *Client) ChangeSpec(ctx context.Context, changelist string) ([]string, error) {
	args := []string{"change", "-o"}
	if changelist != "" {
		args = append(args, changelist)
	}
	argv := c.argv(args...)
	res, err := c.capture(ctx, argv)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, c.cmdError(argv, res)
	}
	return res.Stdout, nil
}

// SubmitChangeSpec feeds an edited spec back through p4 change -i and
// returns the server's response lines. In dry-run mode it returns nil.
func (c *Client) SubmitChangeSpec(ctx context.Context, spec []string) ([]string, error) {
	argv := c.argv("change", "-i")
	c.echo(argv)
	if c.dryRun {
		return nil, nil
	}
	res, err := c.runner.RunInput(ctx, strings.Join(spec, "\n")+"\n", argv...)
	if err != nil {
		return nil, err
	}
	c.elapsed(res)
	if res.ExitCode != 0 {
		return nil, c.cmdError(argv, res)
	}
	return res.Stdout, nil
}

// CreateChangelist makes a new pending changelist with the given
// description and returns its number. In dry-run mode it returns the
// placeholder "new" so later echoed commands stay readable.
func (c *Client) CreateChangelist(ctx context.Context, description string) (string, error) {
	spec, err := c.ChangeSpec(ctx, "")
	if err != nil {
		return "", err
	}
	out, err := c.SubmitChangeSpec(ctx, SetDescription(spec, description))
	if err != nil {
		return "", err
	}
	if c.dryRun {
		return "new", nil
	}
	return parseCreatedChange(out)
}

// Shelve replaces the shelved files of changelist with its currently
// opened files. This pushes the working state into a Swarm review.
func (c *Client) Shelve(ctx context.Context, changelist string) error {
	argv := c.argv("shelve", "-f", "-Af", "-c", changelist)
	res, err := c.mutate(ctx, argv)
	if err != nil {
		return err
	}
	if res != nil && res.ExitCode != 0 {
		return c.cmdError(argv, res)
	}
	return nil
}

func (c *Client) argv(args ...string) []string {
	return append([]string{c.bin}, args...)
}

func (c *Client) target(change int) string {
	return fmt.Sprintf("%s@%d", c.depot, change)
}

func (c *Client) echo(argv []string) {
	fmt.Fprintf(c.out, "> %s\n", commandLine(argv))
}

func (c *Client) elapsed(res *run.Result) {
	fmt.Fprintf(c.out, "Elapsed time is %s\n", res.Elapsed.Round(time.Millisecond))
}

// capture echoes argv and runs it to completion. Read-only commands go
// through here and run even in dry-run mode.
func (c *Client) capture(ctx context.Context, argv []string) (*run.Result, error) {
	c.echo(argv)
	res, err := c.runner.Run(ctx, argv...)
	if err != nil {
		return nil, err
	}
	c.elapsed(res)
	return res, nil
}

// mutate is capture for state-changing commands: in dry-run mode the
// command is echoed and skipped, and the Result is nil.
func (c *Client) mutate(ctx context.Context, argv []string) (*run.Result, error) {
	c.echo(argv)
	if c.dryRun {
		return nil, nil
	}
	res, err := c.runner.Run(ctx, argv...)
	if err != nil {
		return nil, err
	}
	c.elapsed(res)
	return res, nil
}

func (c *Client) cmdError(argv []string, res *run.Result) error {
	detail := ""
	if len(res.Stderr) > 0 {
		detail = ": " + strings.Join(res.Stderr, "; ")
	}
	return fmt.Errorf("%s exited with code %d%s", commandLine(argv), res.ExitCode, detail)
}

// commandLine renders argv the way it is echoed to the operator, with
// arguments containing whitespace quoted.
func commandLine(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if strings.ContainsAny(arg, " \t") {
			quoted[i] = `"` + arg + `"`
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}

func parseCreatedChange(lines []string) (string, error) {
	for _, line := range lines {
		if m := createdRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("no changelist number in p4 change output %v", lines)
}
