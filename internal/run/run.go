// Package run executes child processes and streams their output live.
//
// A Runner spawns one child per Start call and drains stdout and stderr
// concurrently, merging both streams into a single channel of tagged
// lines in arrival order. Per-stream line order is preserved; no line
// is dropped, duplicated, or delivered after Wait returns.
package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrInterrupted is returned by Wait when the run was cancelled and the
// child was terminated. A cancelled run produces no Result: a partially
// applied sync is not safe to reason about.
var ErrInterrupted = errors.New("run interrupted")

// DefaultGrace is how long a terminated child may linger between
// SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

// Scanner buffer limits for child output lines.
const (
	initialLineBuf = 64 * 1024
	maxLineBuf     = 10 * 1024 * 1024
)

// Tag identifies which stream a line arrived on.
type Tag string

const (
	Stdout Tag = "stdout"
	Stderr Tag = "stderr"
)

// Line is one line of child output. A trailing chunk without a newline
// is emitted as a final Line when its stream closes.
type Line struct {
	Text string
	Tag  Tag
}

// Result describes a completed child run. A non-zero ExitCode is data,
// not an error: the child ran and exited.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
	Elapsed  time.Duration
}

// Runner spawns child processes in a fixed working directory.
type Runner struct {
	dir   string
	grace time.Duration
	log   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithGrace sets the SIGTERM-to-SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithLogger sets the logger for runner diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Runner that executes commands in dir. The directory
// must exist by the time Start is called.
func New(dir string, opts ...Option) *Runner {
	r := &Runner{
		dir:   dir,
		grace: DefaultGrace,
		log:   slog.Default().With("component", "run"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Proc is one running child process. Callers must drain Lines; Wait
// blocks until the channel is consumed to close.
type Proc struct {
	cmd   *exec.Cmd
	lines chan Line
	done  chan struct{}
	start time.Time
	grace time.Duration
	log   *slog.Logger

	// Written by the pump goroutine before done is closed, read only
	// after done.
	res *Result
	err error
}

// Start spawns argv as a child of the runner's working directory. The
// child runs in its own process group with stdin disconnected. A spawn
// failure (command not found, bad directory) returns an error and no
// Proc.
//
// Cancelling ctx terminates the child: SIGTERM to its process group, a
// bounded grace wait, then SIGKILL. Output produced before the child
// dies is still delivered.
func (r *Runner) Start(ctx context.Context, argv ...string) (*Proc, error) {
	return r.start(ctx, nil, argv)
}

func (r *Runner) start(ctx context.Context, stdin io.Reader, argv []string) (*Proc, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.dir
	cmd.Stdin = stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	p := &Proc{
		cmd:   cmd,
		lines: make(chan Line, 256),
		done:  make(chan struct{}),
		start: time.Now(),
		grace: r.grace,
		log:   r.log,
		res:   &Result{},
	}
	r.log.Debug("child started", "pid", cmd.Process.Pid, "argv", argv, "dir", r.dir)

	outc := make(chan Line, 64)
	errc := make(chan Line, 64)
	go p.drain(stdout, Stdout, outc)
	go p.drain(stderr, Stderr, errc)
	go p.pump(ctx, outc, errc)

	return p, nil
}

// Run executes argv to completion without streaming, capturing output
// in the Result. Used for commands whose output is inspected rather
// than reported live.
func (r *Runner) Run(ctx context.Context, argv ...string) (*Result, error) {
	p, err := r.Start(ctx, argv...)
	if err != nil {
		return nil, err
	}
	for range p.Lines() {
	}
	return p.Wait()
}

// RunInput is Run with the child's stdin connected to input, for
// commands that read a document from stdin instead of prompting.
func (r *Runner) RunInput(ctx context.Context, input string, argv ...string) (*Result, error) {
	p, err := r.start(ctx, strings.NewReader(input), argv)
	if err != nil {
		return nil, err
	}
	for range p.Lines() {
	}
	return p.Wait()
}

// Lines returns the merged output stream. The channel carries every
// line from both streams in arrival order and is closed once the child
// has exited and both streams are fully drained.
func (p *Proc) Lines() <-chan Line {
	return p.lines
}

// Wait blocks until the child has exited, both streams are drained and
// every line has been delivered, then returns the Result. After an
// interrupt it returns ErrInterrupted and no Result.
func (p *Proc) Wait() (*Result, error) {
	<-p.done
	return p.res, p.err
}

// drain moves lines from one stream into its channel. Each channel has
// exactly one producer (this goroutine) and one consumer (the pump).
func (p *Proc) drain(src io.Reader, tag Tag, out chan<- Line) {
	defer close(out)

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, initialLineBuf), maxLineBuf)
	for sc.Scan() {
		out <- Line{Text: sc.Text(), Tag: tag}
	}
	if err := sc.Err(); err != nil {
		// A line beyond the scanner limit aborts line delivery, but the
		// pipe must stay drained or the child blocks on it and never
		// exits. The rest of the stream is discarded.
		p.log.Warn("stream read aborted", "stream", tag, "error", err)
		io.Copy(io.Discard, src)
	}
}

// pump merges the two stream channels into the public Lines channel,
// recording every line in the Result, then reaps the child. The child
// is waited on only after both drains finish, so no buffered output is
// lost. All delivery happens before done is closed.
func (p *Proc) pump(ctx context.Context, outc, errc <-chan Line) {
	ctxDone := ctx.Done()
	interrupted := false
	interrupt := func() {
		interrupted = true
		ctxDone = nil
		go p.terminate()
	}
	// Forward one line, staying responsive to a first cancellation
	// while blocked on a slow consumer.
	deliver := func(ln Line) {
		select {
		case p.lines <- ln:
		case <-ctxDone:
			interrupt()
			p.lines <- ln
		}
	}

	for outc != nil || errc != nil {
		select {
		case ln, ok := <-outc:
			if !ok {
				outc = nil
				continue
			}
			p.res.Stdout = append(p.res.Stdout, ln.Text)
			deliver(ln)
		case ln, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			p.res.Stderr = append(p.res.Stderr, ln.Text)
			deliver(ln)
		case <-ctxDone:
			interrupt()
		}
	}

	werr := p.cmd.Wait()
	p.res.Elapsed = time.Since(p.start)

	switch {
	case interrupted:
		p.log.Warn("child terminated on interrupt", "pid", p.cmd.Process.Pid)
		p.res = nil
		p.err = ErrInterrupted
	case werr == nil:
		p.res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) {
			p.res.ExitCode = exitErr.ExitCode()
		} else {
			p.res = nil
			p.err = fmt.Errorf("waiting for child: %w", werr)
		}
	}

	if p.res != nil {
		p.log.Debug("child exited", "exit", p.res.ExitCode, "elapsed", p.res.Elapsed)
	}

	close(p.lines)
	close(p.done)
}

// terminate asks the child's process group to exit and escalates to
// SIGKILL after the grace period. Kill errors are ignored: the group
// may already be gone.
func (p *Proc) terminate() {
	pid := p.cmd.Process.Pid
	p.log.Warn("terminating child", "pid", pid, "grace", p.grace)
	_ = unix.Kill(-pid, unix.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(p.grace):
		p.log.Warn("child did not exit in time, killing", "pid", pid)
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
}
