// Package subprocrunner implements the Subprocess Runner (C5): a
// uniform launcher for an external binary that streams its output
// line-by-line through a per-binary Classifier and reports
// (exit_code, matched_diagnostic_line) back to the caller (spec.md
// §4.1). Grounded on
// internal/pipeline/exec/ffmpeg.Runner's supervise/drain/classify shape,
// generalized from an ffmpeg-only runner into one parameterized by an
// arbitrary Classifier and binary.
package subprocrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/metrics"
	"github.com/holostream/archivist/internal/procgroup"
)

// Outcome is what a Classifier decides for one line of output.
type Outcome int

const (
	Ignore Outcome = iota
	Progress
	Announce
	ErrorFatal
	ErrorRetryable
)

// Stream selects which child-process output stream(s) to scan.
type Stream int

const (
	Stdout Stream = iota
	Stderr
	Both
)

// Classifier maps one lowercased line of output from stream to an
// Outcome. A returned non-empty diagnostic, when Outcome is
// ErrorFatal or ErrorRetryable, becomes the matched diagnostic line
// the caller receives from Wait.
type Classifier func(stream Stream, line string) (outcome Outcome, diagnostic string)

// Result is what Wait returns once the child has exited or been
// cancelled.
type Result struct {
	ExitCode   int
	Diagnostic string // the first matched error line, if any
	Cancelled  bool
	// Announced is set once the classifier first returns Announce; the
	// lifecycle engine uses this to transition a job to downloading.
	Announced bool
}

// spawnBlockedExitCode is returned when the binary itself could not be
// launched (missing binary, resource exhaustion); spec.md §4.1 names
// this exact sentinel pair.
const spawnBlockedExitCode = -100

// Runner runs one external binary under a Classifier.
type Runner struct {
	Binary     string
	Args       []string
	ScanStream Stream
	Classifier Classifier

	// StopOnFatal breaks the drain loop as soon as the classifier
	// returns ErrorFatal, instead of the default continuous drain to
	// EOF. spec.md §4.1 carves out exactly one exception to the
	// drain-to-EOF guarantee: the youtube recorder, which is expected
	// to exit shortly after printing a fatal line, so reading on is
	// pure waste rather than insurance against a full pipe buffer.
	StopOnFatal bool

	ring *LineRing

	mu        sync.Mutex
	cmd       *exec.Cmd
	resultCh  chan Result
	diagOnce  sync.Once
	diagLine  string
	announced bool
}

// New returns a Runner ready for Start. ringCapacity bounds how many
// recent lines are retained for diagnostics (LastLogLines); 0 uses the
// package default.
func New(binary string, args []string, scan Stream, classifier Classifier, ringCapacity int) *Runner {
	if ringCapacity <= 0 {
		ringCapacity = 256
	}
	return &Runner{
		Binary:     binary,
		Args:       args,
		ScanStream: scan,
		Classifier: classifier,
		ring:       NewLineRing(ringCapacity),
		resultCh:   make(chan Result, 1),
	}
}

// WithStopOnFatal sets StopOnFatal and returns the Runner for chaining.
func (r *Runner) WithStopOnFatal(stop bool) *Runner {
	r.StopOnFatal = stop
	return r
}

// Start launches the binary and begins draining its output
// concurrently; it returns once the process has been spawned (or
// failed to spawn). Call Wait to block for the final Result.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.CommandContext(ctx, r.Binary, r.Args...) // #nosec G204 -- argv is constructed by the lifecycle engine, not from request input
	procgroup.Set(cmd)

	var stdout, stderr io.ReadCloser
	var err error
	if r.ScanStream == Stdout || r.ScanStream == Both {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("subprocrunner: stdout pipe: %w", err)
		}
	}
	if r.ScanStream == Stderr || r.ScanStream == Both {
		if stderr, err = cmd.StderrPipe(); err != nil {
			return fmt.Errorf("subprocrunner: stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		metrics.IncProcTerminate("none", "spawn_blocked")
		r.resultCh <- Result{ExitCode: spawnBlockedExitCode, Diagnostic: "spawn blocked"}
		close(r.resultCh)
		return nil
	}
	r.cmd = cmd

	var drainWG sync.WaitGroup
	if stdout != nil {
		drainWG.Add(1)
		go func() { defer drainWG.Done(); r.drain(Stdout, stdout) }()
	}
	if stderr != nil {
		drainWG.Add(1)
		go func() { defer drainWG.Done(); r.drain(Stderr, stderr) }()
	}

	go func() {
		waitErr := cmd.Wait()
		drainWG.Wait() // guarantee drain to avoid deadlocking the child on a full pipe buffer

		code := 0
		if waitErr != nil {
			code = 1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			}
		}

		cancelled := ctx.Err() != nil
		r.mu.Lock()
		diag := r.diagLine
		announced := r.announced
		r.mu.Unlock()

		metrics.IncProcWait(outcomeLabel(code, cancelled))
		metrics.SubprocessExit.WithLabelValues(r.Binary, outcomeLabel(code, cancelled)).Inc()
		r.resultCh <- Result{ExitCode: code, Diagnostic: diag, Cancelled: cancelled, Announced: announced}
		close(r.resultCh)
	}()

	return nil
}

func outcomeLabel(code int, cancelled bool) string {
	switch {
	case cancelled:
		return "cancelled"
	case code == 0:
		return "clean"
	default:
		return "error"
	}
}

// drain reads stream line-by-line, classifying each through r.Classifier.
// Unless StopOnFatal is set it does not stop reading early on
// ErrorFatal: the guarantee in spec.md §4.1 is that reads "drain
// continuously to avoid deadlocking children with full pipe buffers",
// so the fatal verdict is latched (first one wins) while the scanner
// keeps consuming to EOF. With StopOnFatal set, the first ErrorFatal
// line ends the drain.
func (r *Runner) drain(stream Stream, rd io.ReadCloser) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		r.ring.Write([]byte(raw))
		r.ring.Write([]byte("\n"))

		line := strings.ToLower(raw)
		outcome, diagnostic := r.Classifier(stream, line)
		switch outcome {
		case Announce:
			r.mu.Lock()
			r.announced = true
			r.mu.Unlock()
		case ErrorFatal, ErrorRetryable:
			r.diagOnce.Do(func() {
				r.mu.Lock()
				r.diagLine = diagnostic
				r.mu.Unlock()
			})
			if outcome == ErrorFatal && r.StopOnFatal {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.L().Warn().Err(err).Str("binary", r.Binary).Msg("subprocrunner: line-buffer overflow or read error, resuming")
	}
}

// Wait blocks until the process exits or ctx is cancelled (in which
// case the child has already been signaled by CommandContext's
// cancellation and the caller should expect Cancelled=true).
func (r *Runner) Wait(ctx context.Context) (Result, error) {
	select {
	case res, ok := <-r.resultCh:
		if !ok {
			return Result{}, fmt.Errorf("subprocrunner: result channel closed without a value")
		}
		return res, nil
	case <-ctx.Done():
		return Result{Cancelled: true}, ctx.Err()
	}
}

// Stop signals the child to terminate, escalating to SIGKILL after
// timeout if it has not exited.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := procgroup.Kill(cmd, syscall.SIGTERM); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}
}

// LastLogLines returns up to n of the most recent lines read from the
// scanned stream(s), for diagnostic logging.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}
