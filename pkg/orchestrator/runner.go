package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/painting-cropper/pkg/worker"
)

// waitDelay bounds how long output pipes are drained after a child is killed
const waitDelay = 2 * time.Second

// Runner executes one worker for one painting and returns the crop count
// it reported. A failed worker reports 0 together with an error.
type Runner interface {
	RunWorker(ctx context.Context, imagePath, tempDir string) (int, error)
}

// ProcessRunner runs each worker as a child process, normally the same
// binary's "worker" subcommand. The child prints the count on stdout and
// diagnostics on stderr.
type ProcessRunner struct {
	Command string
	Args    []string // inserted before -image/-temp
	Timeout time.Duration
	Logger  *slog.Logger
}

// RunWorker starts the child and parses its stdout
func (r *ProcessRunner) RunWorker(ctx context.Context, imagePath, tempDir string) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), "-image", imagePath, "-temp", tempDir)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if s := strings.TrimSpace(stderr.String()); s != "" {
		logger.Debug("worker stderr", "image", imagePath, "output", s)
	}

	count, parseErr := ParseCount(stdout.String())
	if parseErr != nil {
		logger.Warn("worker returned non-integer proposal count, assuming 0",
			"image", imagePath, "stdout", stdout.String(), "err", parseErr)
		count = 0
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("worker timed out: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return 0, fmt.Errorf("worker exited with status %d: %s", exitErr.ExitCode(), lastLine(stderr.String()))
		}
		return 0, fmt.Errorf("failed to run worker: %w", runErr)
	}
	if parseErr != nil {
		return 0, parseErr
	}
	return count, nil
}

// InProcessRunner runs workers inside the orchestrator process
type InProcessRunner struct {
	Worker  *worker.Worker
	Timeout time.Duration
}

// RunWorker calls Worker.Run directly
func (r *InProcessRunner) RunWorker(ctx context.Context, imagePath, tempDir string) (int, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	res, err := r.Worker.Run(ctx, imagePath, tempDir)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// ParseCount reads the integer a worker printed on stdout
func ParseCount(stdout string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		return 0, fmt.Errorf("invalid worker count %q: %w", strings.TrimSpace(stdout), err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative worker count %d", n)
	}
	return n, nil
}

// BingRunner runs the external objectness cropper that tops up paintings
// with too few detector crops. It is invoked as
// "<command> <image> <numNeeded> <tempDir>" and writes bing_meta.csv.
type BingRunner struct {
	Command string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Run executes the command; its combined output is logged
func (b *BingRunner) Run(ctx context.Context, imagePath string, needed int, tempDir string) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, b.Command, imagePath, strconv.Itoa(needed), tempDir)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	logger.Debug("bing output", "image", imagePath, "output", strings.TrimSpace(string(out)))
	if err != nil {
		return fmt.Errorf("bing command failed: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
