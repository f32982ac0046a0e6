package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ExecResult is the outcome of a render attempt.
type ExecResult struct {
	OK     bool
	Reason string
}

// Executor attempts to run a code sample.
type Executor interface {
	TryExecute(ctx context.Context, code string) ExecResult
}

// RenderExecutor renders a sample with an external command. The sample file
// path is appended after Args, followed by TrailingArgs.
type RenderExecutor struct {
	Command      string
	Args         []string
	TrailingArgs []string
	Timeout      time.Duration
}

// NewManimExecutor returns an executor that renders the last frame at low
// quality.
func NewManimExecutor(command string, timeout time.Duration) *RenderExecutor {
	if command == "" {
		command = "manim"
	}
	return &RenderExecutor{
		Command:      command,
		Args:         []string{"-ql", "--disable_caching"},
		TrailingArgs: []string{"--format", "png", "--progress_bar", "none"},
		Timeout:      timeout,
	}
}

// TryExecute writes code to a scratch directory and runs the command there.
func (e *RenderExecutor) TryExecute(ctx context.Context, code string) ExecResult {
	dir, err := os.MkdirTemp("", "scenecorpus-render-*")
	if err != nil {
		return ExecResult{Reason: fmt.Sprintf("scratch dir: %v", err)}
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "scene.py")
	if err := os.WriteFile(file, []byte(code), 0o644); err != nil {
		return ExecResult{Reason: fmt.Sprintf("write sample: %v", err)}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := append(append(append([]string{}, e.Args...), file), e.TrailingArgs...)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	switch {
	case err == nil:
		return ExecResult{OK: true}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ExecResult{Reason: fmt.Sprintf("timeout after %s", e.Timeout)}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ExecResult{Reason: lastLine(out.String(), exitErr.ExitCode())}
		}
		return ExecResult{Reason: err.Error()}
	}
}

func lastLine(output string, code int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	msg := strings.TrimSpace(lines[len(lines)-1])
	if msg == "" {
		return "exit status " + strconv.Itoa(code)
	}
	return msg
}
