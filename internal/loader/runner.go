package loader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// pdfToTextBinary is the poppler utility used for PDF text extraction.
const pdfToTextBinary = "pdftotext"

// RunResult holds the output of a pdftotext invocation.
type RunResult struct {
	// Stdout is the standard output captured from the process.
	Stdout string

	// Stderr is the standard error captured from the process.
	Stderr string

	// ExitCode is the process exit code (0 = success).
	ExitCode int
}

// Runner is the interface for executing the pdftotext CLI.
// Abstracting this allows tests to inject a fake runner without spawning
// real processes.
type Runner interface {
	// Run executes pdftotext with the given arguments.
	Run(ctx context.Context, args ...string) (*RunResult, error)
}

// CheckPDFToText reports whether the pdftotext binary is available on PATH.
// The returned error carries an install hint.
func CheckPDFToText() error {
	if _, err := exec.LookPath(pdfToTextBinary); err != nil {
		return fmt.Errorf("loader: %s not found on PATH (install poppler-utils via apt, or poppler via brew)", pdfToTextBinary)
	}
	return nil
}

// ExecRunner implements Runner by executing the real pdftotext binary found
// on PATH. It is the default runner used in production.
type ExecRunner struct{}

// NewExecRunner returns a new ExecRunner. It verifies that pdftotext is
// available on PATH at construction time.
func NewExecRunner() (*ExecRunner, error) {
	if err := CheckPDFToText(); err != nil {
		return nil, err
	}
	return &ExecRunner{}, nil
}

// Run executes `pdftotext [args...]` and returns the captured stdout, stderr,
// and exit code.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, pdfToTextBinary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("loader: failed to run %s: %w", pdfToTextBinary, err)
		}
	}

	return &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
