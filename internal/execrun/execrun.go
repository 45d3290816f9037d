// Package execrun runs external programs. OCR and render collaborators take a
// Runner so tests can substitute canned output.
package execrun

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes name with args and returns captured stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// Exec runs commands with os/exec. The zero value logs to slog.Default().
type Exec struct {
	Logger *slog.Logger
}

func (e Exec) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", Truncate(errb.String(), 8<<10),
		)
		return out.Bytes(), errb.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	logger.Debug("exec ok",
		"cmd", name,
		"duration_ms", dur.Milliseconds(),
		"stdout_bytes", out.Len(),
		"stderr_bytes", errb.Len(),
	)
	return out.Bytes(), errb.Bytes(), nil
}

// Truncate caps s at n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
