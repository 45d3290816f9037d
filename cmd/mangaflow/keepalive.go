package main

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/mangaflow/mangaflow/internal/execrun"
)

const keepaliveSession = "mangaflow-claude-keepalive"

// keepalive holds an interactive claude CLI open in a detached tmux session.
// The live session refreshes the OAuth token the claude translator depends on.
type keepalive struct {
	runner   execrun.Runner
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

func newKeepalive(logger *slog.Logger) keepalive {
	return keepalive{runner: execrun.Exec{Logger: logger}, lookPath: exec.LookPath, logger: logger}
}

// ensure starts the session unless tmux is missing or the session already
// exists. It never fails the caller; it reports whether a session is running.
// Disable with MANGAFLOW_DISABLE_KEEPALIVE=true.
func (k keepalive) ensure(ctx context.Context, claudePath string) bool {
	if _, err := k.lookPath("tmux"); err != nil {
		k.logger.Warn("keepalive: tmux not found, token auto-refresh disabled")
		return false
	}

	if _, _, err := k.runner.Run(ctx, "tmux", "has-session", "-t", keepaliveSession); err == nil {
		k.logger.Info("keepalive: session already running", "session", keepaliveSession)
		return true
	}

	if _, _, err := k.runner.Run(ctx, "tmux", "new-session", "-d", "-s", keepaliveSession, claudePath); err != nil {
		k.logger.Warn("keepalive: failed to start session", "error", err)
		return false
	}

	k.logger.Info("keepalive: started tmux session", "session", keepaliveSession)
	return true
}
