package iptables

import (
	"context"
	"log/slog"
)

// Nonfatal runs a best-effort teardown step. Failures are logged and counted,
// never returned. A rule or chain that is already gone is logged at debug.
func Nonfatal(ctx context.Context, logger *slog.Logger, recorder Recorder, step string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}

	level := slog.LevelWarn
	if IsNotExist(err) {
		level = slog.LevelDebug
	}
	logger.LogAttrs(ctx, level, "ignoring teardown failure",
		slog.String("step", step),
		slog.Any("error", err),
	)
	recorder.NonfatalFailure(step)
}
