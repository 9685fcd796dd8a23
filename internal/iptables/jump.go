package iptables

import (
	"context"
	"fmt"
	"log/slog"
)

// jumpPosition puts the newest session's jump ahead of any older one.
const jumpPosition = 1

// JumpExists determines whether a jump from the hook to the chain exists.
func JumpExists(ctx context.Context, executor Executor, table string, hook string, chain string) (bool, error) {
	exists, err := executor.Exists(ctx, table, hook, "-j", chain)
	if err != nil {
		return false, fmt.Errorf("check jump existence: %w", err)
	}
	return exists, nil
}

// AddJump inserts a jump to chain at the head of hook.
func AddJump(ctx context.Context, executor Executor, table string, hook string, chain string, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Info("adding jump rule",
		slog.String("table", table),
		slog.String("hook", hook),
		slog.String("chain", chain),
		slog.Int("position", jumpPosition),
	)
	if err := executor.Insert(ctx, table, hook, jumpPosition, "-j", chain); err != nil {
		return fmt.Errorf("add %s jump: %w", hook, err)
	}
	return nil
}

// RemoveJump deletes the jump to chain from hook.
func RemoveJump(ctx context.Context, executor Executor, table string, hook string, chain string, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Info("removing jump rule",
		slog.String("table", table),
		slog.String("hook", hook),
		slog.String("chain", chain),
	)
	if err := executor.Delete(ctx, table, hook, "-j", chain); err != nil {
		return fmt.Errorf("remove %s jump: %w", hook, err)
	}
	return nil
}
