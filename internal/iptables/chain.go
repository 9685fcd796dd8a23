package iptables

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

const (
	// NATTable is the only table this redirection mode writes to.
	NATTable = "nat"

	chainPrefix = "shuttlewire-"
)

// hooks are bound in this order on setup and unbound in the same order on restore.
var hooks = []string{"OUTPUT", "PREROUTING"}

// ChainName derives the session chain name from the redirect port, so two
// sessions on different ports never share a chain.
func ChainName(port int) string {
	return chainPrefix + strconv.Itoa(port)
}

// Manager creates, binds and tears down session chains for one family.
type Manager struct {
	executor Executor
	family   rules.Family
	logger   *slog.Logger
	recorder Recorder
}

// NewManager returns a Manager. A nil logger or recorder falls back to defaults.
func NewManager(executor Executor, family rules.Family, logger *slog.Logger, recorder Recorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Manager{
		executor: executor,
		family:   family,
		logger:   logger,
		recorder: recorder,
	}
}

// Setup clears any stale chain for port, then creates, flushes and binds a
// fresh one. The returned chain is empty and bound.
func (m *Manager) Setup(ctx context.Context, port int) (*SessionChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := m.Restore(ctx, port); err != nil {
		return nil, fmt.Errorf("clear stale chain: %w", err)
	}

	chain := &SessionChain{
		Family: m.family,
		Table:  NATTable,
		Name:   ChainName(port),
		State:  StateAbsent,
	}
	logger := m.logger.With(
		slog.String("table", chain.Table),
		slog.String("chain", chain.Name),
		slog.String("family", m.family.String()),
	)

	logger.Info("creating chain")
	if err := m.executor.NewChain(ctx, chain.Table, chain.Name); err != nil {
		return nil, fmt.Errorf("create chain %s: %w", chain.Name, err)
	}
	chain.State = StateCreated

	if err := m.executor.ClearChain(ctx, chain.Table, chain.Name); err != nil {
		return nil, fmt.Errorf("flush chain %s: %w", chain.Name, err)
	}

	for _, hook := range hooks {
		if err := AddJump(ctx, m.executor, chain.Table, hook, chain.Name, logger); err != nil {
			return nil, fmt.Errorf("bind chain %s: %w", chain.Name, err)
		}
	}
	chain.State = StateBound

	logger.Info("chain bound", slog.Any("hooks", hooks))
	return chain, nil
}

// Restore removes everything Setup installed for port. A missing chain is a
// no-op. Unbinding and flushing are best effort; only the final destroy can
// fail, as a *ChainTeardownError.
func (m *Manager) Restore(ctx context.Context, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := ChainName(port)
	logger := m.logger.With(
		slog.String("table", NATTable),
		slog.String("chain", name),
		slog.String("family", m.family.String()),
	)

	exists, err := m.executor.ChainExists(ctx, NATTable, name)
	if err != nil {
		return fmt.Errorf("determine chain existence: %w", err)
	}
	if !exists {
		logger.Debug("chain absent; nothing to restore")
		return nil
	}

	for _, hook := range hooks {
		Nonfatal(ctx, logger, m.recorder, "unbind_"+strings.ToLower(hook), func() error {
			return RemoveJump(ctx, m.executor, NATTable, hook, name, logger)
		})
	}
	Nonfatal(ctx, logger, m.recorder, "flush", func() error {
		return m.executor.ClearChain(ctx, NATTable, name)
	})

	logger.Info("destroying chain")
	if err := m.executor.DeleteChain(ctx, NATTable, name); err != nil {
		return &ChainTeardownError{Table: NATTable, Chain: name, Err: err}
	}
	return nil
}

// Status inspects the chain for port without changing it.
func (m *Manager) Status(ctx context.Context, port int) (*SessionChain, error) {
	chain := &SessionChain{
		Family: m.family,
		Table:  NATTable,
		Name:   ChainName(port),
		State:  StateAbsent,
	}

	exists, err := m.executor.ChainExists(ctx, chain.Table, chain.Name)
	if err != nil {
		return nil, fmt.Errorf("determine chain existence: %w", err)
	}
	if !exists {
		return chain, nil
	}
	chain.State = StateCreated

	for _, hook := range hooks {
		bound, err := JumpExists(ctx, m.executor, chain.Table, hook, chain.Name)
		if err != nil {
			return nil, err
		}
		if !bound {
			return chain, nil
		}
	}
	chain.State = StateBound
	return chain, nil
}
