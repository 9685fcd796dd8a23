// Package monitor polls the state of a held session chain and reports
// changes, such as a jump removed by another tool.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/denniswebb/shuttlewire/internal/iptables"
)

// StateReader reports the current lifecycle state of the watched chain.
type StateReader interface {
	ChainState(ctx context.Context) (iptables.State, error)
}

// StateReaderFunc adapts a function to StateReader.
type StateReaderFunc func(ctx context.Context) (iptables.State, error)

func (f StateReaderFunc) ChainState(ctx context.Context) (iptables.State, error) {
	return f(ctx)
}

// TransitionHandler reacts to state changes detected by the poller. It is
// also called once with the first observed state.
type TransitionHandler interface {
	OnTransition(ctx context.Context, previous iptables.State, current iptables.State) error
}

// PollerConfig holds the dependencies and settings for the Poller.
type PollerConfig struct {
	Reader            StateReader
	Chain             string
	PollInterval      time.Duration
	Logger            *slog.Logger
	TransitionHandler TransitionHandler
}

// Poller periodically reads the chain state and records transitions.
type Poller struct {
	cfg       PollerConfig
	logger    *slog.Logger
	mu        sync.RWMutex
	lastState iptables.State
	observed  bool
}

// NewPoller validates the configuration and returns a Poller ready to run.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if cfg.Chain == "" {
		return nil, fmt.Errorf("chain name is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		cfg:    cfg,
		logger: logger.With(slog.String("chain", cfg.Chain)),
	}, nil
}

// Run executes the polling loop until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("starting chain monitor",
		slog.String("poll_interval", p.cfg.PollInterval.String()),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		if state, ok := p.currentState(); ok {
			p.logger.Info("stopping chain monitor", slog.String("last_state", state.String()))
			return
		}
		p.logger.Info("stopping chain monitor")
	}()

	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// currentState returns the last observed state and whether any poll has
// succeeded yet.
func (p *Poller) currentState() (iptables.State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastState, p.observed
}

func (p *Poller) pollOnce(ctx context.Context) {
	state, err := p.cfg.Reader.ChainState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("failed to read chain state", slog.Any("error", err))
		return
	}

	p.mu.Lock()
	previous := p.lastState
	first := !p.observed
	p.lastState = state
	p.observed = true
	p.mu.Unlock()

	switch {
	case first:
		p.logger.Debug("initialized chain state", slog.String("state", state.String()))
	case previous == state:
		p.logger.Debug("chain state unchanged", slog.String("state", state.String()))
		return
	case previous == iptables.StateBound:
		p.logger.Warn("chain no longer bound",
			slog.String("previous_state", previous.String()),
			slog.String("state", state.String()),
		)
	default:
		p.logger.Info("chain state changed",
			slog.String("previous_state", previous.String()),
			slog.String("state", state.String()),
		)
	}

	if handler := p.cfg.TransitionHandler; handler != nil {
		if err := handler.OnTransition(ctx, previous, state); err != nil {
			p.logger.Warn("transition handler failed",
				slog.String("previous_state", previous.String()),
				slog.String("state", state.String()),
				slog.Any("error", err),
			)
		}
	}
}
