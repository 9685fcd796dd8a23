package iptables

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

// DefaultLoopGuardTTL is the TTL the relay stamps on packets it re-emits.
const DefaultLoopGuardTTL = 42

// Applier appends compiled rules to a session chain.
type Applier struct {
	executor     Executor
	logger       *slog.Logger
	recorder     Recorder
	loopGuardTTL int
	noTTLModule  bool
}

// NewApplier returns an Applier. A non-positive ttl selects DefaultLoopGuardTTL.
func NewApplier(executor Executor, ttl int, logger *slog.Logger, recorder Recorder) *Applier {
	if ttl <= 0 {
		ttl = DefaultLoopGuardTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Applier{
		executor:     executor,
		logger:       logger,
		recorder:     recorder,
		loopGuardTTL: ttl,
	}
}

// Apply appends compiled to chain strictly in order and returns how many
// rules were installed. The first failure aborts the rest and is returned as
// a *RuleInstallError.
func (a *Applier) Apply(ctx context.Context, chain *SessionChain, compiled []rules.Rule) (int, error) {
	if chain == nil || chain.State == StateAbsent {
		return 0, fmt.Errorf("apply rules: chain does not exist")
	}

	installed := 0
	for i, rule := range compiled {
		if err := ctx.Err(); err != nil {
			return installed, &RuleInstallError{Chain: chain.Name, Index: i, Rule: rule, Err: err}
		}

		var err error
		if rule.LoopGuard {
			err = a.appendGuarded(ctx, chain, rule)
		} else {
			err = a.executor.Append(ctx, chain.Table, chain.Name, rule.Spec()...)
		}
		if err != nil {
			return installed, &RuleInstallError{Chain: chain.Name, Index: i, Rule: rule, Err: err}
		}

		a.logger.Debug("rule appended",
			slog.String("chain", chain.Name),
			slog.Int("position", i+1),
			slog.String("rule", rule.String()),
		)
		installed++
	}

	a.logger.Info("rules installed",
		slog.String("table", chain.Table),
		slog.String("chain", chain.Name),
		slog.Int("rules", installed),
		slog.Bool("loop_guard", a.LoopGuardActive()),
	)
	return installed, nil
}

// LoopGuardActive reports whether REDIRECT rules still get the TTL guard.
// It turns false once the ttl match has been found missing.
func (a *Applier) LoopGuardActive() bool {
	return !a.noTTLModule
}

// appendGuarded places a TTL match ahead of the REDIRECT target. Kernels
// without the ttl match get the plain rule once the guarded append fails and
// the unguarded one succeeds; the guard is not retried afterwards.
func (a *Applier) appendGuarded(ctx context.Context, chain *SessionChain, rule rules.Rule) error {
	if a.noTTLModule {
		return a.executor.Append(ctx, chain.Table, chain.Name, rule.Spec()...)
	}

	guardErr := a.executor.Append(ctx, chain.Table, chain.Name, a.guardedSpec(rule)...)
	if guardErr == nil {
		return nil
	}

	if err := a.executor.Append(ctx, chain.Table, chain.Name, rule.Spec()...); err != nil {
		return fmt.Errorf("append without loop guard (guarded append: %v): %w", guardErr, err)
	}

	a.noTTLModule = true
	a.recorder.LoopGuardFallback()
	a.logger.Warn("ttl match unavailable; redirect rules installed without loop guard",
		slog.String("chain", chain.Name),
		slog.Int("ttl", a.loopGuardTTL),
		slog.Any("error", guardErr),
	)
	return nil
}

func (a *Applier) guardedSpec(rule rules.Rule) []string {
	spec := rule.MatchSpec()
	spec = append(spec, "-m", "ttl", "!", "--ttl-eq", strconv.Itoa(a.loopGuardTTL))
	return append(spec, rule.TargetSpec()...)
}
