package iptables

import (
	"fmt"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

// RuleInstallError reports the first rule that could not be appended. Rules
// before Index are already in the chain.
type RuleInstallError struct {
	Chain string
	Index int
	Rule  rules.Rule
	Err   error
}

func (e *RuleInstallError) Error() string {
	return fmt.Sprintf("install rule %d (%s) in chain %s: %v", e.Index+1, e.Rule, e.Chain, e.Err)
}

func (e *RuleInstallError) Unwrap() error {
	return e.Err
}

// ChainTeardownError reports that the final chain destroy failed.
type ChainTeardownError struct {
	Table string
	Chain string
	Err   error
}

func (e *ChainTeardownError) Error() string {
	return fmt.Sprintf("destroy chain %s in table %s: %v", e.Chain, e.Table, e.Err)
}

func (e *ChainTeardownError) Unwrap() error {
	return e.Err
}
