// Package iptablestest provides an in-memory packet filter for tests.
package iptablestest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Call records one executor invocation.
type Call struct {
	Op    string
	Table string
	Chain string
	Args  []string
}

func (c Call) String() string {
	parts := []string{"-t", c.Table, c.Op, c.Chain}
	return strings.Join(append(parts, c.Args...), " ")
}

type failure struct {
	op    string
	match string
	err   error
}

// Fake models tables, chains and rulespecs with iptables semantics close
// enough to exercise chain lifecycles: a referenced or non-empty chain cannot
// be deleted and deleting a missing rule fails.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]map[string][]string
	builtin  map[string]bool
	calls    []Call
	failures []failure
}

// New returns a Fake whose nat table holds the built-in chains.
func New() *Fake {
	f := &Fake{
		tables:  map[string]map[string][]string{},
		builtin: map[string]bool{},
	}
	for _, chain := range []string{"PREROUTING", "INPUT", "OUTPUT", "POSTROUTING"} {
		f.ensureTable("nat")[chain] = nil
		f.builtin[chain] = true
	}
	return f
}

// FailOn makes every call with the given op whose rendered form contains
// match return err. An empty match matches every call of op.
func (f *Fake) FailOn(op string, match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{op: op, match: match, err: err})
}

// ClearFailures removes every injected failure.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// ResetCalls forgets the recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Rules returns the rulespecs of a chain, each joined by spaces.
func (f *Fake) Rules(table string, chain string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tables[table][chain])
}

// HasChain reports whether the chain exists.
func (f *Fake) HasChain(table string, chain string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[table][chain]
	return ok
}

// Snapshot renders the whole ruleset deterministically.
func (f *Fake) Snapshot() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	tables := make([]string, 0, len(f.tables))
	for t := range f.tables {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	for _, t := range tables {
		chains := make([]string, 0, len(f.tables[t]))
		for c := range f.tables[t] {
			chains = append(chains, c)
		}
		slices.Sort(chains)
		for _, c := range chains {
			fmt.Fprintf(&b, "%s/%s\n", t, c)
			for _, r := range f.tables[t][c] {
				fmt.Fprintf(&b, "  %s\n", r)
			}
		}
	}
	return b.String()
}

func (f *Fake) ensureTable(table string) map[string][]string {
	chains, ok := f.tables[table]
	if !ok {
		chains = map[string][]string{}
		f.tables[table] = chains
	}
	return chains
}

func (f *Fake) record(ctx context.Context, op string, table string, chain string, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call := Call{Op: op, Table: table, Chain: chain, Args: slices.Clone(args)}
	f.calls = append(f.calls, call)
	rendered := call.String()
	for _, fl := range f.failures {
		if fl.op == op && strings.Contains(rendered, fl.match) {
			return fl.err
		}
	}
	return nil
}

func (f *Fake) referenced(table string, chain string) bool {
	target := "-j " + chain
	for _, rules := range f.tables[table] {
		for _, r := range rules {
			if r == target || strings.HasSuffix(r, " "+target) || strings.Contains(r, " "+target+" ") {
				return true
			}
		}
	}
	return false
}

// ChainExists implements iptables.Executor.
func (f *Fake) ChainExists(ctx context.Context, table string, chain string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-L", table, chain, nil); err != nil {
		return false, err
	}
	_, ok := f.tables[table][chain]
	return ok, nil
}

// NewChain implements iptables.Executor.
func (f *Fake) NewChain(ctx context.Context, table string, chain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-N", table, chain, nil); err != nil {
		return err
	}
	chains := f.ensureTable(table)
	if _, ok := chains[chain]; ok {
		return fmt.Errorf("iptables: Chain already exists")
	}
	chains[chain] = nil
	return nil
}

// ClearChain implements iptables.Executor. Like go-iptables it creates a
// missing chain.
func (f *Fake) ClearChain(ctx context.Context, table string, chain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-F", table, chain, nil); err != nil {
		return err
	}
	f.ensureTable(table)[chain] = nil
	return nil
}

// DeleteChain implements iptables.Executor.
func (f *Fake) DeleteChain(ctx context.Context, table string, chain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-X", table, chain, nil); err != nil {
		return err
	}
	rules, ok := f.tables[table][chain]
	switch {
	case !ok:
		return fmt.Errorf("iptables: No chain/target/match by that name")
	case f.builtin[chain]:
		return fmt.Errorf("iptables: Invalid argument")
	case len(rules) > 0:
		return fmt.Errorf("iptables: Directory not empty")
	case f.referenced(table, chain):
		return fmt.Errorf("iptables: Too many links")
	}
	delete(f.tables[table], chain)
	return nil
}

// Exists implements iptables.Executor.
func (f *Fake) Exists(ctx context.Context, table string, chain string, rulespec ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-C", table, chain, rulespec); err != nil {
		return false, err
	}
	return slices.Contains(f.tables[table][chain], strings.Join(rulespec, " ")), nil
}

// Insert implements iptables.Executor.
func (f *Fake) Insert(ctx context.Context, table string, chain string, pos int, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-I", table, chain, append([]string{fmt.Sprint(pos)}, rulespec...)); err != nil {
		return err
	}
	rules, ok := f.tables[table][chain]
	if !ok {
		return fmt.Errorf("iptables: No chain/target/match by that name")
	}
	if pos < 1 || pos > len(rules)+1 {
		return fmt.Errorf("iptables: Index of insertion too big")
	}
	f.tables[table][chain] = slices.Insert(rules, pos-1, strings.Join(rulespec, " "))
	return nil
}

// Append implements iptables.Executor.
func (f *Fake) Append(ctx context.Context, table string, chain string, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-A", table, chain, rulespec); err != nil {
		return err
	}
	rules, ok := f.tables[table][chain]
	if !ok {
		return fmt.Errorf("iptables: No chain/target/match by that name")
	}
	f.tables[table][chain] = append(rules, strings.Join(rulespec, " "))
	return nil
}

// Delete implements iptables.Executor.
func (f *Fake) Delete(ctx context.Context, table string, chain string, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "-D", table, chain, rulespec); err != nil {
		return err
	}
	rules := f.tables[table][chain]
	idx := slices.Index(rules, strings.Join(rulespec, " "))
	if idx < 0 {
		return fmt.Errorf("iptables: Bad rule (does a matching rule exist in that chain?)")
	}
	f.tables[table][chain] = slices.Delete(rules, idx, idx+1)
	return nil
}
