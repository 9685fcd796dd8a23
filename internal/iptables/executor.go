package iptables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goipt "github.com/coreos/go-iptables/iptables"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

const (
	ipv4Binary = "iptables"
	ipv6Binary = "ip6tables"

	// iptablesWaitSeconds bounds how long a call waits for the xtables lock.
	iptablesWaitSeconds = 5
)

// Executor abstracts the packet-filter subsystem for one address family.
type Executor interface {
	ChainExists(ctx context.Context, table string, chain string) (bool, error)
	NewChain(ctx context.Context, table string, chain string) error
	ClearChain(ctx context.Context, table string, chain string) error
	DeleteChain(ctx context.Context, table string, chain string) error
	Exists(ctx context.Context, table string, chain string, rulespec ...string) (bool, error)
	Insert(ctx context.Context, table string, chain string, pos int, rulespec ...string) error
	Append(ctx context.Context, table string, chain string, rulespec ...string) error
	Delete(ctx context.Context, table string, chain string, rulespec ...string) error
}

// CommandError captures detailed failure information from an iptables call.
type CommandError struct {
	Command string
	Op      string
	Table   string
	Chain   string
	Args    []string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	parts := []string{e.Command, "-t", e.Table, e.Op}
	if e.Chain != "" {
		parts = append(parts, e.Chain)
	}
	parts = append(parts, e.Args...)
	return fmt.Sprintf("command %s failed: %v", strings.Join(parts, " "), e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsNotExist reports whether err means the rule or chain was already gone.
func IsNotExist(err error) bool {
	var iptErr *goipt.Error
	if errors.As(err, &iptErr) {
		return iptErr.IsNotExist()
	}
	return false
}

// RealExecutor drives iptables/ip6tables through go-iptables.
type RealExecutor struct {
	ipt     *goipt.IPTables
	command string
}

// NewExecutor constructs a RealExecutor bound to the given family.
func NewExecutor(family rules.Family) (Executor, error) {
	var (
		proto   goipt.Protocol
		command string
	)
	switch family {
	case rules.FamilyIPv4:
		proto, command = goipt.ProtocolIPv4, ipv4Binary
	case rules.FamilyIPv6:
		proto, command = goipt.ProtocolIPv6, ipv6Binary
	default:
		return nil, fmt.Errorf("%w: %s", rules.ErrUnsupportedFamily, family)
	}

	ipt, err := goipt.New(goipt.IPFamily(proto), goipt.Timeout(iptablesWaitSeconds))
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", command, err)
	}
	return &RealExecutor{ipt: ipt, command: command}, nil
}

func (r *RealExecutor) wrap(op string, table string, chain string, args []string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{
		Command: r.command,
		Op:      op,
		Table:   table,
		Chain:   chain,
		Args:    append([]string(nil), args...),
		Err:     err,
	}
}

// ChainExists determines whether the chain is present in the table.
func (r *RealExecutor) ChainExists(ctx context.Context, table string, chain string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists, err := r.ipt.ChainExists(table, chain)
	return exists, r.wrap("-L", table, chain, nil, err)
}

// NewChain creates an empty user chain.
func (r *RealExecutor) NewChain(ctx context.Context, table string, chain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wrap("-N", table, chain, nil, r.ipt.NewChain(table, chain))
}

// ClearChain flushes every rule from the chain.
func (r *RealExecutor) ClearChain(ctx context.Context, table string, chain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wrap("-F", table, chain, nil, r.ipt.ClearChain(table, chain))
}

// DeleteChain destroys an empty, unreferenced chain.
func (r *RealExecutor) DeleteChain(ctx context.Context, table string, chain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wrap("-X", table, chain, nil, r.ipt.DeleteChain(table, chain))
}

// Exists checks whether the rulespec is present in the chain.
func (r *RealExecutor) Exists(ctx context.Context, table string, chain string, rulespec ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists, err := r.ipt.Exists(table, chain, rulespec...)
	return exists, r.wrap("-C", table, chain, rulespec, err)
}

// Insert places the rulespec at position pos (1-based).
func (r *RealExecutor) Insert(ctx context.Context, table string, chain string, pos int, rulespec ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := append([]string{fmt.Sprint(pos)}, rulespec...)
	return r.wrap("-I", table, chain, args, r.ipt.Insert(table, chain, pos, rulespec...))
}

// Append adds the rulespec to the end of the chain.
func (r *RealExecutor) Append(ctx context.Context, table string, chain string, rulespec ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wrap("-A", table, chain, rulespec, r.ipt.Append(table, chain, rulespec...))
}

// Delete removes the first rule matching rulespec.
func (r *RealExecutor) Delete(ctx context.Context, table string, chain string, rulespec ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.wrap("-D", table, chain, rulespec, r.ipt.Delete(table, chain, rulespec...))
}
