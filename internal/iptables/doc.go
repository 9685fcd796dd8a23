// Package iptables owns the per-session nat chain. A Manager creates the
// chain named after the redirect port, binds it at the head of OUTPUT and
// PREROUTING, and tears it down idempotently. An Applier appends compiled
// rules to the bound chain in order, adding the TTL loop guard to REDIRECT
// rules.
package iptables
