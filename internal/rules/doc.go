// Package rules holds the data model of a redirection session and compiles
// subnet and nameserver declarations into the ordered list of nat rules that
// the iptables package installs. Order is significant: chains are evaluated
// first-match-wins, so the compiler is the single place that decides it.
package rules
