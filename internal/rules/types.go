package rules

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Family identifies the address family of a session.
type Family int

const (
	FamilyUnspecified Family = 0
	FamilyIPv4        Family = 4
	FamilyIPv6        Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Bits returns the address width of the family, or 0 when unknown.
func (f Family) Bits() int {
	switch f {
	case FamilyIPv4:
		return 32
	case FamilyIPv6:
		return 128
	default:
		return 0
	}
}

// ParseFamily accepts the common spellings of the two families.
func ParseFamily(raw string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ipv4", "inet", "4", "v4":
		return FamilyIPv4, nil
	case "ipv6", "inet6", "6", "v6":
		return FamilyIPv6, nil
	default:
		return FamilyUnspecified, fmt.Errorf("unknown address family %q", raw)
	}
}

// FamilyOf reports the family of addr. IPv4-mapped IPv6 addresses count as IPv6.
func FamilyOf(addr netip.Addr) Family {
	switch {
	case !addr.IsValid():
		return FamilyUnspecified
	case addr.Is4():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

// SubnetSpec is one user-declared routing decision.
type SubnetSpec struct {
	Family  Family
	Width   int
	Exclude bool
	Network netip.Addr
}

// CIDR renders the subnet as network/width without masking host bits.
func (s SubnetSpec) CIDR() string {
	return fmt.Sprintf("%s/%d", s.Network, s.Width)
}

func (s SubnetSpec) String() string {
	if s.Exclude {
		return "!" + s.CIDR()
	}
	return s.CIDR()
}

// Nameserver is a DNS server whose UDP/53 traffic is relayed.
type Nameserver struct {
	Family  Family
	Address netip.Addr
}

func (n Nameserver) String() string {
	return n.Address.String()
}

// Action is the terminal target of a compiled rule.
type Action string

const (
	ActionReturn   Action = "RETURN"
	ActionRedirect Action = "REDIRECT"
)

const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"

	// DNSPort is the only UDP destination port this redirection mode captures.
	DNSPort = 53
)

// Rule is a single compiled nat rule. Empty match fields are omitted from the
// rulespec. LoopGuard marks rules that must not match packets re-emitted by
// the relay.
type Rule struct {
	Action      Action
	Source      string
	Destination string
	Protocol    string
	DestPort    int
	ToPort      int
	LoopGuard   bool
}

// MatchSpec returns the match portion of the rulespec.
func (r Rule) MatchSpec() []string {
	var spec []string
	if r.Source != "" {
		spec = append(spec, "-s", r.Source)
	}
	if r.Destination != "" {
		spec = append(spec, "-d", r.Destination)
	}
	if r.Protocol != "" {
		spec = append(spec, "-p", r.Protocol)
	}
	if r.DestPort != 0 {
		spec = append(spec, "--dport", strconv.Itoa(r.DestPort))
	}
	return spec
}

// TargetSpec returns the jump and target options of the rulespec.
func (r Rule) TargetSpec() []string {
	spec := []string{"-j", string(r.Action)}
	if r.Action == ActionRedirect && r.ToPort != 0 {
		spec = append(spec, "--to-ports", strconv.Itoa(r.ToPort))
	}
	return spec
}

// Spec returns the full rulespec without any loop guard.
func (r Rule) Spec() []string {
	return append(r.MatchSpec(), r.TargetSpec()...)
}

func (r Rule) String() string {
	s := strings.Join(r.Spec(), " ")
	if r.LoopGuard {
		s += " [loop-guard]"
	}
	return s
}
