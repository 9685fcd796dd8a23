package rules

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
)

// DefaultContainerNet is the docker bridge range excluded from redirection.
var DefaultContainerNet = netip.MustParsePrefix("172.17.0.0/16")

// Compiler turns a session declaration into an ordered rule list.
type Compiler struct {
	// LocalAddr is the host's outbound address; traffic from or to it is never redirected.
	LocalAddr netip.Addr
	// ContainerNet defaults to DefaultContainerNet when zero.
	ContainerNet netip.Prefix
}

// Compile returns the four fixed exclusions, then the subnet rules from most
// to least specific, then one UDP/53 redirect per nameserver of the session
// family.
func (c Compiler) Compile(port int, dnsPort int, nameservers []Nameserver, family Family, subnets []SubnetSpec) ([]Rule, error) {
	if err := CheckSupport(family, false); err != nil {
		return nil, err
	}
	if err := validatePort("redirect port", port); err != nil {
		return nil, err
	}
	if FamilyOf(c.LocalAddr) != family {
		return nil, fmt.Errorf("%w: %s is not an %s address", ErrInvalidAddress, c.LocalAddr, family)
	}

	container := c.ContainerNet
	if !container.IsValid() {
		container = DefaultContainerNet
	}
	if FamilyOf(container.Addr()) != family {
		return nil, fmt.Errorf("%w: container network %s is not %s", ErrInvalidSubnet, container, family)
	}

	sorted, err := SortSubnets(family, subnets)
	if err != nil {
		return nil, err
	}

	host := netip.PrefixFrom(c.LocalAddr, family.Bits()).String()
	compiled := make([]Rule, 0, 4+len(sorted)+len(nameservers))
	compiled = append(compiled,
		Rule{Action: ActionReturn, Source: host},
		Rule{Action: ActionReturn, Destination: host},
		Rule{Action: ActionReturn, Source: container.String()},
		Rule{Action: ActionReturn, Destination: container.String()},
	)

	for _, subnet := range sorted {
		if subnet.Exclude {
			compiled = append(compiled, Rule{
				Action:      ActionReturn,
				Destination: subnet.CIDR(),
				Protocol:    ProtocolTCP,
			})
			continue
		}
		compiled = append(compiled, Rule{
			Action:      ActionRedirect,
			Destination: subnet.CIDR(),
			Protocol:    ProtocolTCP,
			ToPort:      port,
			LoopGuard:   true,
		})
	}

	dnsChecked := false
	for _, ns := range nameservers {
		if ns.Family != family {
			continue
		}
		if FamilyOf(ns.Address) != family {
			return nil, fmt.Errorf("%w: %s is not an %s address", ErrInvalidNameserver, ns.Address, family)
		}
		if !dnsChecked {
			if err := validatePort("dns port", dnsPort); err != nil {
				return nil, err
			}
			dnsChecked = true
		}
		compiled = append(compiled, Rule{
			Action:      ActionRedirect,
			Destination: netip.PrefixFrom(ns.Address, family.Bits()).String(),
			Protocol:    ProtocolUDP,
			DestPort:    DNSPort,
			ToPort:      dnsPort,
			LoopGuard:   true,
		})
	}

	return compiled, nil
}

// SortSubnets validates subnets against family and returns a copy ordered by
// width descending. At equal width excludes come first; remaining ties keep
// input order.
func SortSubnets(family Family, subnets []SubnetSpec) ([]SubnetSpec, error) {
	bits := family.Bits()
	for _, s := range subnets {
		if s.Family != family || FamilyOf(s.Network) != family {
			return nil, fmt.Errorf("%w: %s does not belong to %s", ErrInvalidSubnet, s, family)
		}
		if s.Width < 0 || s.Width > bits {
			return nil, fmt.Errorf("%w: %s width must be within 0-%d", ErrInvalidSubnet, s, bits)
		}
	}

	sorted := slices.Clone(subnets)
	slices.SortStableFunc(sorted, func(a, b SubnetSpec) int {
		if c := cmp.Compare(b.Width, a.Width); c != 0 {
			return c
		}
		switch {
		case a.Exclude == b.Exclude:
			return 0
		case a.Exclude:
			return -1
		default:
			return 1
		}
	})
	return sorted, nil
}
