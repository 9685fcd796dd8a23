package rules

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseSubnet parses "10.0.0.0/24" or a bare address. A leading "!" marks
// the subnet as excluded.
func ParseSubnet(raw string) (SubnetSpec, error) {
	s := strings.TrimSpace(raw)
	exclude := strings.HasPrefix(s, "!")
	s = strings.TrimSpace(strings.TrimPrefix(s, "!"))
	if s == "" {
		return SubnetSpec{}, fmt.Errorf("%w: empty subnet %q", ErrInvalidSubnet, raw)
	}

	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return SubnetSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSubnet, raw, err)
		}
		addr = addr.Unmap()
		family := FamilyOf(addr)
		return SubnetSpec{Family: family, Width: family.Bits(), Exclude: exclude, Network: addr}, nil
	}

	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return SubnetSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSubnet, raw, err)
	}
	return SubnetSpec{
		Family:  FamilyOf(prefix.Addr()),
		Width:   prefix.Bits(),
		Exclude: exclude,
		Network: prefix.Addr(),
	}, nil
}

// ParseSubnets parses every non-blank entry in order.
func ParseSubnets(raw []string) ([]SubnetSpec, error) {
	subnets := make([]SubnetSpec, 0, len(raw))
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		subnet, err := ParseSubnet(entry)
		if err != nil {
			return nil, err
		}
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// ParseNameserver parses a single nameserver address.
func ParseNameserver(raw string) (Nameserver, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return Nameserver{}, fmt.Errorf("%w: %q: %v", ErrInvalidNameserver, raw, err)
	}
	addr = addr.Unmap()
	return Nameserver{Family: FamilyOf(addr), Address: addr}, nil
}

// ParseNameservers parses every non-blank entry in order.
func ParseNameservers(raw []string) ([]Nameserver, error) {
	nameservers := make([]Nameserver, 0, len(raw))
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		ns, err := ParseNameserver(entry)
		if err != nil {
			return nil, err
		}
		nameservers = append(nameservers, ns)
	}
	return nameservers, nil
}
