// Package resolver looks up the host address excluded from redirection.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/vishvananda/netlink"
	"go4.org/netipx"

	"github.com/denniswebb/shuttlewire/internal/rules"
)

// DefaultInterface is used when no interface is configured.
const DefaultInterface = "eth0"

// ErrNoAddress means the interface exists but carries no address of the family.
var ErrNoAddress = errors.New("no address of the requested family")

// Netlinker abstracts the netlink calls the resolver needs.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
}

// RealNetlinker talks to the kernel through vishvananda/netlink.
type RealNetlinker struct{}

func (RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

func (RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}

// ResolutionError reports that no usable local address was found.
type ResolutionError struct {
	Interface string
	Family    rules.Family
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s address of %s: %v", e.Family, e.Interface, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver finds the local outbound address of an interface.
type Resolver struct {
	nl     Netlinker
	logger *slog.Logger
}

// New returns a Resolver. A nil Netlinker selects RealNetlinker.
func New(nl Netlinker, logger *slog.Logger) *Resolver {
	if nl == nil {
		nl = RealNetlinker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{nl: nl, logger: logger}
}

// LocalAddress returns the first address of family assigned to iface.
func (r *Resolver) LocalAddress(ctx context.Context, iface string, family rules.Family) (netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}

	var nlFamily int
	switch family {
	case rules.FamilyIPv4:
		nlFamily = netlink.FAMILY_V4
	case rules.FamilyIPv6:
		nlFamily = netlink.FAMILY_V6
	default:
		return netip.Addr{}, &ResolutionError{Interface: iface, Family: family, Err: rules.ErrUnsupportedFamily}
	}

	link, err := r.nl.LinkByName(iface)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Interface: iface, Family: family, Err: err}
	}

	addrs, err := r.nl.AddrList(link, nlFamily)
	if err != nil {
		return netip.Addr{}, &ResolutionError{Interface: iface, Family: family, Err: err}
	}

	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		prefix, ok := netipx.FromStdIPNet(a.IPNet)
		if !ok || rules.FamilyOf(prefix.Addr()) != family {
			continue
		}
		r.logger.Debug("resolved local address",
			slog.String("interface", iface),
			slog.String("address", prefix.Addr().String()),
		)
		return prefix.Addr(), nil
	}

	return netip.Addr{}, &ResolutionError{Interface: iface, Family: family, Err: ErrNoAddress}
}
