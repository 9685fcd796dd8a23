package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFamily is returned for any family other than IPv4.
	ErrUnsupportedFamily = errors.New("address family unsupported by nat method")
	// ErrUnsupportedProtocol is returned when UDP-wide redirection is requested.
	ErrUnsupportedProtocol = errors.New("udp redirection not supported by nat method")
	ErrInvalidSubnet       = errors.New("invalid subnet")
	ErrInvalidNameserver   = errors.New("invalid nameserver")
	ErrInvalidPort         = errors.New("invalid port")
	ErrInvalidAddress      = errors.New("invalid local address")
)

// CheckSupport rejects families and protocols the nat method cannot serve.
// It must run before anything touches the firewall.
func CheckSupport(family Family, udp bool) error {
	if family != FamilyIPv4 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFamily, family)
	}
	if udp {
		return ErrUnsupportedProtocol
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s %d out of range", ErrInvalidPort, name, port)
	}
	return nil
}
