package hostaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme is the required prefix on every configured aux node address.
const Scheme = "aux://"

// DefaultPort is used when the address omits an explicit port.
const DefaultPort uint16 = 18142

// Spec is a parsed, resolved node address.
type Spec struct {
	IsIPv6 bool
	IP     string
	Port   uint16
}

// HostPort returns the dialable "host:port" form, bracketing IPv6 literals.
func (s Spec) HostPort() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(int(s.Port)))
}

var (
	errMissingPrefix = errors.New("missing " + Scheme + " prefix")
	errEmptyHost     = errors.New("empty host")
)

// Parse validates and resolves a configured node address.
//
// The Scheme prefix is mandatory and trailing '/' runs are stripped before the
// remainder is split into host and port. When resolve is true, a hostname is
// looked up and the first usable address wins; when false the hostname is kept
// as-is for the dialer to resolve later. A port of 0 is rejected.
func Parse(host string, resolve bool) (Spec, error) {
	if !strings.HasPrefix(host, Scheme) {
		return Spec{}, fmt.Errorf("invalid host %q: %w", host, errMissingPrefix)
	}

	rest := strings.TrimRight(strings.TrimPrefix(host, Scheme), "/")
	if rest == "" {
		return Spec{}, fmt.Errorf("invalid host %q: %w", host, errEmptyHost)
	}

	name, port, err := splitHostPort(rest)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid host %q: %w", host, err)
	}

	if ip := net.ParseIP(name); ip != nil {
		return Spec{IsIPv6: ip.To4() == nil, IP: name, Port: port}, nil
	}

	if !resolve {
		return Spec{IP: name, Port: port}, nil
	}

	ips, err := net.LookupIP(name)
	if err != nil {
		return Spec{}, fmt.Errorf("resolve %q: %w", name, err)
	}
	for _, ip := range ips {
		return Spec{IsIPv6: ip.To4() == nil, IP: ip.String(), Port: port}, nil
	}
	return Spec{}, fmt.Errorf("resolve %q: no addresses", name)
}

// splitHostPort splits "host[:port]", tolerating a missing port and bracketed
// or bare IPv6 literals.
func splitHostPort(s string) (string, uint16, error) {
	name, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present. A bare IPv6 literal also lands here because of
		// its colons; strip optional brackets and use the default port.
		// Anything else with a colon is malformed, not a portless host.
		name = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		if name == "" {
			return "", 0, errEmptyHost
		}
		if strings.Contains(name, ":") && net.ParseIP(name) == nil {
			return "", 0, fmt.Errorf("invalid address %q", s)
		}
		return name, DefaultPort, nil
	}

	if name == "" {
		return "", 0, errEmptyHost
	}

	n, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}

	return name, uint16(n), nil
}
