// Package netaddr discovers the host's IPv4 address for a given
// interface prefix, the Go equivalent of the original's getifaddrs-based
// get_ip(): walk every interface, keep the first IPv4 address on an
// interface whose name matches the configured prefix.
package netaddr

import (
	"fmt"
	"net"
	"strings"
)

// DiscoverIP returns the first IPv4 address bound to an interface whose
// name starts with prefix. override, if non-empty, is returned unchanged
// without touching the network stack at all.
func DiscoverIP(prefix, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("netaddr: list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if !strings.HasPrefix(iface.Name, prefix) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := ipFromAddr(a)
			if ip != nil && ip.To4() != nil {
				return ip.String(), nil
			}
		}
	}

	return "", fmt.Errorf("netaddr: no IPv4 address found on an interface prefixed %q", prefix)
}

func ipFromAddr(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}
