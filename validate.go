package droute

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Returns nil if the upstream address in the form of <host>:<port> is valid.
func validEndpoint(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid port in '%s': %w", addr, err)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	return validHostname(host)
}

// Returns nil if the given name is a valid hostname as per https://tools.ietf.org/html/rfc1123#page-13
func validHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("invalid hostname %q: too long", name)
	}
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("invalid hostname %q: empty label", name)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("invalid hostname %q: label can not start or end with -", name)
		}
		for _, c := range label {
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			default:
				return fmt.Errorf("invalid hostname %q: invalid character %q", name, string(c))
			}
		}
	}
	// The last label can not be all-numeric
	if strings.Trim(labels[len(labels)-1], "0123456789") == "" {
		return fmt.Errorf("invalid hostname %q: last label can not be all numeric", name)
	}
	return nil
}
