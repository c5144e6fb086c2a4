package droute

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Method is the transport used to reach an upstream. It's one of UDP, TCP, DoT, DoH
// or Hybrid.
type Method interface {
	fmt.Stringer
	method()
}

// UDP sends queries as plain DNS over UDP to Addr (<host>:<port>).
type UDP struct {
	Addr string
}

// TCP sends queries as plain DNS over TCP to Addr (<host>:<port>).
type TCP struct {
	Addr string
}

// DoT sends queries over DNS-over-TLS to Addr (<host>:<port>).
type DoT struct {
	Addr string

	// Name used to verify the server certificate, defaults to the host in Addr.
	ServerName string

	// IP to connect to instead of resolving the host in Addr.
	BootstrapAddr string

	TLSConfig *tls.Config
}

// DoH sends queries over DNS-over-HTTPS to URL, which can be a template like
// https://dns.example/dns-query{?dns}.
type DoH struct {
	URL string

	// GET or POST, defaults to POST.
	Method string

	// "tcp" for HTTP/2 or "quic" for HTTP/3, defaults to "tcp".
	Transport string

	// IP to connect to instead of resolving the host in URL.
	BootstrapAddr string

	TLSConfig *tls.Config
}

// Hybrid sends queries to all upstreams in Tags concurrently and uses the first
// successful response.
type Hybrid[L Label] struct {
	Tags []L
}

func (UDP) method()       {}
func (TCP) method()       {}
func (DoT) method()       {}
func (DoH) method()       {}
func (Hybrid[L]) method() {}

func (m UDP) String() string { return "udp://" + m.Addr }
func (m TCP) String() string { return "tcp://" + m.Addr }
func (m DoT) String() string { return "tls://" + m.Addr }
func (m DoH) String() string { return m.URL }

func (m Hybrid[L]) String() string {
	tags := make([]string, 0, len(m.Tags))
	for _, t := range m.Tags {
		tags = append(tags, t.String())
	}
	return fmt.Sprintf("hybrid(%s)", strings.Join(tags, ","))
}

// Upstream defines one resolver the router can send queries to.
type Upstream[L Label] struct {
	Tag    L
	Method Method

	// Maximum time to wait for a response. Defaults to DefaultUpstreamTimeout.
	Timeout time.Duration

	// Optional dialer, e.g. a SOCKS5 proxy. Supported for TCP, DoT and DoH over tcp.
	Dialer Dialer
}

// DefaultUpstreamTimeout is used for upstreams without a timeout.
const DefaultUpstreamTimeout = 5 * time.Second

// Builds the transport client for an upstream. Hybrids don't have a client of their own.
func newUpstreamResolver[L Label](u Upstream[L]) (Resolver, error) {
	id := u.Tag.String()
	switch m := u.Method.(type) {
	case UDP:
		if u.Dialer != nil {
			return nil, fmt.Errorf("proxy dialer not supported for udp")
		}
		return NewDNSClient(id, m.Addr, "udp", DNSClientOptions{})
	case TCP:
		return NewDNSClient(id, m.Addr, "tcp", DNSClientOptions{Dialer: u.Dialer})
	case DoT:
		tlsConfig := m.TLSConfig
		if m.ServerName != "" {
			if tlsConfig == nil {
				tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			} else {
				tlsConfig = tlsConfig.Clone()
			}
			tlsConfig.ServerName = m.ServerName
		}
		return NewDoTClient(id, m.Addr, DoTClientOptions{
			BootstrapAddr: m.BootstrapAddr,
			TLSConfig:     tlsConfig,
			Dialer:        u.Dialer,
		})
	case DoH:
		return NewDoHClient(id, m.URL, DoHClientOptions{
			Method:        m.Method,
			Transport:     m.Transport,
			BootstrapAddr: m.BootstrapAddr,
			TLSConfig:     m.TLSConfig,
			Dialer:        u.Dialer,
		})
	case Hybrid[L]:
		if len(m.Tags) == 0 {
			return nil, fmt.Errorf("hybrid without upstreams")
		}
		return nil, nil
	case nil:
		return nil, fmt.Errorf("no method defined")
	default:
		return nil, fmt.Errorf("unsupported method %s", m)
	}
}
