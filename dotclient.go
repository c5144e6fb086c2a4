package droute

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// DoTClient is a DNS-over-TLS resolver.
type DoTClient struct {
	id       string
	endpoint string
	client   *DNSClient
}

// DoTClientOptions contains options used by the DNS-over-TLS resolver.
type DoTClientOptions struct {
	// IP to connect to instead of resolving the host in the endpoint.
	BootstrapAddr string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	TLSConfig *tls.Config

	// Optional dialer, e.g. proxy
	Dialer Dialer
}

var _ Resolver = &DoTClient{}

// NewDoTClient instantiates a new DNS-over-TLS resolver.
func NewDoTClient(id, endpoint string, opt DoTClientOptions) (*DoTClient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dot endpoint '%s'", endpoint)
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	// With a bootstrap address, the connection goes to the IP while the handshake
	// still verifies the hostname.
	addr, err := withBootstrap(endpoint, opt.BootstrapAddr)
	if err != nil {
		return nil, err
	}
	client, err := NewDNSClient(id, addr, "tcp-tls", DNSClientOptions{
		LocalAddr: opt.LocalAddr,
		TLSConfig: tlsConfig,
		Dialer:    opt.Dialer,
	})
	if err != nil {
		return nil, err
	}
	return &DoTClient{
		id:       id,
		endpoint: endpoint,
		client:   client,
	}, nil
}

// Resolve a DNS query.
func (d *DoTClient) Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	// Packing a message is not always a read-only operation, make a copy
	q = q.Copy()

	// Add padding to the query before sending over TLS
	padQuery(q)
	a, err := d.client.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	stripPadding(a)
	return a, nil
}

func (d *DoTClient) String() string {
	return d.id
}
