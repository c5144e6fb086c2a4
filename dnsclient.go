package droute

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// DNSClient represents a simple DNS resolver for UDP, TCP or DNS-over-TLS. Every query
// uses its own connection.
type DNSClient struct {
	id       string
	endpoint string
	net      string
	opt      DNSClientOptions
}

// DNSClientOptions contains options used by the plain DNS and DoT resolvers.
type DNSClientOptions struct {
	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	// TLS configuration, only used with the "tcp-tls" network.
	TLSConfig *tls.Config

	// Optional dialer, e.g. proxy. Only supported for stream networks.
	Dialer Dialer

	// Buffer size for UDP responses, defaults to dns.DefaultMsgSize.
	UDPSize uint16
}

var _ Resolver = &DNSClient{}

// NewDNSClient returns a new instance of DNSClient. net is one of "udp", "tcp" or
// "tcp-tls".
func NewDNSClient(id, endpoint, net string, opt DNSClientOptions) (*DNSClient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	switch net {
	case "udp", "tcp", "tcp-tls":
	default:
		return nil, fmt.Errorf("unsupported network '%s'", net)
	}
	if net == "udp" && opt.Dialer != nil {
		return nil, errors.New("custom dialers are not supported for udp")
	}
	if opt.UDPSize == 0 {
		opt.UDPSize = dns.DefaultMsgSize
	}
	return &DNSClient{
		id:       id,
		endpoint: endpoint,
		net:      net,
		opt:      opt,
	}, nil
}

// Resolve a DNS query.
func (d *DNSClient) Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	logger(d.id, q).WithField("resolver", d.endpoint).WithField("protocol", d.net).Debug("querying upstream resolver")

	conn, err := d.dial(ctx)
	if err != nil {
		return nil, contextError(ctx, q, err)
	}
	defer conn.Close()

	// Unblock reads and writes as soon as the caller gives up or the deadline passes
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	co := &dns.Conn{Conn: conn, UDPSize: d.opt.UDPSize}
	if err := co.WriteMsg(q); err != nil {
		return nil, contextError(ctx, q, err)
	}
	for {
		a, err := co.ReadMsg()
		if err != nil {
			return nil, contextError(ctx, q, err)
		}
		// Stray responses on UDP are ignored, keep reading until ours arrives
		if a.Id != q.Id && d.net == "udp" {
			continue
		}
		if err := checkAnswer(q, a); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func (d *DNSClient) String() string {
	return d.id
}

func (d *DNSClient) dial(ctx context.Context) (net.Conn, error) {
	network := "udp"
	if d.net != "udp" {
		network = "tcp"
	}
	var (
		conn net.Conn
		err  error
	)
	if d.opt.Dialer != nil {
		conn, err = dialContext(ctx, d.opt.Dialer, network, d.endpoint)
	} else {
		dialer := net.Dialer{}
		if d.opt.LocalAddr != nil {
			if network == "udp" {
				dialer.LocalAddr = &net.UDPAddr{IP: d.opt.LocalAddr}
			} else {
				dialer.LocalAddr = &net.TCPAddr{IP: d.opt.LocalAddr}
			}
		}
		conn, err = dialer.DialContext(ctx, network, d.endpoint)
	}
	if err != nil || d.net != "tcp-tls" {
		return conn, err
	}
	tlsConn := tls.Client(conn, d.opt.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// As per https://tools.ietf.org/html/rfc7858#section-3.3, we need to double check the
// response really is the answer to the query.
func checkAnswer(q, a *dns.Msg) error {
	if a.Id != q.Id {
		return fmt.Errorf("expected answer with id %d, got %d", q.Id, a.Id)
	}
	if len(a.Question) > 0 && len(q.Question) > 0 {
		qq := q.Question[0]
		aq := a.Question[0]
		if !equalName(aq.Name, qq.Name) || aq.Qclass != qq.Qclass || aq.Qtype != qq.Qtype {
			return fmt.Errorf("expected answer for %s, got %s", qq.String(), aq.String())
		}
	}
	return nil
}

func equalName(a, b string) bool {
	return len(a) == len(b) && dns.CanonicalName(a) == dns.CanonicalName(b)
}

// Translates errors caused by an expired or cancelled context into something more
// meaningful than "use of closed network connection".
func contextError(ctx context.Context, q *dns.Msg, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return QueryTimeoutError{q}
	case ctx.Err() != nil:
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return QueryTimeoutError{q}
	}
	return err
}
