package droute

import (
	"net"
	"time"

	"github.com/txthinking/socks5"
)

// Socks5Dialer connects to upstream resolvers through a SOCKS5 proxy.
type Socks5Dialer struct {
	*socks5.Client
	opt Socks5DialerOptions
}

type Socks5DialerOptions struct {
	Username   string
	Password   string
	UDPTimeout time.Duration
	TCPTimeout time.Duration
	LocalAddr  net.IP
}

var _ Dialer = (*Socks5Dialer)(nil)

// NewSocks5Dialer returns a dialer for the proxy at addr.
func NewSocks5Dialer(addr string, opt Socks5DialerOptions) (*Socks5Dialer, error) {
	client, err := socks5.NewClient(
		addr,
		opt.Username,
		opt.Password,
		int(opt.TCPTimeout.Seconds()),
		int(opt.UDPTimeout.Seconds()),
	)
	if err != nil {
		return nil, err
	}
	return &Socks5Dialer{Client: client, opt: opt}, nil
}

func (d *Socks5Dialer) Dial(network string, address string) (net.Conn, error) {
	if d.opt.LocalAddr != nil {
		return d.Client.DialWithLocalAddr(network, d.opt.LocalAddr.String(), address, nil)
	}
	return d.Client.Dial(network, address)
}
