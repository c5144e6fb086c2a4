package droute

import (
	"context"
	"net"
)

// Dialer opens connections to upstream resolvers, for example through a proxy.
// *net.Dialer satisfies it. Dialers that also implement DialContext are cancelled
// together with the query.
type Dialer interface {
	Dial(network string, address string) (net.Conn, error)
}

type contextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connects with d, giving up when ctx is done. A connection completing after that is
// closed.
func dialContext(ctx context.Context, d Dialer, network, address string) (net.Conn, error) {
	if cd, ok := d.(contextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	type result struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := d.Dial(network, address)
		resultCh <- result{conn, err}
	}()
	select {
	case r := <-resultCh:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Replaces the host in addr with the bootstrap IP, if one is set.
func withBootstrap(addr, bootstrap string) (string, error) {
	if bootstrap == "" {
		return addr, nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(bootstrap, port), nil
}
