package droute

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Returns a server TLS config with a certificate for 127.0.0.1 and a client config
// trusting it.
func testTLSConfigs(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)
	return &tls.Config{Certificates: ts.TLS.Certificates}, clientTLSConfig(ts)
}

// Returns a client TLS config that trusts the certificate of a test server.
func clientTLSConfig(ts *httptest.Server) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}

func TestDoTClientSimple(t *testing.T) {
	serverTLS, clientTLS := testTLSConfigs(t)

	var padded atomic.Bool
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	s := &dns.Server{
		Listener: ln,
		Net:      "tcp-tls",
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, q *dns.Msg) {
			padded.Store(q.Len()%QueryPaddingBlockSize == 0)
			a := answerA(q, "1.2.3.4", 60)
			a.SetEdns0(4096, false)
			a.IsEdns0().Option = append(a.IsEdns0().Option, &dns.EDNS0_PADDING{Padding: make([]byte, 16)})
			_ = w.WriteMsg(a)
		}),
	}
	started := make(chan struct{})
	s.NotifyStartedFunc = func() { close(started) }
	go func() { _ = s.ActivateAndServe() }()
	<-started
	defer s.Shutdown()

	d, err := NewDoTClient("test-dot", ln.Addr().String(), DoTClientOptions{TLSConfig: clientTLS})
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.SetEdns0(4096, false)
	a, err := d.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", a.Answer[0].(*dns.A).A.String())
	require.True(t, padded.Load(), "query not padded")

	// Padding is removed from the response
	for _, opt := range a.IsEdns0().Option {
		require.NotEqual(t, dns.EDNS0PADDING, opt.Option())
	}

	// The caller's query is unchanged
	require.Len(t, q.IsEdns0().Option, 0)
}

func TestDoTClientUntrusted(t *testing.T) {
	serverTLS, _ := testTLSConfigs(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	s := &dns.Server{
		Listener: ln,
		Net:      "tcp-tls",
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, q *dns.Msg) {
			_ = w.WriteMsg(answerA(q, "1.2.3.4", 60))
		}),
	}
	started := make(chan struct{})
	s.NotifyStartedFunc = func() { close(started) }
	go func() { _ = s.ActivateAndServe() }()
	<-started
	defer s.Shutdown()

	// Default config doesn't trust the test certificate
	d, err := NewDoTClient("test-dot", ln.Addr().String(), DoTClientOptions{})
	require.NoError(t, err)
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err = d.Resolve(context.Background(), q)
	require.Error(t, err)
}
