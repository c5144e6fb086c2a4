package droute

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

// TestResolver is a Resolver that counts queries and answers them with ResolveFunc.
// Without a ResolveFunc, queries are answered with an empty NOERROR response.
type TestResolver struct {
	ResolveFunc func(context.Context, *dns.Msg) (*dns.Msg, error)

	mu       sync.Mutex
	hitCount int
}

var _ Resolver = &TestResolver{}

func (r *TestResolver) Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	r.mu.Lock()
	r.hitCount++
	r.mu.Unlock()
	if r.ResolveFunc != nil {
		return r.ResolveFunc(ctx, q)
	}
	a := new(dns.Msg)
	a.SetReply(q)
	return a, nil
}

func (r *TestResolver) HitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitCount
}

func (r *TestResolver) String() string {
	return "TestResolver()"
}

// Returns a response to q with a single A record.
func answerA(q *dns.Msg, ip string, ttl uint32) *dns.Msg {
	a := new(dns.Msg)
	a.SetReply(q)
	a.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Question[0].Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			A: net.ParseIP(ip),
		},
	}
	return a
}

// Replaces the transport clients of upstreams with test resolvers.
func setTestResolvers(t *testing.T, u *Upstreams[Tag], resolvers map[Tag]Resolver) {
	t.Helper()
	for tag, r := range resolvers {
		up, ok := u.upstreams[tag]
		if !ok {
			t.Fatalf("upstream %s not defined", tag)
		}
		up.resolver = r
	}
}

// Starts a DNS server on a loopback port and returns its address. The server is shut
// down when the test ends.
func startTestServer(t *testing.T, network string, handler dns.HandlerFunc) string {
	t.Helper()
	s := &dns.Server{Handler: handler}
	var addr string
	switch network {
	case "udp":
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		s.PacketConn = pc
		addr = pc.LocalAddr().String()
	case "tcp":
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		s.Listener = l
		addr = l.Addr().String()
	default:
		t.Fatalf("unsupported network %s", network)
	}
	started := make(chan struct{})
	s.NotifyStartedFunc = func() { close(started) }
	go func() { _ = s.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = s.Shutdown() })
	return addr
}
