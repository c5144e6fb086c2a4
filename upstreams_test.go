package droute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Builds upstreams for tests. Every non-hybrid upstream is answered by the given
// resolver instead of the network.
func testUpstreams(t *testing.T, cacheSize int, resolvers map[Tag]Resolver, hybrids map[Tag][]Tag) *Upstreams[Tag] {
	t.Helper()
	var list []Upstream[Tag]
	for tag := range resolvers {
		list = append(list, Upstream[Tag]{Tag: tag, Method: UDP{Addr: "127.0.0.1:53"}})
	}
	for tag, tags := range hybrids {
		list = append(list, Upstream[Tag]{Tag: tag, Method: Hybrid[Tag]{Tags: tags}})
	}
	u, err := NewUpstreams(list, cacheSize)
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	setTestResolvers(t, u, resolvers)
	return u
}

func TestUpstreamsConfigError(t *testing.T) {
	tests := map[string]struct {
		list      []Upstream[Tag]
		cacheSize int
	}{
		"duplicate tag": {
			list: []Upstream[Tag]{
				{Tag: "a", Method: UDP{Addr: "127.0.0.1:53"}},
				{Tag: "a", Method: TCP{Addr: "127.0.0.1:53"}},
			},
		},
		"invalid address": {
			list: []Upstream[Tag]{{Tag: "a", Method: UDP{Addr: "127.0.0.1"}}},
		},
		"invalid port": {
			list: []Upstream[Tag]{{Tag: "a", Method: TCP{Addr: "127.0.0.1:99999"}}},
		},
		"invalid doh method": {
			list: []Upstream[Tag]{{Tag: "a", Method: DoH{URL: "https://dns.example/dns-query", Method: "PUT"}}},
		},
		"invalid doh transport": {
			list: []Upstream[Tag]{{Tag: "a", Method: DoH{URL: "https://dns.example/dns-query", Transport: "sctp"}}},
		},
		"no method": {
			list: []Upstream[Tag]{{Tag: "a"}},
		},
		"empty hybrid": {
			list: []Upstream[Tag]{{Tag: "a", Method: Hybrid[Tag]{}}},
		},
		"negative cache size": {
			list:      []Upstream[Tag]{{Tag: "a", Method: UDP{Addr: "127.0.0.1:53"}}},
			cacheSize: -1,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewUpstreams(test.list, test.cacheSize)
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
		})
	}
}

func TestUpstreamsNoNetworkAtConstruction(t *testing.T) {
	u, err := NewUpstreams([]Upstream[Tag]{
		{Tag: "udp", Method: UDP{Addr: "192.0.2.1:53"}},
		{Tag: "tcp", Method: TCP{Addr: "192.0.2.1:53"}},
		{Tag: "dot", Method: DoT{Addr: "dns.example:853", BootstrapAddr: "192.0.2.1"}},
		{Tag: "doh", Method: DoH{URL: "https://dns.example/dns-query{?dns}", Method: "GET"}},
		{Tag: "doh3", Method: DoH{URL: "https://dns.example/dns-query", Transport: "quic"}},
		{Tag: "any", Method: Hybrid[Tag]{Tags: []Tag{"udp", "dot", "doh"}}},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, u.HybridCheck())
	require.NoError(t, u.Exists("doh3"))
	require.Error(t, u.Exists("missing"))
}

func TestUpstreamsHybridCheck(t *testing.T) {
	tests := map[string]struct {
		hybrids map[Tag][]Tag
		valid   bool
	}{
		"valid": {
			hybrids: map[Tag][]Tag{"h1": {"a", "b"}},
			valid:   true,
		},
		"nested": {
			hybrids: map[Tag][]Tag{"h1": {"a", "h2"}, "h2": {"b"}},
			valid:   true,
		},
		"duplicate reference": {
			hybrids: map[Tag][]Tag{"h1": {"a", "a"}},
			valid:   true,
		},
		"missing": {
			hybrids: map[Tag][]Tag{"h1": {"a", "c"}},
		},
		"self": {
			hybrids: map[Tag][]Tag{"h1": {"a", "h1"}},
		},
		"loop": {
			hybrids: map[Tag][]Tag{"h1": {"h2"}, "h2": {"h1"}},
		},
		"cycle": {
			hybrids: map[Tag][]Tag{"h1": {"h2"}, "h2": {"h3"}, "h3": {"h1"}},
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			list := []Upstream[Tag]{
				{Tag: "a", Method: UDP{Addr: "127.0.0.1:53"}},
				{Tag: "b", Method: UDP{Addr: "127.0.0.1:53"}},
			}
			for tag, tags := range test.hybrids {
				list = append(list, Upstream[Tag]{Tag: tag, Method: Hybrid[Tag]{Tags: tags}})
			}
			u, err := NewUpstreams(list, 0)
			if test.valid {
				require.NoError(t, err)
				require.NoError(t, u.HybridCheck())
				return
			}
			require.Nil(t, u)
			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
		})
	}
}

func TestUpstreamsHybridTimeout(t *testing.T) {
	// Sub-upstream that doesn't stop when its context is cancelled
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stuck := &TestResolver{
		ResolveFunc: func(context.Context, *dns.Msg) (*dns.Msg, error) {
			<-release
			return nil, errors.New("released")
		},
	}
	u, err := NewUpstreams([]Upstream[Tag]{
		{Tag: "stuck", Method: UDP{Addr: "127.0.0.1:53"}},
		{Tag: "hybrid", Method: Hybrid[Tag]{Tags: []Tag{"stuck"}}, Timeout: 50 * time.Millisecond},
	}, 0)
	require.NoError(t, err)
	setTestResolvers(t, u, map[Tag]Resolver{"stuck": stuck})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	start := time.Now()
	_, err = u.Resolve(context.Background(), "hybrid", q)
	var timeoutErr QueryTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Less(t, time.Since(start), 2*time.Second)

	// An expired context doesn't start any sub-queries
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Resolve(ctx, "hybrid", q)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, stuck.HitCount())
}

func TestUpstreamsUnknownTag(t *testing.T) {
	u := testUpstreams(t, 0, map[Tag]Resolver{"a": new(TestResolver)}, nil)
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	_, err := u.Resolve(context.Background(), "b", q)
	require.ErrorIs(t, err, ErrUnknownTag)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.Equal(t, "b", upstreamErr.Tag)
}

func TestUpstreamsCache(t *testing.T) {
	r := &TestResolver{
		ResolveFunc: func(_ context.Context, q *dns.Msg) (*dns.Msg, error) {
			return answerA(q, "1.1.1.1", 60), nil
		},
	}
	u := testUpstreams(t, 10, map[Tag]Resolver{"a": r}, nil)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = 1
	a, err := u.Resolve(context.Background(), "a", q)
	require.NoError(t, err)
	require.Equal(t, uint16(1), a.Id)
	require.Equal(t, 1, r.HitCount())

	// Second query is answered from the cache, with its own ID
	q.Id = 2
	a, err = u.Resolve(context.Background(), "a", q)
	require.NoError(t, err)
	require.Equal(t, uint16(2), a.Id)
	require.Equal(t, "1.1.1.1", a.Answer[0].(*dns.A).A.String())
	require.Equal(t, 1, r.HitCount())

	// Names differing in case share the cache entry, the question is the client's
	q.SetQuestion("ExAmPlE.cOm.", dns.TypeA)
	a, err = u.Resolve(context.Background(), "a", q)
	require.NoError(t, err)
	require.Equal(t, "ExAmPlE.cOm.", a.Question[0].Name)
	require.Equal(t, 1, r.HitCount())

	// Different name goes upstream
	q.SetQuestion("example.net.", dns.TypeA)
	_, err = u.Resolve(context.Background(), "a", q)
	require.NoError(t, err)
	require.Equal(t, 2, r.HitCount())
}

func TestUpstreamsCacheDisabled(t *testing.T) {
	r := &TestResolver{
		ResolveFunc: func(_ context.Context, q *dns.Msg) (*dns.Msg, error) {
			return answerA(q, "1.1.1.1", 60), nil
		},
	}
	u := testUpstreams(t, 0, map[Tag]Resolver{"a": r}, nil)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	for i := 0; i < 3; i++ {
		_, err := u.Resolve(context.Background(), "a", q)
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.HitCount())
}

func TestUpstreamsCacheNotForNegative(t *testing.T) {
	r := new(TestResolver) // empty NOERROR responses
	u := testUpstreams(t, 10, map[Tag]Resolver{"a": r}, nil)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	for i := 0; i < 2; i++ {
		_, err := u.Resolve(context.Background(), "a", q)
		require.NoError(t, err)
	}
	require.Equal(t, 2, r.HitCount())
}

func TestUpstreamsTimeout(t *testing.T) {
	r := &TestResolver{
		ResolveFunc: func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	u, err := NewUpstreams([]Upstream[Tag]{
		{Tag: "slow", Method: UDP{Addr: "127.0.0.1:53"}, Timeout: 50 * time.Millisecond},
	}, 0)
	require.NoError(t, err)
	setTestResolvers(t, u, map[Tag]Resolver{"slow": r})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	start := time.Now()
	_, err = u.Resolve(context.Background(), "slow", q)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestUpstreamsDefaultTimeout(t *testing.T) {
	u, err := NewUpstreams([]Upstream[Tag]{{Tag: "a", Method: UDP{Addr: "127.0.0.1:53"}}}, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultUpstreamTimeout, u.upstreams["a"].Timeout)
}

func TestUpstreamsCancel(t *testing.T) {
	r := &TestResolver{
		ResolveFunc: func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	u := testUpstreams(t, 0, map[Tag]Resolver{"a": r}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := u.Resolve(ctx, "a", q)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUpstreamsHybridFirstSuccess(t *testing.T) {
	cancelled := make(chan struct{})
	failing := &TestResolver{
		ResolveFunc: func(context.Context, *dns.Msg) (*dns.Msg, error) {
			return nil, errors.New("failed")
		},
	}
	servfailing := &TestResolver{
		ResolveFunc: func(_ context.Context, q *dns.Msg) (*dns.Msg, error) {
			return servfail(q), nil
		},
	}
	slow := &TestResolver{
		ResolveFunc: func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	}
	good := &TestResolver{
		ResolveFunc: func(_ context.Context, q *dns.Msg) (*dns.Msg, error) {
			return answerA(q, "2.2.2.2", 60), nil
		},
	}
	u := testUpstreams(t, 0,
		map[Tag]Resolver{"failing": failing, "servfail": servfailing, "slow": slow, "good": good},
		map[Tag][]Tag{"hybrid": {"failing", "servfail", "slow", "good"}},
	)
	require.NoError(t, u.HybridCheck())

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := u.Resolve(context.Background(), "hybrid", q)
	require.NoError(t, err)
	require.Equal(t, "2.2.2.2", a.Answer[0].(*dns.A).A.String())

	// The outstanding query should be cancelled once a response was picked
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("slow upstream wasn't cancelled")
	}
	require.Equal(t, 1, good.HitCount())
	require.Equal(t, 1, slow.HitCount())
}

func TestUpstreamsHybridAllFail(t *testing.T) {
	failing := &TestResolver{
		ResolveFunc: func(context.Context, *dns.Msg) (*dns.Msg, error) {
			return nil, errors.New("failed")
		},
	}
	u := testUpstreams(t, 0,
		map[Tag]Resolver{"a": failing, "b": failing},
		map[Tag][]Tag{"hybrid": {"a", "b"}},
	)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := u.Resolve(context.Background(), "hybrid", q)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.Equal(t, "hybrid", upstreamErr.Tag)
	require.Equal(t, 2, failing.HitCount())
}

func TestUpstreamsHybridAllServfail(t *testing.T) {
	servfailing := &TestResolver{
		ResolveFunc: func(_ context.Context, q *dns.Msg) (*dns.Msg, error) {
			return servfail(q), nil
		},
	}
	u := testUpstreams(t, 0,
		map[Tag]Resolver{"a": servfailing, "b": servfailing},
		map[Tag][]Tag{"hybrid": {"a", "b"}},
	)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := u.Resolve(context.Background(), "hybrid", q)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, a.Rcode)
}

func TestUpstreamsNetwork(t *testing.T) {
	handler := func(w dns.ResponseWriter, q *dns.Msg) {
		_ = w.WriteMsg(answerA(q, "1.1.1.1", 32))
	}
	udpAddr := startTestServer(t, "udp", handler)
	tcpAddr := startTestServer(t, "tcp", handler)

	u, err := NewUpstreams([]Upstream[Tag]{
		{Tag: "udp", Method: UDP{Addr: udpAddr}},
		{Tag: "tcp", Method: TCP{Addr: tcpAddr}},
		{Tag: "both", Method: Hybrid[Tag]{Tags: []Tag{"udp", "tcp"}}},
	}, 0)
	require.NoError(t, err)

	for _, tag := range []Tag{"udp", "tcp", "both"} {
		q := new(dns.Msg)
		q.SetQuestion("www.apple.com.", dns.TypeA)
		a, err := u.Resolve(context.Background(), tag, q)
		require.NoError(t, err, "upstream %s", tag)
		require.Equal(t, q.Id, a.Id)
		require.Len(t, a.Answer, 1)
		require.Equal(t, "1.1.1.1", a.Answer[0].(*dns.A).A.String())
	}
}
