package droute

import (
	"context"
	"expvar"
	"fmt"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// TTL of the SOA record returned for suppressed AAAA queries, 1 day.
const suppressedTTL = 86400

// SOA payload for suppressed AAAA queries. Same values as used by smartdns for forged
// IPv6 answers, clients cache the empty answer for minttl seconds.
var suppressedSOA = dns.SOA{
	Ns:      "a.gtld-servers.net.",
	Mbox:    "nstld.verisign-grs.com.",
	Serial:  1800,
	Refresh: 1800,
	Retry:   900,
	Expire:  604800,
	Minttl:  86400,
}

// Router sends DNS queries to upstreams based on the query name. It is built and
// validated once and is read-only afterwards, so it can be used by any number of
// goroutines.
type Router[L Label] struct {
	filter      *Filter[L]
	upstreams   *Upstreams[L]
	disableIPv6 bool
	metrics     *RouterMetrics
}

type RouterMetrics struct {
	// Routing decisions by tag.
	route *expvar.Map
	// Upstream failures answered with SERVFAIL.
	servfail *expvar.Int
	// AAAA queries answered without upstream.
	suppressed *expvar.Int
}

var _ dns.Handler = &Router[Tag]{}

// NewRouter builds a router with its upstreams and an in-memory cache of cacheSize
// responses (0 disables caching). The configuration is checked before the router is
// returned.
func NewRouter[L Label](upstreams []Upstream[L], disableIPv6 bool, cacheSize int, defaultTag L, rules []Rule[L]) (*Router[L], error) {
	u, err := NewUpstreams(upstreams, cacheSize)
	if err != nil {
		return nil, err
	}
	r, err := NewRouterWithUpstreams(u, disableIPv6, defaultTag, rules)
	if err != nil {
		u.Close()
		return nil, err
	}
	return r, nil
}

// NewRouterWithUpstreams builds a router from existing upstreams, for example with a
// Redis cache backend. The configuration is checked before the router is returned.
func NewRouterWithUpstreams[L Label](upstreams *Upstreams[L], disableIPv6 bool, defaultTag L, rules []Rule[L]) (*Router[L], error) {
	r := &Router[L]{
		filter:      NewFilter(defaultTag, rules...),
		upstreams:   upstreams,
		disableIPv6: disableIPv6,
		metrics: &RouterMetrics{
			route:      getVarMap("router", "main", "route"),
			servfail:   getVarInt("router", "main", "servfail"),
			suppressed: getVarInt("router", "main", "suppressed"),
		},
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r, nil
}

// Check validates that all tags used by rules and hybrids, as well as the default
// tag, refer to defined upstreams and that hybrids don't form loops.
func (r *Router[L]) Check() error {
	if err := r.upstreams.HybridCheck(); err != nil {
		return err
	}
	for _, dst := range r.filter.Dsts() {
		if err := r.upstreams.Exists(dst); err != nil {
			return &ConfigError{Tag: dst.String(), Reason: "rule references undefined upstream"}
		}
	}
	if err := r.upstreams.Exists(r.filter.DefaultTag()); err != nil {
		return &ConfigError{Tag: r.filter.DefaultTag().String(), Reason: "default tag references undefined upstream"}
	}
	return nil
}

// Resolve a query using the routing rules. A valid response is always returned,
// upstream failures are answered with SERVFAIL.
func (r *Router[L]) Resolve(ctx context.Context, q *dns.Msg) *dns.Msg {
	var tag L
	if len(q.Question) == 1 {
		question := q.Question[0]
		if question.Qtype == dns.TypeAAAA && r.disableIPv6 {
			r.metrics.suppressed.Add(1)
			logger("router", q).Debug("ipv6 disabled, answering with soa")
			return suppressIPv6(q)
		}
		tag = r.filter.Upstream(nameToUnicode(question.Name))
	} else {
		Log.WithFields(logrus.Fields{"qid": q.Id, "questions": len(q.Question)}).
			Warn("message contains multiple or zero questions, routing to default tag, ipv6 suppression is not applied")
		tag = r.filter.DefaultTag()
	}
	r.metrics.route.Add(tag.String(), 1)

	log := logger("router", q).WithField("upstream", tag.String())
	log.Debug("routing query")
	a, err := r.upstreams.Resolve(ctx, tag, q)
	if err != nil {
		log.WithError(err).Warn("upstream failed, returning servfail")
		r.metrics.servfail.Add(1)
		return servfail(q)
	}
	return a
}

// ServeDNS answers queries received by a dns.Server.
func (r *Router[L]) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	_ = w.WriteMsg(r.Resolve(context.Background(), req))
}

func (r *Router[L]) String() string {
	return fmt.Sprintf("Router(%s)", r.filter)
}

// Returns the query with a SOA record for the queried name added, which clients treat
// as "no AAAA records".
func suppressIPv6(q *dns.Msg) *dns.Msg {
	a := q.Copy()
	a.Response = true
	soa := suppressedSOA
	soa.Hdr = dns.RR_Header{
		Name:   q.Question[0].Name,
		Rrtype: dns.TypeSOA,
		Class:  dns.ClassINET,
		Ttl:    suppressedTTL,
	}
	a.Extra = append(a.Extra, &soa)
	return a
}

// Close releases the resources held by the upstreams, like cache connections.
func (r *Router[L]) Close() error {
	return r.upstreams.Close()
}
