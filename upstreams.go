package droute

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"time"

	"github.com/heimdalr/dag"
	"github.com/miekg/dns"
)

// Upstreams holds all configured upstreams keyed by tag and the response cache they
// share. The set of upstreams is fixed once built, the cache is the only part that
// changes while serving queries.
type Upstreams[L Label] struct {
	upstreams map[L]*upstream[L]
	order     []L
	cache     CacheBackend
	metrics   *UpstreamsMetrics
}

type upstream[L Label] struct {
	Upstream[L]
	resolver Resolver // nil for hybrids
	hybrid   []L
}

type UpstreamsMetrics struct {
	// Queries sent per upstream tag.
	query *expvar.Map
	// Failures per upstream tag.
	failure *expvar.Map
	// Cache hit count.
	hit *expvar.Int
	// Cache miss count.
	miss *expvar.Int
}

// NewUpstreams builds the upstreams and an in-memory response cache holding up to
// cacheSize responses. A cacheSize of 0 disables caching. No network connections are
// made.
func NewUpstreams[L Label](list []Upstream[L], cacheSize int) (*Upstreams[L], error) {
	if cacheSize < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid cache size %d", cacheSize)}
	}
	var cache CacheBackend
	if cacheSize > 0 {
		cache = NewMemoryBackend(MemoryBackendOptions{Capacity: cacheSize})
	}
	u, err := NewUpstreamsWithCache(list, cache)
	if err != nil && cache != nil {
		cache.Close()
	}
	return u, err
}

// NewUpstreamsWithCache builds the upstreams with the given cache backend, which can
// be nil to disable caching. Hybrid references are checked before returning.
func NewUpstreamsWithCache[L Label](list []Upstream[L], cache CacheBackend) (*Upstreams[L], error) {
	u := &Upstreams[L]{
		upstreams: make(map[L]*upstream[L], len(list)),
		cache:     cache,
		metrics: &UpstreamsMetrics{
			query:   getVarMap("upstreams", "all", "query"),
			failure: getVarMap("upstreams", "all", "failure"),
			hit:     getVarInt("upstreams", "all", "cache-hit"),
			miss:    getVarInt("upstreams", "all", "cache-miss"),
		},
	}
	for _, up := range list {
		if _, ok := u.upstreams[up.Tag]; ok {
			return nil, &ConfigError{Tag: up.Tag.String(), Reason: "duplicate upstream"}
		}
		resolver, err := newUpstreamResolver(up)
		if err != nil {
			return nil, &ConfigError{Tag: up.Tag.String(), Reason: err.Error()}
		}
		if up.Timeout <= 0 {
			up.Timeout = DefaultUpstreamTimeout
		}
		entry := &upstream[L]{Upstream: up, resolver: resolver}
		if h, ok := up.Method.(Hybrid[L]); ok {
			entry.hybrid = h.Tags
		}
		u.upstreams[up.Tag] = entry
		u.order = append(u.order, up.Tag)
	}
	// Hybrids referencing each other would recurse forever
	if err := u.HybridCheck(); err != nil {
		return nil, err
	}
	return u, nil
}

// Exists returns an error if there is no upstream with the given tag.
func (u *Upstreams[L]) Exists(tag L) error {
	if _, ok := u.upstreams[tag]; !ok {
		return &ConfigError{Tag: tag.String(), Reason: "upstream not defined"}
	}
	return nil
}

// HybridCheck makes sure all upstreams referenced by hybrids exist and that hybrids
// don't reference themselves, directly or through other hybrids.
func (u *Upstreams[L]) HybridCheck() error {
	graph := dag.NewDAG()
	ids := make(map[L]string, len(u.order))
	for _, tag := range u.order {
		id, err := graph.AddVertex(tag.String())
		if err != nil {
			return &ConfigError{Tag: tag.String(), Reason: err.Error()}
		}
		ids[tag] = id
	}
	for _, tag := range u.order {
		up := u.upstreams[tag]
		seen := make(map[L]struct{}, len(up.hybrid))
		for _, dst := range up.hybrid {
			if err := u.Exists(dst); err != nil {
				return &ConfigError{Tag: tag.String(), Reason: fmt.Sprintf("hybrid references undefined upstream '%s'", dst)}
			}
			if _, ok := seen[dst]; ok {
				continue
			}
			seen[dst] = struct{}{}
			// The graph refuses edges that would close a loop, including self-references
			if err := graph.AddEdge(ids[tag], ids[dst]); err != nil {
				return &ConfigError{Tag: tag.String(), Reason: fmt.Sprintf("hybrid reference to '%s' forms a loop: %s", dst, err)}
			}
		}
	}
	return nil
}

// Resolve sends a query to the upstream with the given tag. Responses are served from
// the cache if possible. Errors are of type *UpstreamError.
func (u *Upstreams[L]) Resolve(ctx context.Context, tag L, q *dns.Msg) (*dns.Msg, error) {
	up, ok := u.upstreams[tag]
	if !ok {
		return nil, &UpstreamError{Tag: tag.String(), Err: ErrUnknownTag}
	}
	log := logger(tag.String(), q)

	useCache := u.cache != nil && cacheable(q)
	if useCache {
		if a, ok := u.cache.Lookup(q); ok {
			log.Debug("cache-hit")
			u.metrics.hit.Add(1)
			return a, nil
		}
		u.metrics.miss.Add(1)
	}

	a, err := u.exchange(ctx, up, q)
	if err != nil {
		return nil, &UpstreamError{Tag: tag.String(), Err: err}
	}

	// Store a copy since the caller may modify the response
	if useCache {
		if item, ok := newCacheAnswer(a.Copy(), time.Now()); ok {
			u.cache.Store(q, item)
		}
	}
	return a, nil
}

// Close releases the resources held by the cache.
func (u *Upstreams[L]) Close() error {
	if u.cache == nil {
		return nil
	}
	return u.cache.Close()
}

// Sends the query to an upstream, bypassing the cache. The exchange is bounded by the
// upstream's timeout.
func (u *Upstreams[L]) exchange(ctx context.Context, up *upstream[L], q *dns.Msg) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, up.Timeout)
	defer cancel()

	u.metrics.query.Add(up.Tag.String(), 1)
	var (
		a   *dns.Msg
		err error
	)
	if up.hybrid != nil {
		a, err = u.race(ctx, up, q)
	} else {
		a, err = up.resolver.Resolve(ctx, q)
	}
	if err != nil {
		u.metrics.failure.Add(up.Tag.String(), 1)
	}
	return a, err
}

// Sends the query to all upstreams of a hybrid concurrently and returns the first
// response that isn't a failure. Outstanding queries are cancelled once a response
// was chosen. If all upstreams return SERVFAIL, the last of those responses is
// returned. If none returns a response at all, the errors are combined. The race
// ends when ctx is done, even if sub-queries haven't returned.
func (u *Upstreams[L]) race(ctx context.Context, up *upstream[L], q *dns.Msg) (*dns.Msg, error) {
	log := logger(up.Tag.String(), q)

	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, q, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type response struct {
		tag L
		a   *dns.Msg
		err error
	}
	responseCh := make(chan response, len(up.hybrid))
	for _, tag := range up.hybrid {
		tag := tag
		sub, ok := u.upstreams[tag]
		if !ok {
			responseCh <- response{tag: tag, err: ErrUnknownTag}
			continue
		}
		go func() {
			a, err := u.exchange(ctx, sub, q.Copy())
			responseCh <- response{tag, a, err}
		}()
	}

	var (
		errs     []error
		servfail *dns.Msg
	)
	for range up.hybrid {
		var r response
		select {
		case r = <-responseCh:
		case <-ctx.Done():
			return nil, contextError(ctx, q, ctx.Err())
		}
		if r.err == nil && r.a.Rcode != dns.RcodeServerFailure {
			log.WithField("upstream", r.tag.String()).Debug("using response from upstream")
			return r.a, nil
		}
		if r.err != nil {
			errs = append(errs, &UpstreamError{Tag: r.tag.String(), Err: r.err})
		} else {
			servfail = r.a
		}
		log.WithField("upstream", r.tag.String()).WithError(r.err).Debug("upstream returned failure, waiting for next response")
	}
	if servfail != nil {
		return servfail, nil
	}
	return nil, errors.Join(errs...)
}
