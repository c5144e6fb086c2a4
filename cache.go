package droute

import (
	"math"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// CacheBackend stores responses received from upstreams. Implementations must be
// safe for concurrent use, synchronizing individual operations only.
type CacheBackend interface {
	// Store a response for the query.
	Store(query *dns.Msg, item *cacheAnswer)

	// Lookup returns a copy of a cached response with the ID of q and TTLs reduced by
	// the time spent in the cache, or false if there's no unexpired response.
	Lookup(q *dns.Msg) (*dns.Msg, bool)

	// Number of items in the cache.
	Size() int

	// Release resources held by the backend.
	Close() error
}

type cacheAnswer struct {
	Timestamp time.Time // Time the record was cached. Needed to adjust TTL
	Expiry    time.Time // Time the record expires and should be removed
	*dns.Msg
}

// Key used to store a response. Only fields that can change the answer are part of
// the key.
type cacheKey struct {
	name   string
	qtype  uint16
	qclass uint16
	do     bool
}

func cacheKeyFromQuery(q *dns.Msg) cacheKey {
	question := q.Question[0]
	key := cacheKey{
		name:   strings.ToLower(question.Name),
		qtype:  question.Qtype,
		qclass: question.Qclass,
	}
	if edns0 := q.IsEdns0(); edns0 != nil {
		key.do = edns0.Do()
	}
	return key
}

// Only queries with exactly one question are cached. Multiple questions are part of
// the standard but not supported by servers.
func cacheable(q *dns.Msg) bool {
	return len(q.Question) == 1
}

// Prepares a response for the cache. The expiry is determined by the lowest TTL of
// the answer records. Returns false if the response should not be cached.
func newCacheAnswer(a *dns.Msg, now time.Time) (*cacheAnswer, bool) {
	if a.Truncated || a.Rcode != dns.RcodeSuccess {
		return nil, false
	}
	min, ok := minAnswerTTL(a)
	if !ok || min == 0 {
		return nil, false
	}
	return &cacheAnswer{
		Timestamp: now,
		Expiry:    now.Add(time.Duration(min) * time.Second),
		Msg:       a,
	}, true
}

// Find the lowest TTL in the answer records.
func minAnswerTTL(a *dns.Msg) (uint32, bool) {
	var (
		min   uint32 = math.MaxUint32
		found bool
	)
	for _, rr := range a.Answer {
		if h := rr.Header(); h.Ttl < min {
			min = h.Ttl
			found = true
		}
	}
	return min, found
}

// Builds a response from a cached answer. The answer is copied, given the ID and
// question of the query (names may differ in case) and its TTLs are reduced by the time spent in the cache. OPT records have a
// TTL of 0 and are ignored.
func answerFromCache(q *dns.Msg, item *cacheAnswer, now time.Time) (*dns.Msg, bool) {
	if !now.Before(item.Expiry) {
		return nil, false
	}
	answer := item.Msg.Copy()
	answer.Id = q.Id
	answer.Question = append([]dns.Question(nil), q.Question...)

	age := uint32(now.Sub(item.Timestamp).Seconds())
	for _, rr := range [][]dns.RR{answer.Answer, answer.Ns, answer.Extra} {
		for _, a := range rr {
			if _, ok := a.(*dns.OPT); ok {
				continue
			}
			h := a.Header()
			if age >= h.Ttl {
				h.Ttl = 0
				continue
			}
			h.Ttl -= age
		}
	}
	return answer, true
}
