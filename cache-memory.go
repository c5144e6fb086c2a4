package droute

import (
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// MemoryBackend is an in-process LRU response cache.
type MemoryBackend struct {
	lru  *lruCache
	mu   sync.Mutex
	opt  MemoryBackendOptions
	stop chan struct{}
	once sync.Once
}

type MemoryBackendOptions struct {
	// Total capacity of the cache. Must be greater than 0.
	Capacity int

	// How often to remove expired items, default 1 minute
	GCPeriod time.Duration
}

var _ CacheBackend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a new LRU cache with the given capacity. Expired items
// are removed in the background until Close is called.
func NewMemoryBackend(opt MemoryBackendOptions) *MemoryBackend {
	if opt.GCPeriod == 0 {
		opt.GCPeriod = time.Minute
	}
	b := &MemoryBackend{
		lru:  newLRUCache(opt.Capacity),
		opt:  opt,
		stop: make(chan struct{}),
	}
	go b.startGC(opt.GCPeriod)
	return b
}

func (b *MemoryBackend) Store(query *dns.Msg, item *cacheAnswer) {
	key := cacheKeyFromQuery(query)
	b.mu.Lock()
	b.lru.add(key, item)
	b.mu.Unlock()
}

func (b *MemoryBackend) Lookup(q *dns.Msg) (*dns.Msg, bool) {
	key := cacheKeyFromQuery(q)
	b.mu.Lock()
	item := b.lru.get(key)
	b.mu.Unlock()

	// Return a cache-miss if there's no answer record in the map
	if item == nil {
		return nil, false
	}
	answer, ok := answerFromCache(q, item, time.Now())
	if !ok {
		b.mu.Lock()
		b.lru.delete(key)
		b.mu.Unlock()
	}
	return answer, ok
}

// Runs every period and evicts all expired items. Items are also evicted lazily when
// they're looked up after expiry.
func (b *MemoryBackend) startGC(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}
		now := time.Now()
		var total, removed int
		b.mu.Lock()
		b.lru.deleteFunc(func(a *cacheAnswer) bool {
			if !now.Before(a.Expiry) {
				removed++
				return true
			}
			return false
		})
		total = b.lru.size()
		b.mu.Unlock()

		Log.WithFields(logrus.Fields{"total": total, "removed": removed}).Trace("cache garbage collection")
	}
}

func (b *MemoryBackend) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.size()
}

func (b *MemoryBackend) Close() error {
	b.once.Do(func() { close(b.stop) })
	return nil
}
