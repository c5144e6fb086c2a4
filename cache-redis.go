package droute

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores responses in Redis so that several router instances can share
// one cache.
type RedisBackend struct {
	client *redis.Client
	opt    RedisBackendOptions
}

type RedisBackendOptions struct {
	RedisOptions redis.Options

	// Prefix for all keys written by the cache.
	KeyPrefix string

	// Timeout for every read or write, default 100ms.
	Timeout time.Duration
}

var _ CacheBackend = (*RedisBackend)(nil)

const (
	redisFormatVersion = 1
	redisHeaderSize    = 17 // version + timestamp + expiry
)

func NewRedisBackend(opt RedisBackendOptions) *RedisBackend {
	if opt.Timeout == 0 {
		opt.Timeout = 100 * time.Millisecond
	}
	return &RedisBackend{
		client: redis.NewClient(&opt.RedisOptions),
		opt:    opt,
	}
}

func (b *RedisBackend) Store(query *dns.Msg, item *cacheAnswer) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opt.Timeout)
	defer cancel()
	value, err := encodeCacheAnswer(item)
	if err != nil {
		Log.WithError(err).Error("failed to encode cache record")
		return
	}
	ttl := time.Until(item.Expiry)
	if ttl <= 0 {
		return
	}
	if err := b.client.Set(ctx, b.keyFromQuery(query), value, ttl).Err(); err != nil {
		Log.WithError(err).Error("failed to write to redis")
	}
}

func (b *RedisBackend) Lookup(q *dns.Msg) (*dns.Msg, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.opt.Timeout)
	defer cancel()
	value, err := b.client.Get(ctx, b.keyFromQuery(q)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) { // redis.Nil is a plain cache-miss
			Log.WithError(err).Error("failed to read from redis")
		}
		return nil, false
	}
	item, err := decodeCacheAnswer(value)
	if err != nil {
		Log.WithError(err).Error("failed to decode cache record from redis")
		return nil, false
	}
	return answerFromCache(q, item, time.Now())
}

func (b *RedisBackend) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), b.opt.Timeout)
	defer cancel()
	size, err := b.client.DBSize(ctx).Result()
	if err != nil {
		Log.WithError(err).Error("failed to run dbsize command on redis")
	}
	return int(size)
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Build a key string to be used in redis.
func (b *RedisBackend) keyFromQuery(q *dns.Msg) string {
	k := cacheKeyFromQuery(q)
	var key strings.Builder
	key.WriteString(b.opt.KeyPrefix)
	key.WriteString(k.name)
	key.WriteByte(':')
	key.WriteString(dns.Class(k.qclass).String())
	key.WriteByte(':')
	key.WriteString(dns.Type(k.qtype).String())
	key.WriteByte(':')
	fmt.Fprintf(&key, "%t", k.do)
	return key.String()
}

// Serializes a cache item as version byte, timestamp and expiry in unix nanoseconds,
// followed by the response in wire format.
func encodeCacheAnswer(item *cacheAnswer) ([]byte, error) {
	msg, err := item.Msg.Pack()
	if err != nil {
		return nil, err
	}
	b := make([]byte, redisHeaderSize, redisHeaderSize+len(msg))
	b[0] = redisFormatVersion
	binary.BigEndian.PutUint64(b[1:9], uint64(item.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(b[9:17], uint64(item.Expiry.UnixNano()))
	return append(b, msg...), nil
}

func decodeCacheAnswer(b []byte) (*cacheAnswer, error) {
	if len(b) < redisHeaderSize {
		return nil, fmt.Errorf("cache record too short: %d bytes", len(b))
	}
	if b[0] != redisFormatVersion {
		return nil, fmt.Errorf("unsupported cache record version %d", b[0])
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(b[redisHeaderSize:]); err != nil {
		return nil, err
	}
	return &cacheAnswer{
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[1:9]))),
		Expiry:    time.Unix(0, int64(binary.BigEndian.Uint64(b[9:17]))),
		Msg:       msg,
	}, nil
}
