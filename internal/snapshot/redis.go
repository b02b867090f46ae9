package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vehicle-tracker:snapshot:"

// RedisStore keeps one zstd-compressed JSON document per feed, expiring
// after ttl so a long-dead feed does not restore ancient positions.
type RedisStore struct {
	cache *cache.Cache[string]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	var opts []store.Option
	if ttl > 0 {
		opts = append(opts, store.WithExpiration(ttl))
	}
	redisStore := redisstore.NewRedis(client, opts...)
	return &RedisStore{
		cache: cache.New[string](redisStore),
		enc:   enc,
		dec:   dec,
	}, nil
}

func (s *RedisStore) Load(ctx context.Context, feed string) (Document, error) {
	raw, err := s.cache.Get(ctx, keyPrefix+feed)
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, store.NotFound{}) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("redis get snapshot %s: %w", feed, err)
	}
	b, err := s.dec.DecodeAll([]byte(raw), nil)
	if err != nil {
		return Document{}, fmt.Errorf("decompress snapshot %s: %w", feed, err)
	}
	return Decode(b)
}

func (s *RedisStore) Save(ctx context.Context, doc Document) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	compressed := s.enc.EncodeAll(b, nil)
	if err := s.cache.Set(ctx, keyPrefix+doc.Feed, string(compressed)); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", doc.Feed, err)
	}
	return nil
}
