package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qrtrail/scanhistory/pkg/storage"
)

const (
	keyPrefix = "scanhistory:slot:"

	defaultMaxRetries = 10
)

// Slot stores each key as a Redis string.
type Slot struct {
	client     redis.UniversalClient
	maxRetries int
}

// Option configures a Slot.
type Option func(*Slot)

// WithMaxRetries bounds how many times Update retries after a WATCH conflict.
func WithMaxRetries(n int) Option {
	return func(s *Slot) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New wraps a client whose lifecycle is managed by the caller.
func New(client redis.UniversalClient, opts ...Option) *Slot {
	s := &Slot{client: client, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", storage.ErrUnavailable, err)
	}
	return client, nil
}

func (s *Slot) Read(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (s *Slot) Write(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Slot) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Update runs fn under WATCH and commits with MULTI/EXEC. A concurrent write
// to the key aborts the transaction and fn is re-run on the fresh value.
func (s *Slot) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	k := keyPrefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis update %q: %w", key, err)
	}
	return fmt.Errorf("redis update %q: %w", key, storage.ErrConflict)
}
