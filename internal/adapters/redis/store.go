// Package redis implements ports.DescriptorStore on Redis, so a bridge can
// warm-start its descriptor cache from a previous run.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/trestle/pkg/domain"
	"github.com/aretw0/trestle/pkg/ports"
)

// Store implements ports.DescriptorStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for stored descriptors.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for descriptors.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "trestle:descriptor:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// indexKey holds the set of stored type names, so List avoids SCAN.
func (s *Store) indexKey() string {
	return s.prefix + "_index"
}

func (s *Store) key(typeName string) string {
	return s.prefix + typeName
}

// Save writes a descriptor and adds its type name to the index.
func (s *Store) Save(ctx context.Context, d domain.ElementDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor %q: %w", d.TypeName, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(d.TypeName), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), d.TypeName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save descriptor %q: %w", d.TypeName, err)
	}
	return nil
}

// Load reads one descriptor by type name.
func (s *Store) Load(ctx context.Context, typeName string) (domain.ElementDescriptor, error) {
	data, err := s.client.Get(ctx, s.key(typeName)).Bytes()
	if err == backend.Nil {
		return domain.ElementDescriptor{}, fmt.Errorf("descriptor %q: %w", typeName, ports.ErrDescriptorNotFound)
	}
	if err != nil {
		return domain.ElementDescriptor{}, fmt.Errorf("failed to load descriptor %q: %w", typeName, err)
	}

	var d domain.ElementDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.ElementDescriptor{}, fmt.Errorf("failed to unmarshal descriptor %q: %w", typeName, err)
	}
	return d, nil
}

// List returns the stored type names. Entries whose descriptor expired are
// pruned from the index as they are discovered.
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors: %w", err)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		exists, err := s.client.Exists(ctx, s.key(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list descriptors: %w", err)
		}
		if exists == 0 {
			s.client.SRem(ctx, s.indexKey(), name)
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// Delete removes a descriptor and its index entry.
func (s *Store) Delete(ctx context.Context, typeName string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(typeName))
	pipe.SRem(ctx, s.indexKey(), typeName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete descriptor %q: %w", typeName, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
