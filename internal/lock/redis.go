// SPDX-License-Identifier: MIT

// Package lock provides the distributed per-tenant mutex backing the
// at-most-one-ingestion-job invariant. Multi-replica deployments cannot rely
// on in-process mutexes; the TTL bounds the blast radius of an owner that
// dies without releasing (zombie locks self-heal without operator action).
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/log"
)

const keyPrefix = "tickd:lock:"

// record is the JSON value stored under the lock key. Expiry lives in the
// Redis key TTL, not in the payload, so acquisition stays a single atomic op.
type record struct {
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Info is the observable state of a lock. A nil *Info means no lock exists,
// which callers must distinguish from a held lock.
type Info struct {
	ResourceID string    `json:"resource_id"`
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsExpired  bool      `json:"is_expired"`
}

// releaseScript deletes the key only when the stored owner matches, so an
// owner whose lock expired and was re-acquired cannot release the new holder.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local rec = cjson.decode(raw)
if rec.owner_id ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

// refreshScript extends the TTL only for the live owner.
var refreshScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local rec = cjson.decode(raw)
if rec.owner_id ~= ARGV[1] then
	return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)

// Service is a Redis-backed distributed lock with TTL-based reclamation.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// Config holds Redis connection parameters for the lock service.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and returns a lock service.
func New(cfg Config) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("lock: redis connection failed: %w", err)
	}

	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client (tests use miniredis here).
func NewWithClient(client *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Service{
		client: client,
		ttl:    ttl,
		logger: log.WithComponent("lock"),
	}
}

// TTL returns the configured lock lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Acquire attempts to take the lock for resource on behalf of owner. It is a
// single atomic compare-and-set: SET NX PX either installs the record or
// fails against a live lock. Expired locks have already left the keyspace, so
// any caller reclaims them with the same operation.
func (s *Service) Acquire(ctx context.Context, resource, owner string) (bool, error) {
	payload, err := json.Marshal(record{OwnerID: owner, AcquiredAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+resource, payload, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %q: %w", resource, err)
	}
	if ok {
		s.logger.Debug().
			Str("event", "lock.acquired").
			Str("resource", resource).
			Str("owner", owner).
			Dur("ttl", s.ttl).
			Msg("lock acquired")
	}
	return ok, nil
}

// Release drops the lock iff owner still holds it. Returns false when the
// lock is absent or held by someone else.
func (s *Service) Release(ctx context.Context, resource, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{keyPrefix + resource}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("lock release %q: %w", resource, err)
	}
	if n == 1 {
		s.logger.Debug().
			Str("event", "lock.released").
			Str("resource", resource).
			Str("owner", owner).
			Msg("lock released")
	}
	return n == 1, nil
}

// Refresh extends the TTL iff owner still holds the lock. Long-running jobs
// call this at intervals no longer than TTL/2.
func (s *Service) Refresh(ctx context.Context, resource, owner string) (bool, error) {
	n, err := refreshScript.Run(ctx, s.client,
		[]string{keyPrefix + resource}, owner, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock refresh %q: %w", resource, err)
	}
	return n == 1, nil
}

// Status reports the current lock for resource, or (nil, nil) when none exists.
func (s *Service) Status(ctx context.Context, resource string) (*Info, error) {
	key := keyPrefix + resource

	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock status %q: %w", resource, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("lock status %q: corrupt record: %w", resource, err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("lock status %q: %w", resource, err)
	}

	info := &Info{
		ResourceID: resource,
		OwnerID:    rec.OwnerID,
		AcquiredAt: rec.AcquiredAt,
	}
	if ttl > 0 {
		info.ExpiresAt = time.Now().Add(ttl)
	} else {
		// Key observed between expiry decision and deletion.
		info.ExpiresAt = time.Now()
		info.IsExpired = true
	}
	return info, nil
}

// Ping reports Redis connectivity for health checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	return s.client.Close()
}
