package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard reserves payment proofs so one signature is only processed once
// at a time. The unique proof hash in the payments table is the durable check;
// the guard stops concurrent duplicates before they reach the facilitator.
type ReplayGuard interface {
	Claim(ctx context.Context, proofHash string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, proofHash string) error
}

// RedisGuard keeps reservations in redis with SET NX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard connects to the redis instance at url.
func NewRedisGuard(url string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisGuard{client: redis.NewClient(opts), prefix: "x402:proof:"}, nil
}

// Ping checks the connection.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// Claim reserves proofHash for ttl. It reports false when the proof is
// already reserved.
func (g *RedisGuard) Claim(ctx context.Context, proofHash string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+proofHash, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim payment proof: %w", err)
	}
	return ok, nil
}

// Release drops the reservation so a declined proof can be resubmitted.
func (g *RedisGuard) Release(ctx context.Context, proofHash string) error {
	return g.client.Del(ctx, g.prefix+proofHash).Err()
}

// MemoryGuard is a process-local ReplayGuard for single-instance runs and tests.
// Expired reservations are pruned by Claim at most once per sweepEvery.
type MemoryGuard struct {
	mu         sync.Mutex
	held       map[string]time.Time
	sweptAt    time.Time
	sweepEvery time.Duration
	nowFunc    func() time.Time
}

// NewMemoryGuard returns an empty guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: map[string]time.Time{}, sweepEvery: time.Minute, nowFunc: time.Now}
}

// Claim implements ReplayGuard.
func (g *MemoryGuard) Claim(_ context.Context, proofHash string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFunc()
	if now.Sub(g.sweptAt) >= g.sweepEvery {
		g.prune(now)
	}
	if exp, ok := g.held[proofHash]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[proofHash] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) prune(now time.Time) {
	for k, exp := range g.held {
		if !now.Before(exp) {
			delete(g.held, k)
		}
	}
	g.sweptAt = now
}

// Release implements ReplayGuard.
func (g *MemoryGuard) Release(_ context.Context, proofHash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, proofHash)
	return nil
}
