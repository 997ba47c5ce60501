// Package idgen produces globally unique, roughly time-ordered 64-bit order
// identifiers backed by a Redis counter.
//
// Layout (high to low bits):
//
//	| 31 bits seconds since 2022-01-01 UTC | 32 bits per-day sequence |
//
// The sequence comes from INCR on "icr:<prefix>:<yyyy:MM:dd>", so it resets
// every UTC day and stays far below 2^32 in practice.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// BeginTimestamp is 2022-01-01T00:00:00Z.
	BeginTimestamp int64 = 1640995200
	countBits            = 32
	counterPrefix        = "icr:"
	dateLayout           = "2006:01:02"
)

// Generator issues IDs. It is safe for concurrent use.
type Generator struct {
	client redis.Cmdable
	now    func() time.Time
}

// New creates a generator using the given Redis client.
func New(client redis.Cmdable) *Generator {
	return &Generator{client: client, now: time.Now}
}

// NextID returns the next identifier for prefix. The only failure mode is
// the counter increment itself.
func (g *Generator) NextID(ctx context.Context, prefix string) (int64, error) {
	now := g.now().UTC()
	timestamp := now.Unix() - BeginTimestamp

	count, err := g.client.Incr(ctx, counterKey(prefix, now)).Result()
	if err != nil {
		return 0, fmt.Errorf("idgen: increment counter: %w", err)
	}
	return timestamp<<countBits | count, nil
}

func counterKey(prefix string, now time.Time) string {
	return counterPrefix + prefix + ":" + now.Format(dateLayout)
}

// Timestamp extracts the wall-clock second encoded in id.
func Timestamp(id int64) time.Time {
	return time.Unix(id>>countBits+BeginTimestamp, 0).UTC()
}

// Sequence extracts the per-day sequence encoded in id.
func Sequence(id int64) int64 {
	return id & (1<<countBits - 1)
}
