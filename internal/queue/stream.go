// Package queue wraps a Redis stream read through a consumer group. Each
// entry is delivered to one consumer of the group and stays in the group's
// pending list until it is acknowledged, which gives at-least-once delivery
// across consumer crashes.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Message is one stream entry.
type Message struct {
	ID     string
	Fields map[string]interface{}
}

// Stream is a Redis stream key bound to one consumer group.
type Stream struct {
	client redis.Cmdable
	key    string
	group  string
}

// NewStream binds key and group. Call EnsureGroup before reading.
func NewStream(client redis.Cmdable, key, group string) *Stream {
	return &Stream{client: client, key: key, group: group}
}

// Key returns the stream key.
func (s *Stream) Key() string { return s.key }

// Group returns the consumer group name.
func (s *Stream) Group() string { return s.group }

// EnsureGroup creates the group at the start of the stream, creating the
// stream if needed. An existing group is not an error.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: create group %s on %s: %w", s.group, s.key, err)
	}
	return nil
}

// Add appends an entry and returns its ID.
func (s *Stream) Add(ctx context.Context, fields map[string]interface{}) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: s.key, Values: fields}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: add to %s: %w", s.key, err)
	}
	return id, nil
}

// ReadNew claims up to count never-delivered entries for consumer, blocking
// up to block when none are available. A zero block waits indefinitely and
// a negative one does not wait. A timeout returns no messages and a nil
// error.
func (s *Stream) ReadNew(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	return s.read(ctx, consumer, ">", count, block)
}

// ReadPending returns up to count entries already delivered to consumer but
// not yet acknowledged, oldest first. It never blocks.
func (s *Stream) ReadPending(ctx context.Context, consumer string, count int64) ([]Message, error) {
	return s.read(ctx, consumer, "0", count, -1)
}

func (s *Stream) read(ctx context.Context, consumer, start string, count int64, block time.Duration) ([]Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, start},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read %s from %s: %w", start, s.key, err)
	}

	var out []Message
	for _, stream := range res {
		for _, m := range stream.Messages {
			out = append(out, Message{ID: m.ID, Fields: m.Values})
		}
	}
	return out, nil
}

// Claim moves up to count entries that other consumers of the group have
// held for at least minIdle to consumer, so a later ReadPending by consumer
// replays them. Entries already owned by consumer are skipped.
func (s *Stream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.key,
		Group:  s.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: list pending on %s: %w", s.key, err)
	}

	var ids []string
	for _, p := range res {
		if p.Consumer != consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: claim %d entries on %s: %w", len(ids), s.key, err)
	}
	out := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		out = append(out, Message{ID: m.ID, Fields: m.Values})
	}
	return out, nil
}

// Ack removes ids from the group's pending list.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.key, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("queue: ack %v on %s: %w", ids, s.key, err)
	}
	return nil
}

// Pending returns the number of delivered but unacknowledged entries in the
// group.
func (s *Stream) Pending(ctx context.Context) (int64, error) {
	res, err := s.client.XPending(ctx, s.key, s.group).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: pending on %s: %w", s.key, err)
	}
	return res.Count, nil
}

// Len returns the number of entries in the stream.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len of %s: %w", s.key, err)
	}
	return n, nil
}
