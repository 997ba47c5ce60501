package seckill

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/logging"
	"github.com/Eklps/Dianping/internal/metrics"
	"github.com/Eklps/Dianping/internal/observability"
	"github.com/Eklps/Dianping/internal/queue"
)

// OrderStore persists admitted orders. SaveVoucherOrder must be idempotent
// on the order ID: saving an order that already exists is a no-op that
// returns (false, nil).
type OrderStore interface {
	SaveVoucherOrder(ctx context.Context, order *domain.VoucherOrder) (bool, error)
}

// ConsumerConfig configures the order consumer.
type ConsumerConfig struct {
	// Name is the consumer identity, suffixed with -<i> when Workers > 1.
	// Changing Name or Workers retires the old identities; their pending
	// entries are only replayed through ClaimIdle.
	Name            string
	Workers         int           // consumer identities run by this process
	Block           time.Duration // max wait for new entries per read
	RecoveryBackoff time.Duration // pause after a failed recovery attempt
	ClaimIdle       time.Duration // take over other consumers' entries idle this long; 0 disables
}

const claimBatch = 100

// Consumer drains the order stream into an OrderStore.
//
// Each worker reads new entries, persists them and acknowledges them. Any
// failure switches the worker into recovery, which replays its own pending
// entries until none are left. Recovery also runs when a worker starts, so
// entries claimed by a crashed process with the same identity are finished
// first. With ClaimIdle set, a starting worker then takes over entries that
// other identities left pending for longer than ClaimIdle and replays them.
type Consumer struct {
	stream *queue.Stream
	store  OrderStore
	cfg    ConsumerConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewConsumer creates a consumer over stream.
func NewConsumer(stream *queue.Stream, store OrderStore, cfg ConsumerConfig) *Consumer {
	if cfg.Name == "" {
		cfg.Name = "c1"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.RecoveryBackoff <= 0 {
		cfg.RecoveryBackoff = 50 * time.Millisecond
	}
	return &Consumer{
		stream: stream,
		store:  store,
		cfg:    cfg,
		logger: logging.Component("seckill.consumer"),
	}
}

// Start ensures the consumer group exists and launches the workers.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.stream.EnsureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.started = true

	for i := 0; i < c.cfg.Workers; i++ {
		name := c.workerName(i)
		c.wg.Add(1)
		go c.supervise(runCtx, name)
	}
	c.logger.Info("order consumer started",
		"stream", c.stream.Key(), "group", c.stream.Group(), "workers", c.cfg.Workers)
	return nil
}

// Stop cancels the workers and waits for them. An in-flight blocking read
// finishes its Block interval first.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.logger.Info("order consumer stopped", "stream", c.stream.Key())
}

func (c *Consumer) workerName(i int) string {
	if c.cfg.Workers == 1 {
		return c.cfg.Name
	}
	return fmt.Sprintf("%s-%d", c.cfg.Name, i)
}

// supervise restarts the worker loop after a panic until ctx is cancelled.
func (c *Consumer) supervise(ctx context.Context, name string) {
	defer c.wg.Done()
	for {
		c.runSafely(ctx, name)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("restarting order consumer worker", "consumer", name)
		if !sleepCtx(ctx, c.cfg.RecoveryBackoff) {
			return
		}
	}
}

func (c *Consumer) runSafely(ctx context.Context, name string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("order consumer worker panicked",
				"consumer", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	c.run(ctx, name)
}

func (c *Consumer) run(ctx context.Context, name string) {
	c.recoverPending(ctx, name)
	c.claimAbandoned(ctx, name)

	for ctx.Err() == nil {
		msgs, err := c.stream.ReadNew(ctx, name, 1, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("read order stream", "consumer", name, "error", err)
			c.recoverPending(ctx, name)
			continue
		}
		for _, msg := range msgs {
			if err := c.handle(ctx, msg, "new"); err != nil {
				c.logger.Error("handle order message", "consumer", name, "message", msg.ID, "error", err)
				c.recoverPending(ctx, name)
				break
			}
		}
	}
}

// recoverPending replays entries delivered to name but never acknowledged,
// one at a time, until none remain or ctx is cancelled.
func (c *Consumer) recoverPending(ctx context.Context, name string) {
	metrics.RecordConsumerRecovery()
	for ctx.Err() == nil {
		msgs, err := c.stream.ReadPending(ctx, name, 1)
		if err != nil {
			c.logger.Error("read pending orders", "consumer", name, "error", err)
			if !sleepCtx(ctx, c.cfg.RecoveryBackoff) {
				return
			}
			continue
		}
		if len(msgs) == 0 {
			return
		}
		if err := c.handle(ctx, msgs[0], "pending"); err != nil {
			c.logger.Error("recover pending order", "consumer", name, "message", msgs[0].ID, "error", err)
			if !sleepCtx(ctx, c.cfg.RecoveryBackoff) {
				return
			}
		}
	}
}

// claimAbandoned moves idle entries of other consumers to name and replays
// them. It runs after name's own pending list is empty, so every listed
// entry belongs to someone else.
func (c *Consumer) claimAbandoned(ctx context.Context, name string) {
	if c.cfg.ClaimIdle <= 0 {
		return
	}
	for ctx.Err() == nil {
		msgs, err := c.stream.Claim(ctx, name, c.cfg.ClaimIdle, claimBatch)
		if err != nil {
			c.logger.Warn("claim abandoned orders", "consumer", name, "error", err)
			return
		}
		if len(msgs) == 0 {
			return
		}
		c.logger.Info("claimed abandoned order messages", "consumer", name, "count", len(msgs))
		c.recoverPending(ctx, name)
	}
}

// handle persists and acknowledges one entry. A nil return means the entry
// was acknowledged.
func (c *Consumer) handle(ctx context.Context, msg queue.Message, source string) (err error) {
	order, err := decodeOrder(msg)
	if err != nil {
		// A malformed entry can never be persisted; drop it from the pending list.
		c.logger.Error("discarding malformed order message", "message", msg.ID, "error", err)
		metrics.RecordConsumerMessage(source, "poison")
		return c.stream.Ack(ctx, msg.ID)
	}

	ctx = observability.ExtractFields(ctx, msg.Fields)
	ctx, span := observability.StartConsumerSpan(ctx, "seckill.persist_order",
		observability.AttrOrderID.Int64(order.ID),
		observability.AttrVoucherID.Int64(order.VoucherID),
		observability.AttrUserID.Int64(order.UserID),
		observability.AttrStreamID.String(msg.ID),
	)
	defer func() {
		if err != nil {
			observability.SetSpanError(span, err)
			metrics.RecordConsumerMessage(source, "failed")
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}()

	start := time.Now()
	inserted, err := c.store.SaveVoucherOrder(ctx, order)
	metrics.RecordPersistDuration(time.Since(start))
	if err != nil {
		return fmt.Errorf("persist order %d: %w", order.ID, err)
	}
	if err := c.stream.Ack(ctx, msg.ID); err != nil {
		return err
	}

	if inserted {
		metrics.RecordConsumerMessage(source, "persisted")
	} else {
		metrics.RecordConsumerMessage(source, "duplicate")
	}
	logging.WithTrace(ctx, c.logger).Debug("order handled",
		"order_id", order.ID, "message", msg.ID, "source", source, "inserted", inserted)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
