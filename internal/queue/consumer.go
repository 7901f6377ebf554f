package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/visibility-grader/internal/model"
)

// Handler processes one decoded scan job. A non-nil error marks the delivery
// failed in the log; the entry is acknowledged either way because the failure
// is recorded on the scan row itself.
type Handler func(ctx context.Context, job model.ScanJob) error

// ConsumerOptions tune the stream consumer.
type ConsumerOptions struct {
	Stream      string
	Group       string
	Block       time.Duration
	MinIdle     time.Duration
	Concurrency int
}

// Consumer reads scan jobs from the stream as part of a consumer group and
// dispatches them to a bounded worker pool.
type Consumer struct {
	client   *redis.Client
	handler  Handler
	stream   string
	group    string
	consumer string
	block    time.Duration
	minIdle  time.Duration
	limit    int
}

// NewConsumer creates a Consumer with a unique per-process consumer name.
func NewConsumer(client *redis.Client, handler Handler, opts ConsumerOptions) *Consumer {
	stream := opts.Stream
	if stream == "" {
		stream = DefaultStream
	}
	group := opts.Group
	if group == "" {
		group = DefaultGroup
	}
	block := opts.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	minIdle := opts.MinIdle
	if minIdle <= 0 {
		minIdle = time.Minute
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	return &Consumer{
		client:   client,
		handler:  handler,
		stream:   stream,
		group:    group,
		consumer: "grader-" + uuid.New().String(),
		block:    block,
		minIdle:  minIdle,
		limit:    limit,
	}
}

// Run consumes until the context is canceled. It creates the consumer group
// if needed, sweeps stale pending entries from dead consumers, and blocks on
// new deliveries.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	zap.L().Info("queue: consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
		zap.String("consumer", c.consumer),
		zap.Int("concurrency", c.limit))

	g := new(errgroup.Group)
	g.SetLimit(c.limit)

	for {
		if ctx.Err() != nil {
			break
		}

		claimed, err := c.claimStale(ctx)
		if err != nil && ctx.Err() == nil {
			zap.L().Warn("queue: claim sweep failed", zap.Error(err))
		}
		c.dispatch(ctx, g, claimed)

		msgs, err := c.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			zap.L().Warn("queue: read failed", zap.Error(err))
			time.Sleep(readRetryDelay)
			continue
		}
		c.dispatch(ctx, g, msgs)
	}

	err := g.Wait()
	zap.L().Info("queue: consumer stopped", zap.String("consumer", c.consumer))
	return err
}

// ensureGroup creates the consumer group and the stream when either is
// missing. An existing group is fine.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return eris.Wrapf(err, "queue: create group %s on %s", c.group, c.stream)
	}
	return nil
}

// read blocks for up to the configured interval waiting for new deliveries.
func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    int64(c.limit),
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "queue: read group")
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// claimStale re-claims entries pending longer than minIdle, typically left by
// a crashed consumer. Redis tracks the delivery so the handler sees the job
// again, which is the at-least-once contract.
func (c *Consumer) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.minIdle,
		Start:    "0-0",
		Count:    int64(c.limit),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "queue: auto claim")
	}
	return msgs, nil
}

func (c *Consumer) dispatch(ctx context.Context, g *errgroup.Group, msgs []redis.XMessage) {
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			c.handleMessage(ctx, msg)
			return nil
		})
	}
}

// handleMessage decodes and runs one delivery. The entry is acknowledged in
// every case: a malformed payload can never succeed, and a handler failure is
// already recorded on the scan row.
func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	defer c.ack(ctx, msg.ID)

	job, err := decodeJob(msg)
	if err != nil {
		zap.L().Error("queue: dropping malformed entry", zap.String("entry_id", msg.ID), zap.Error(err))
		return
	}

	if err := c.handler(ctx, job); err != nil {
		zap.L().Error("queue: job failed",
			zap.String("entry_id", msg.ID),
			zap.String("scan_id", job.ScanID),
			zap.Error(err))
		return
	}
	zap.L().Debug("queue: job done", zap.String("entry_id", msg.ID), zap.String("scan_id", job.ScanID))
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.client.XAck(ctx, c.stream, c.group, entryID).Err(); err != nil && ctx.Err() == nil {
		zap.L().Warn("queue: ack failed", zap.String("entry_id", entryID), zap.Error(err))
	}
}
