// Package queue moves scan jobs over a Redis Stream with a consumer group.
// Delivery is at-least-once: crashed consumers leave entries pending and a
// min-idle sweep re-claims them, so handlers must tolerate re-runs.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visibility-grader/internal/model"
)

const (
	// DefaultStream is the scan job stream key.
	DefaultStream = "grader:scans"
	// DefaultGroup is the worker consumer group.
	DefaultGroup = "grader-workers"

	payloadField = "payload"
)

// Producer enqueues scan jobs onto the stream.
type Producer struct {
	client *redis.Client
	stream string
}

// NewProducer creates a Producer for the given stream. An empty stream name
// uses DefaultStream.
func NewProducer(client *redis.Client, stream string) *Producer {
	if stream == "" {
		stream = DefaultStream
	}
	return &Producer{client: client, stream: stream}
}

// Enqueue appends one job to the stream and returns its entry id.
func (p *Producer) Enqueue(ctx context.Context, job model.ScanJob) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", eris.Wrap(err, "queue: marshal job")
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", eris.Wrap(err, "queue: enqueue job")
	}
	return id, nil
}

// decodeJob extracts the scan job from one stream entry.
func decodeJob(msg redis.XMessage) (model.ScanJob, error) {
	var job model.ScanJob
	raw, ok := msg.Values[payloadField]
	if !ok {
		return job, eris.Errorf("queue: entry %s has no %s field", msg.ID, payloadField)
	}
	s, ok := raw.(string)
	if !ok {
		return job, eris.Errorf("queue: entry %s payload is not a string", msg.ID)
	}
	if err := json.Unmarshal([]byte(s), &job); err != nil {
		return job, eris.Wrapf(err, "queue: decode entry %s", msg.ID)
	}
	if job.ScanID == "" {
		return job, eris.Errorf("queue: entry %s has no scan id", msg.ID)
	}
	return job, nil
}

// readRetryDelay is the pause after a failed read before the next blocking
// read.
const readRetryDelay = 250 * time.Millisecond
