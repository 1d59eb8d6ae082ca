// Package queue provides the durable transcode job channel. The Redis
// Streams implementation gives at-least-once delivery with a bounded retry
// count; consumers acknowledge each delivery explicitly after processing.
package queue

import (
	"context"

	"vodforge/internal/models"
)

// Delivery pairs a dequeued job with the stream entry identifier the consumer
// must acknowledge or retry.
type Delivery struct {
	ID  string
	Job models.TranscodeJob
}

// Subscription is a live consumer attached to the queue. Close stops the
// consumer and closes the Deliveries channel.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close()
}

// Queue is the transcode job queue contract shared by the upload API
// (producer) and the worker (consumer).
type Queue interface {
	// Enqueue appends one job to the queue and returns its entry ID.
	Enqueue(ctx context.Context, job models.TranscodeJob) (string, error)

	// Subscribe attaches a consumer that receives deliveries until closed.
	Subscribe() Subscription

	// Ack marks a delivery as processed so it is never redelivered.
	Ack(ctx context.Context, d Delivery) error

	// Retry acknowledges a failed delivery and re-enqueues it with an
	// incremented attempt counter. It reports false when the attempt
	// budget is exhausted and the job was dropped instead.
	Retry(ctx context.Context, d Delivery) (bool, error)

	// Ping verifies the backing broker is reachable.
	Ping(ctx context.Context) error

	Close() error
}
