package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/smarttriage/platform/pkg/common/logger"
	"github.com/smarttriage/platform/pkg/common/models"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	newBackOff func() backoff.BackOff
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader, newBackOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Permanent marks a handler error that retrying cannot fix. The message is
// committed and skipped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Consume blocks until ctx is cancelled. A message is committed only once the
// handler succeeds or fails permanently; other handler errors are retried on
// the same message with exponential backoff, so later offsets never commit
// past it. Undecodable messages are committed and skipped.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal event")
			c.commit(ctx, message)
			continue
		}

		if err := c.handle(ctx, handler, message, event); err != nil {
			return err
		}
		c.commit(ctx, message)
	}
}

// handle runs handler until it succeeds or fails permanently. It returns an
// error only when ctx is cancelled.
func (c *Consumer) handle(ctx context.Context, handler EventHandler, message kafka.Message, event models.Event) error {
	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"offset":     message.Offset,
	})

	operation := func() error { return handler(ctx, event) }
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait.String()).Warn("Failed to process event, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.WithError(err).Error("Dropping event that cannot be processed")
	return nil
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to commit message")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
