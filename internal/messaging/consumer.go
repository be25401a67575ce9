package messaging

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Handler processes a single event.
type Handler[T any] func(ctx context.Context, event *T) error

// Stats counts processed messages.
type Stats struct {
	Handled int64 `json:"handled"`
	Failed  int64 `json:"failed"`
}

// Consumer subscribes to a topic and decodes every message into T before
// handing it to the handler. Failed messages are nacked for redelivery.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}

	handled atomic.Int64
	failed  atomic.Int64
}

// NewConsumer creates a consumer decoding topic into T.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger.With(zap.String("topic", topic)),
		done:       make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Stats returns how many messages were handled and how many failed.
func (c *Consumer[T]) Stats() Stats {
	return Stats{Handled: c.handled.Load(), Failed: c.failed.Load()}
}

// Start subscribes and processes messages in the background until Shutdown.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		c.cancel()
		close(c.done)

		return err
	}

	go c.consumeLoop(ctx, msgs)

	return nil
}

func (c *Consumer[T]) consumeLoop(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer[T]) handleMessage(ctx context.Context, msg *message.Message) {
	log := c.logger.With(
		zap.String("message_id", msg.UUID),
		zap.String("event_type", msg.Metadata.Get(MetadataEventType)),
	)

	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		log.Error("failed to decode event", zap.Error(err))
		c.failed.Add(1)
		msg.Nack()

		return
	}

	if err := c.handler(ctx, &event); err != nil {
		log.Error("failed to handle event", zap.Error(err))
		c.failed.Add(1)
		msg.Nack()

		return
	}

	c.handled.Add(1)
	msg.Ack()

	log.Debug("processed event")
}

// Shutdown stops the consumer and waits for the in-flight message.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}

	<-c.done

	return nil
}
