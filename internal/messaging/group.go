package messaging

import (
	"context"
	"fmt"
	"sort"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runnable is a component with a start/shutdown lifecycle.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// topicConsumer is a Runnable that reports per-topic counters.
type topicConsumer interface {
	Topic() string
	Stats() Stats
}

// ConsumerGroup runs every consumer of one subscriber under a single
// lifecycle and owns the subscriber.
type ConsumerGroup struct {
	consumers  []Runnable
	subscriber message.Subscriber
	logger     *zap.Logger
}

// NewConsumerGroup creates an empty group around subscriber.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Add registers a consumer. Consumers start in the order they were added.
func (g *ConsumerGroup) Add(consumer Runnable) {
	g.consumers = append(g.consumers, consumer)
}

// Subscribe adds a consumer decoding topic into T on the group's subscriber.
func Subscribe[T any](g *ConsumerGroup, topic string, handler Handler[T]) *Consumer[T] {
	consumer := NewConsumer(g.subscriber, topic, handler, g.logger)
	g.Add(consumer)

	return consumer
}

// Stats returns the counters of every topic consumer, keyed by topic.
// Counters of consumers sharing a topic are summed.
func (g *ConsumerGroup) Stats() map[string]Stats {
	out := make(map[string]Stats)

	for _, c := range g.consumers {
		tc, ok := c.(topicConsumer)
		if !ok {
			continue
		}

		s := out[tc.Topic()]
		cur := tc.Stats()
		s.Handled += cur.Handled
		s.Failed += cur.Failed
		out[tc.Topic()] = s
	}

	return out
}

// Topics lists the subscribed topics in sorted order.
func (g *ConsumerGroup) Topics() []string {
	stats := g.Stats()

	topics := make([]string, 0, len(stats))
	for topic := range stats {
		topics = append(topics, topic)
	}

	sort.Strings(topics)

	return topics
}

// Start starts every consumer. If one fails, the ones already started are
// shut down again.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for i, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = g.consumers[j].Shutdown()
			}

			return fmt.Errorf("start consumer %d: %w", i, err)
		}
	}

	g.logger.Info("consumer group started",
		zap.Int("count", len(g.consumers)),
		zap.Strings("topics", g.Topics()),
	)

	return nil
}

// Shutdown stops every consumer, logs what each topic processed, then closes
// the subscriber.
func (g *ConsumerGroup) Shutdown() error {
	var err error

	for _, consumer := range g.consumers {
		err = multierr.Append(err, consumer.Shutdown())
	}

	stats := g.Stats()
	for _, topic := range g.Topics() {
		s := stats[topic]
		g.logger.Info("consumer stopped",
			zap.String("topic", topic),
			zap.Int64("handled", s.Handled),
			zap.Int64("failed", s.Failed),
		)
	}

	return multierr.Append(err, g.subscriber.Close())
}
