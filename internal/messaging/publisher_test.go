package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/datafactory/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	messages   []*message.Message
	topic      string
	publishErr error
	closeErr   error
}

func (m *mockPublisher) Publish(topic string, msgs ...*message.Message) error {
	if m.publishErr != nil {
		return m.publishErr
	}

	m.topic = topic
	m.messages = append(m.messages, msgs...)

	return nil
}

func (m *mockPublisher) Close() error {
	return m.closeErr
}

type usageEvent struct {
	Service string `json:"service"`
	Used    int64  `json:"used"`
}

func TestNewPublishFunc(t *testing.T) {
	t.Run("publishes event with metadata", func(t *testing.T) {
		mock := &mockPublisher{}
		publish := messaging.NewPublishFunc[usageEvent](mock, "keymanager.usage", "usage")

		err := publish(context.Background(), &usageEvent{Service: "fred", Used: 3})

		require.NoError(t, err)
		assert.Equal(t, "keymanager.usage", mock.topic)
		require.Len(t, mock.messages, 1)
		assert.JSONEq(t, `{"service":"fred","used":3}`, string(mock.messages[0].Payload))
		assert.Equal(t, "usage", mock.messages[0].Metadata.Get(messaging.MetadataEventType))
		assert.NotEmpty(t, mock.messages[0].Metadata.Get(messaging.MetadataPublishedAt))
		assert.NotEmpty(t, mock.messages[0].UUID)
	})

	t.Run("wraps publish errors", func(t *testing.T) {
		cause := errors.New("publish error")
		mock := &mockPublisher{publishErr: cause}
		publish := messaging.NewPublishFunc[usageEvent](mock, "keymanager.usage", "usage")

		err := publish(context.Background(), &usageEvent{Service: "fred"})

		assert.ErrorIs(t, err, cause)
	})
}

func TestPublisher(t *testing.T) {
	t.Run("returns underlying publisher", func(t *testing.T) {
		mock := &mockPublisher{}

		assert.Equal(t, mock, messaging.NewPublisher(mock).Publisher())
	})

	t.Run("returns error when close fails", func(t *testing.T) {
		mock := &mockPublisher{closeErr: errors.New("close error")}

		assert.Error(t, messaging.NewPublisher(mock).Shutdown())
	})
}

func TestInProcessRoundTrip(t *testing.T) {
	pubsub := messaging.NewInProcess(messaging.NewZapLogger(zap.NewNop()))

	received := make(chan usageEvent, 1)
	group := messaging.NewConsumerGroup(pubsub, zap.NewNop())
	messaging.Subscribe(group, "keymanager.usage", func(_ context.Context, e *usageEvent) error {
		received <- *e

		return nil
	})
	require.NoError(t, group.Start(context.Background()))

	publish := messaging.NewPublishFunc[usageEvent](pubsub, "keymanager.usage", "usage")
	require.NoError(t, publish(context.Background(), &usageEvent{Service: "etherscan", Used: 7}))

	select {
	case e := <-received:
		assert.Equal(t, usageEvent{Service: "etherscan", Used: 7}, e)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, group.Shutdown())
}
