package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/datafactory/internal/messaging"
	"github.com/serroba/datafactory/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type lifecycle struct {
	started     bool
	stopped     bool
	startErr    error
	shutdownErr error
}

func (l *lifecycle) Start(context.Context) error {
	if l.startErr != nil {
		return l.startErr
	}

	l.started = true

	return nil
}

func (l *lifecycle) Shutdown() error {
	l.stopped = true

	return l.shutdownErr
}

func TestConsumerGroup(t *testing.T) {
	t.Run("subscribed consumers report per topic and log on shutdown", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.New(core))

		snapshots := messaging.Subscribe(group, monitoring.TopicSnapshots,
			func(context.Context, *monitoring.SnapshotEvent) error { return nil })
		group.Add(&lifecycle{})

		assert.Equal(t, []string{monitoring.TopicSnapshots}, group.Topics())
		require.NoError(t, group.Start(context.Background()))

		msg := snapshotMessage(t, "etherscan")
		sub.msgChan <- msg

		select {
		case <-msg.Acked():
		case <-time.After(time.Second):
			t.Fatal("snapshot not acked")
		}

		require.NoError(t, group.Shutdown())
		assert.Equal(t, messaging.Stats{Handled: 1}, snapshots.Stats())
		assert.Equal(t, map[string]messaging.Stats{monitoring.TopicSnapshots: {Handled: 1}}, group.Stats())

		stopped := logs.FilterMessage("consumer stopped").All()
		require.Len(t, stopped, 1)
		assert.Equal(t, int64(1), stopped[0].ContextMap()["handled"])
	})

	t.Run("a failed start rolls back started consumers", func(t *testing.T) {
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		first := &lifecycle{}
		second := &lifecycle{startErr: errors.New("no stream")}

		group.Add(first)
		group.Add(second)

		require.Error(t, group.Start(context.Background()))
		assert.True(t, first.stopped)
		assert.False(t, second.started)
	})

	t.Run("shutdown stops everything and combines errors", func(t *testing.T) {
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		first := &lifecycle{shutdownErr: errors.New("snapshots stuck")}
		second := &lifecycle{shutdownErr: errors.New("alerts stuck")}

		group.Add(first)
		group.Add(second)
		require.NoError(t, group.Start(context.Background()))

		err := group.Shutdown()

		require.Error(t, err)
		assert.ErrorContains(t, err, "snapshots stuck")
		assert.ErrorContains(t, err, "alerts stuck")
		assert.True(t, first.stopped)
		assert.True(t, second.stopped)
	})
}
