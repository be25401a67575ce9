package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/datafactory/internal/keymanager"
	"github.com/serroba/datafactory/internal/messaging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// StatusReader is the read side of the key manager.
type StatusReader interface {
	Status(services ...string) (keymanager.Snapshot, error)
}

// Reporter periodically snapshots the key manager, evaluates alerts and
// publishes both.
type Reporter struct {
	keys            StatusReader
	tracker         *Tracker
	alerts          *Alerts
	publishSnapshot messaging.Publish[SnapshotEvent]
	publishAlert    messaging.Publish[AlertEvent]
	interval        time.Duration
	window          time.Duration
	logger          *zap.Logger
}

func NewReporter(
	keys StatusReader,
	tracker *Tracker,
	alerts *Alerts,
	publishSnapshot messaging.Publish[SnapshotEvent],
	publishAlert messaging.Publish[AlertEvent],
	interval time.Duration,
	logger *zap.Logger,
) *Reporter {
	return &Reporter{
		keys:            keys,
		tracker:         tracker,
		alerts:          alerts,
		publishSnapshot: publishSnapshot,
		publishAlert:    publishAlert,
		interval:        interval,
		window:          time.Hour,
		logger:          logger,
	}
}

// Report runs one reporting cycle.
func (r *Reporter) Report(ctx context.Context) error {
	snap, err := r.keys.Status()
	if err != nil {
		return err
	}

	raised := r.alerts.Evaluate(snap, r.tracker.Metrics(r.window))

	for _, alert := range raised {
		r.logAlert(alert)
	}

	if len(snap.Services) == 0 {
		r.logger.Debug("no services registered, nothing to publish")

		return nil
	}

	err = r.publishSnapshot(ctx, &SnapshotEvent{ID: uuid.NewString(), Snapshot: snap})

	for _, alert := range raised {
		err = multierr.Append(err, r.publishAlert(ctx, &AlertEvent{Alert: alert}))
	}

	return err
}

// Run reports every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				r.logger.Error("status report failed", zap.Error(err))
			}
		}
	}
}

func (r *Reporter) logAlert(a Alert) {
	fields := []zap.Field{
		zap.String("type", string(a.Type)),
		zap.String("service", a.Service),
		zap.Float64("value", a.Value),
	}

	if a.Credential != "" {
		fields = append(fields, zap.String("credential", a.Credential))
	}

	if a.Severity == keymanager.LevelWarning {
		r.logger.Warn(a.Message, fields...)

		return
	}

	r.logger.Error(a.Message, fields...)
}
