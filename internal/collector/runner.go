package collector

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/serroba/datafactory/internal/egress"
	"github.com/serroba/datafactory/internal/keymanager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cycleIDLength = 10

// Attempt is one call made by a source, as reported to a Recorder.
type Attempt struct {
	Source   string
	Service  string
	At       time.Time
	Duration time.Duration
	Outcome  keymanager.Outcome
	Err      error
}

// Key groups attempts: the service for keyed sources, the source name otherwise.
func (a Attempt) Key() string {
	if a.Service != "" {
		return a.Service
	}

	return a.Source
}

type Recorder interface {
	Record(a Attempt)
}

// Allocator is the part of the key manager the runner depends on.
type Allocator interface {
	Has(service string) bool
	Acquire(service string) (keymanager.Handle, error)
	Report(h keymanager.Handle, outcome keymanager.Outcome) error
}

// ClientSource hands out HTTP clients bound to an egress route.
type ClientSource interface {
	For(route *egress.Route) *http.Client
}

// Runner polls every source on its interval and merges the collected fields
// into the current minute's row.
type Runner struct {
	sources  map[string]Source
	order    []string
	keys     Allocator
	clients  ClientSource
	recorder Recorder
	writer   RowWriter
	logger   *zap.Logger
	now      func() time.Time
	cycleID  func() string

	mu  sync.Mutex
	row Row
}

type RunnerOption func(*Runner)

func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(rn *Runner) { rn.now = now }
}

// NewRunner checks that every keyed source names a service the allocator knows.
func NewRunner(
	sources []Source,
	keys Allocator,
	clients ClientSource,
	writer RowWriter,
	logger *zap.Logger,
	opts ...RunnerOption,
) (*Runner, error) {
	cycleID, err := nanoid.Standard(cycleIDLength)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		sources: make(map[string]Source, len(sources)),
		keys:    keys,
		clients: clients,
		writer:  writer,
		logger:  logger,
		now:     time.Now,
		cycleID: cycleID,
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, src := range sources {
		name := src.Name()
		if _, dup := r.sources[name]; dup {
			return nil, fmt.Errorf("duplicate source %q", name)
		}

		if svc := src.Service(); svc != "" && !keys.Has(svc) {
			return nil, fmt.Errorf("source %s: %w: %s", name, keymanager.ErrUnknownService, svc)
		}

		r.sources[name] = src
		r.order = append(r.order, name)
	}

	return r, nil
}

// Sources returns the source names in registration order.
func (r *Runner) Sources() []string {
	return append([]string(nil), r.order...)
}

// Run polls every source until ctx is cancelled. Each source ticks once
// immediately, then on its interval; ticks of one source never overlap.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, name := range r.order {
		src := r.sources[name]

		g.Go(func() error {
			r.loop(ctx, src)

			return nil
		})
	}

	r.logger.Info("collectors started", zap.Int("sources", len(r.order)))

	err := g.Wait()

	r.logger.Info("collectors stopped")

	return err
}

func (r *Runner) loop(ctx context.Context, src Source) {
	ticker := time.NewTicker(src.Interval())
	defer ticker.Stop()

	for {
		if err := r.tick(ctx, src); err != nil && ctx.Err() == nil {
			r.logger.Debug("tick skipped", zap.String("source", src.Name()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs a single collection cycle of the named source.
func (r *Runner) Tick(ctx context.Context, name string) error {
	src, ok := r.sources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	return r.tick(ctx, src)
}

func (r *Runner) tick(ctx context.Context, src Source) error {
	log := r.logger.With(zap.String("source", src.Name()), zap.String("cycle", r.cycleID()))

	var (
		handle keymanager.Handle
		keyed  = src.Service() != ""
		call   = Call{Client: r.clients.For(nil)}
	)

	if keyed {
		h, err := r.keys.Acquire(src.Service())
		if err != nil {
			if errors.Is(err, keymanager.ErrExhausted) {
				log.Warn("all credentials resting, skipping", zap.String("service", src.Service()))
			} else {
				log.Error("acquire credential", zap.Error(err))
			}

			return err
		}

		handle = h
		call = Call{Client: r.clients.For(h.Route()), Credential: h.Credential()}
		log = log.With(zap.String("credential", h.Credential().ID()), zap.Int("index", h.Index()))
	}

	started := r.now()
	fields, err := src.Collect(ctx, call)
	outcome := classify(err)

	if keyed {
		if rerr := r.keys.Report(handle, outcome); rerr != nil {
			log.Error("report outcome", zap.Error(rerr))
		}
	}

	if r.recorder != nil {
		r.recorder.Record(Attempt{
			Source:   src.Name(),
			Service:  src.Service(),
			At:       started,
			Duration: r.now().Sub(started),
			Outcome:  outcome,
			Err:      err,
		})
	}

	if err != nil {
		log.Error("collect", zap.Stringer("outcome", outcome), zap.Error(err))

		return err
	}

	row := r.merge(started, fields)
	if r.writer == nil {
		return nil
	}

	if err := r.writer.Write(ctx, row); err != nil {
		log.Error("write row", zap.Error(err))

		return err
	}

	log.Debug("collected", zap.Int("fields", len(fields)))

	return nil
}

// merge folds fields into the row of the current minute and returns a copy.
func (r *Runner) merge(at time.Time, fields Fields) Row {
	minute := at.UTC().Truncate(time.Minute)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.row.Time.Equal(minute) {
		r.row = Row{Time: minute, Fields: make(Fields, len(fields))}
	}

	maps.Copy(r.row.Fields, fields)

	return Row{Time: r.row.Time, Fields: maps.Clone(r.row.Fields)}
}

// Current returns a copy of the row being filled.
func (r *Runner) Current() Row {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Row{Time: r.row.Time, Fields: maps.Clone(r.row.Fields)}
}

func classify(err error) keymanager.Outcome {
	switch {
	case err == nil:
		return keymanager.OutcomeSuccess
	case errors.Is(err, egress.ErrNotSent):
		return keymanager.OutcomeNotSent
	default:
		return keymanager.OutcomeFailure
	}
}
