// Package engine implements the NanoTenant workflow engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/micromdm/nanotenant/defaults"
	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/tenant"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// StatusReserved is the remote status set on a claimed root request.
const StatusReserved = "reserved"

// DefaultInterval is the default orchestration loop interval.
const DefaultInterval = time.Second * 30

var ErrNilPipeline = errors.New("nil pipeline")

// Service is the coordination service the engine drives.
type Service interface {
	Submitter
	PendingRequests(ctx context.Context) ([]payload.Value, error)
	Result(ctx context.Context, id string) (payload.Value, bool, error)
	SubmitResult(ctx context.Context, result payload.Value) (string, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// Engine drives workflow instances through the pipeline against a
// coordination service. It is not safe for concurrent use; the loop
// is its only caller.
type Engine struct {
	pipeline *workflow.Pipeline
	resolver *Resolver
	builder  *Builder
	caps     *tenant.Capabilities

	svc     Service
	storage storage.AllStorage
	logger  log.Logger
	metrics *Metrics

	store   *workflow.Store
	queue   workflow.Queue
	stalled []workflow.Stalled

	tenantUUID string
	interval   time.Duration
	end        time.Time
	now        func() time.Time
}

// Options configure the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTenantUUID sets the tenant UUID sent with every submission.
func WithTenantUUID(id string) Option {
	return func(e *Engine) {
		e.tenantUUID = id
	}
}

// WithInterval configures the loop interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithEnd stops Run at the wall-clock time t.
func WithEnd(t time.Time) Option {
	return func(e *Engine) {
		e.end = t
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a new engine for pipeline p.
// The tenant capabilities and defaults come from the pipeline document.
func New(p *workflow.Pipeline, svc Service, storage storage.AllStorage, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, ErrNilPipeline
	}
	caps, err := tenant.New(p.Tenant)
	if err != nil {
		return nil, fmt.Errorf("tenant capabilities: %w", err)
	}
	e := &Engine{
		pipeline: p,
		resolver: NewResolver(p),
		caps:     caps,
		svc:      svc,
		storage:  storage,
		logger:   log.NopLogger,
		store:    workflow.NewStore(),
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.builder = NewBuilder(p, defaults.New(p.Defaults), svc, storage, e.logger, e.tenantUUID)
	e.builder.now = e.now
	return e, nil
}

// Capabilities returns the tenant capabilities the engine matches against.
func (e *Engine) Capabilities() *tenant.Capabilities {
	return e.caps
}

// Load restores the queue and instances from the stored checkpoint.
// An empty checkpoint is written if none exists.
func (e *Engine) Load(ctx context.Context) error {
	logger := ctxlog.Logger(ctx, e.logger)
	c, err := e.storage.RetrieveCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("retrieving checkpoint: %w", err)
	}
	if c == nil {
		logger.Info(logkeys.Message, "no checkpoint found, writing empty checkpoint")
		e.store = workflow.NewStore()
		e.queue = nil
		e.stalled = nil
		return e.checkpoint(ctx, "")
	}
	e.store = workflow.NewStore(c.Instances...)
	e.queue = append(workflow.Queue(nil), c.Queue...)
	e.stalled = append([]workflow.Stalled(nil), c.Stalled...)
	e.metrics.state(len(e.queue), e.store.Len(), len(e.stalled))
	logger.Info(
		logkeys.Message, "loaded checkpoint",
		"created", c.Created,
		logkeys.GenericCount, e.store.Len(),
		"queued", len(e.queue),
		"stalled", len(e.stalled),
	)
	return nil
}

// checkpoint writes the current state. Failure to persist is fatal.
func (e *Engine) checkpoint(ctx context.Context, instanceID string) error {
	c := &storage.Checkpoint{
		Created:   e.now(),
		Queue:     e.queue,
		Instances: e.store.All(),
		Stalled:   e.stalled,
	}
	if err := e.storage.StoreCheckpoint(ctx, c); err != nil {
		return &FatalError{Op: "checkpoint", InstanceID: instanceID, Err: err}
	}
	e.metrics.state(len(e.queue), e.store.Len(), len(e.stalled))
	return nil
}

// drop removes the instance and all of its queue and stalled entries.
func (e *Engine) drop(id string) {
	e.store.Delete(id)
	e.queue = e.queue.RemoveOwner(id)
	stalled := e.stalled[:0:0]
	for _, s := range e.stalled {
		if s.InstanceID != id {
			stalled = append(stalled, s)
		}
	}
	e.stalled = stalled
}
