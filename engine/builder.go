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
	"github.com/micromdm/nanotenant/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ErrEmptyBatch is returned when building a fan-out step without samples.
var ErrEmptyBatch = errors.New("no samples in batch")

// failedNameFormat is the timestamp layout of failed request archive names.
const failedNameFormat = "2006-01-02T15-04-05.000000000"

// Submitter fetches step templates and submits step requests.
type Submitter interface {
	Template(ctx context.Context, quantity, method string) (payload.Value, error)
	SubmitRequest(ctx context.Context, request payload.Value) (string, error)
}

// BuildOptions select the fan-out sub-entry and batch items of a build.
type BuildOptions struct {
	// Sample is the fan-out request ID whose sub-entry feeds the build.
	Sample string

	// BatchIndex limits a fan-out build to a single batch item.
	// Use workflow.AllSamples to submit every item.
	BatchIndex int

	// Resubmit marks the retry of a stalled step. Its payload was
	// archived on the first failure and is not archived again.
	Resubmit bool
}

// BuildResult reports what a build submitted.
type BuildResult struct {
	Step       workflow.Step
	Occurrence workflow.Occurrence

	// Queued has one entry per accepted submission.
	Queued []workflow.QueueEntry

	// Stalled has one entry per rejected submission.
	Stalled []workflow.Stalled

	// Missing lists template keys no source resolved, including
	// required inputs absent from the instance.
	Missing []string

	// Stripped lists the removed null and optional keys.
	Stripped []string

	Resolutions []Resolution
	Fixups      []Resolution
}

// Builder assembles and submits step requests.
type Builder struct {
	pipeline   *workflow.Pipeline
	defaults   *defaults.Registry
	svc        Submitter
	archive    storage.ArchiveStorage
	logger     log.Logger
	tenantUUID string
	now        func() time.Time
}

// NewBuilder creates a new request builder.
func NewBuilder(p *workflow.Pipeline, d *defaults.Registry, svc Submitter, archive storage.ArchiveStorage, logger log.Logger, tenantUUID string) *Builder {
	if logger == nil {
		logger = log.NopLogger
	}
	return &Builder{
		pipeline:   p,
		defaults:   d,
		svc:        svc,
		archive:    archive,
		logger:     logger,
		tenantUUID: tenantUUID,
		now:        time.Now,
	}
}

// requestDocument wraps params in the request envelope for step.
func (b *Builder) requestDocument(step workflow.Step, params payload.Value) payload.Value {
	return payload.Object(
		payload.Member{Key: "quantity", Value: payload.String(step.Quantity)},
		payload.Member{Key: "methods", Value: payload.Array(payload.String(step.Method))},
		payload.Member{Key: "parameters", Value: payload.Object(
			payload.Member{Key: step.Method, Value: params},
		)},
		payload.Member{Key: "tenant_uuid", Value: payload.String(b.tenantUUID)},
	)
}

// prepareRepeated renames the first occurrence of the repeated step
// once it has a result and returns which occurrence is being built.
func (b *Builder) prepareRepeated(step workflow.Step, inst *workflow.Instance) workflow.Occurrence {
	roles := b.pipeline.Roles
	if step.Quantity != roles.Repeated {
		return workflow.AnyOccurrence
	}
	if r := inst.Record(roles.Repeated); r != nil && r.HasResult() {
		inst.RenameRecord(roles.Repeated, roles.RepeatedName())
	}
	if inst.Has(roles.RepeatedName()) {
		return workflow.SecondOccurrence
	}
	return workflow.FirstOccurrence
}

// assemble builds the request payload for step without submitting it.
// It also returns the working set. The repeated step's first occurrence
// may be renamed in inst.
func (b *Builder) assemble(ctx context.Context, step workflow.Step, inst *workflow.Instance, opts BuildOptions) (payload.Value, payload.Value, *BuildResult, error) {
	logger := ctxlog.Logger(ctx, b.logger)
	tmpl, err := b.svc.Template(ctx, step.Quantity, step.Method)
	if err != nil {
		return payload.Value{}, payload.Value{}, nil, fmt.Errorf("fetching template for %s: %w", step, err)
	}
	req := tmpl.Clone()

	res := &BuildResult{Step: step}
	res.Occurrence = b.prepareRepeated(step, inst)

	ws := workingSet(logger, step, inst, opts.Sample)

	f := &filler{defaults: b.defaults, ws: ws}
	f.fill(&req, "")
	res.Resolutions = f.res
	res.Missing = missing(f.res)
	if catalogued, ok := b.pipeline.Steps.Lookup(step.Quantity, step.Method); ok {
		for _, name := range catalogued.Requires {
			if !inst.Has(name) && !ws.Has(name) {
				res.Missing = append(res.Missing, name)
			}
		}
	}

	res.Fixups = applyFixups(b.pipeline, step, res.Occurrence, &req, ws)
	res.Stripped = strip(&req, "")
	return req, ws, res, nil
}

// Build assembles the request for step from inst and submits it.
// Accepted submissions are recorded in inst and returned as queue
// entries. Rejected submissions are archived and returned as stalled
// entries. An error is returned only if no request could be assembled.
func (b *Builder) Build(ctx context.Context, step workflow.Step, inst *workflow.Instance, opts BuildOptions) (*BuildResult, error) {
	logger := ctxlog.Logger(ctx, b.logger).With(
		logkeys.InstanceID, inst.ID,
		logkeys.Quantity, step.Quantity,
		logkeys.Method, step.Method,
	)

	req, ws, res, err := b.assemble(ctx, step, inst, opts)
	if err != nil {
		return nil, err
	}
	b.logResolutions(logger, res)

	switch {
	case b.pipeline.IsFanOut(step):
		samples := b.samples(ws)
		if len(samples) < 1 {
			return res, fmt.Errorf("%w: %s", ErrEmptyBatch, b.pipeline.Roles.BatchKey)
		}
		for idx, sample := range samples {
			if opts.BatchIndex != workflow.AllSamples && idx != opts.BatchIndex {
				continue
			}
			sampleReq := req.Clone()
			sampleReq.Set(b.pipeline.Roles.SampleKey, sample)
			doc := b.requestDocument(step, sampleReq)
			id, ok := b.submit(ctx, logger, res, inst, doc, opts, idx)
			if ok {
				inst.EnsureRecord(step.Quantity, true).AddSample(id, doc)
			}
		}
	case b.pipeline.IsTerminal(step):
		doc := b.requestDocument(step, req)
		if id, ok := b.submit(ctx, logger, res, inst, doc, opts, workflow.AllSamples); ok {
			inst.EnsureRecord(step.Quantity, true).AddSample(id, doc)
		}
	default:
		doc := b.requestDocument(step, req)
		if id, ok := b.submit(ctx, logger, res, inst, doc, opts, workflow.AllSamples); ok {
			rec := inst.EnsureRecord(step.Quantity, false)
			rec.RequestID = id
			rec.Request = doc
			rec.Result = payload.Null()
		}
	}
	return res, nil
}

// samples returns the per-sample values listed under the batch key.
func (b *Builder) samples(ws payload.Value) []payload.Value {
	batch, _ := ws.Get(b.pipeline.Roles.BatchKey)
	var ret []payload.Value
	for _, item := range batch.Items() {
		if v, ok := item.Get(b.pipeline.Roles.SampleKey); ok {
			ret = append(ret, v)
			continue
		}
		ret = append(ret, item)
	}
	return ret
}

// submit sends doc and records the outcome in res.
func (b *Builder) submit(ctx context.Context, logger log.Logger, res *BuildResult, inst *workflow.Instance, doc payload.Value, opts BuildOptions, batchIndex int) (string, bool) {
	id, err := b.svc.SubmitRequest(ctx, doc)
	if err == nil && id == "" {
		err = errors.New("empty request id")
	}
	if err != nil {
		logger.Info(
			logkeys.Message, "submitting request",
			logkeys.Error, err,
		)
		if !opts.Resubmit {
			b.archiveFailed(ctx, logger, res.Step, doc)
		}
		res.Stalled = append(res.Stalled, workflow.Stalled{
			InstanceID: inst.ID,
			Step:       res.Step,
			Sample:     opts.Sample,
			BatchIndex: batchIndex,
		})
		return "", false
	}
	logger.Info(
		logkeys.Message, "submitted request",
		logkeys.RequestID, id,
	)
	res.Queued = append(res.Queued, workflow.QueueEntry{RequestID: id, Owner: inst.ID})
	return id, true
}

func (b *Builder) archiveFailed(ctx context.Context, logger log.Logger, step workflow.Step, doc payload.Value) {
	if b.archive == nil {
		return
	}
	name := b.now().UTC().Format(failedNameFormat) + "_" + step.Quantity + ".json"
	raw, err := payload.MarshalIndent(doc)
	if err == nil {
		err = b.archive.StoreArchive(ctx, storage.FailedArchive, name, raw)
	}
	if err != nil {
		logger.Info(
			logkeys.Message, "archiving failed request",
			logkeys.Error, err,
		)
	}
}

func (b *Builder) logResolutions(logger log.Logger, res *BuildResult) {
	for _, r := range res.Resolutions {
		if r.Outcome == Failed {
			logger.Debug(
				logkeys.Message, "computed default",
				"key", r.Key,
				logkeys.Error, r.Err,
			)
		}
	}
	if len(res.Missing) > 0 {
		logger.Info(
			logkeys.Message, "missing template keys",
			"keys", res.Missing,
		)
	}
	for _, r := range res.Fixups {
		switch r.Outcome {
		case Skipped:
			logger.Debug(logkeys.Message, "fixup skipped", "fixup", r.Key, "reason", r.Reason)
		case Failed:
			logger.Info(logkeys.Message, "fixup failed", "fixup", r.Key, logkeys.Error, r.Err)
		}
	}
}
