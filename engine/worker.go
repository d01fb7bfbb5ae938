package engine

import (
	"context"
	"time"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/logkeys"
	"github.com/micromdm/nanotenant/payload"
	"github.com/micromdm/nanotenant/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// archiveDateFormat names workflow archives without a root ctime.
const archiveDateFormat = "2006-01-02"

// RunOnce runs one iteration of the loop: retry stalled submissions,
// poll every queued request, then discover new root requests.
// Only a *FatalError is returned; everything else is logged.
func (e *Engine) RunOnce(ctx context.Context) error {
	start := e.now()
	defer func() { e.metrics.iteration(e.now().Sub(start)) }()

	if err := e.retryStalled(ctx); err != nil {
		return err
	}
	if err := e.poll(ctx); err != nil {
		return err
	}
	return e.discover(ctx)
}

// Run runs the loop on an interval until the end time passes, ctx is
// cancelled or an iteration fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Debug(logkeys.Message, "starting loop", "interval", e.interval, "end", e.end)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if !e.end.IsZero() && !e.now().Before(e.end) {
			e.logger.Info(logkeys.Message, "end time reached")
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := e.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// retryStalled rebuilds and resubmits every stalled step.
// Steps failing again stay stalled.
func (e *Engine) retryStalled(ctx context.Context) error {
	if len(e.stalled) < 1 {
		return nil
	}
	pending := e.stalled
	e.stalled = nil

	var changed bool
	for _, s := range pending {
		logger := ctxlog.Logger(ctx, e.logger).With(
			logkeys.InstanceID, s.InstanceID,
			logkeys.Quantity, s.Step.Quantity,
			logkeys.Method, s.Step.Method,
		)
		inst := e.store.Get(s.InstanceID)
		if inst == nil {
			logger.Info(logkeys.Message, "dropping stalled step of unknown instance")
			changed = true
			continue
		}
		snapshot := inst.Clone()
		res, err := e.builder.Build(ctx, s.Step, inst, BuildOptions{Sample: s.Sample, BatchIndex: s.BatchIndex, Resubmit: true})
		if err != nil {
			e.store.Put(snapshot)
			e.stalled = append(e.stalled, s)
			logger.Info(
				logkeys.Message, "retrying stalled step",
				logkeys.Error, err,
			)
			continue
		}
		e.metrics.built(res)
		e.queue = append(e.queue, res.Queued...)
		e.stalled = append(e.stalled, res.Stalled...)
		if len(res.Queued) > 0 {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return e.checkpoint(ctx, "")
}

// poll fetches the result of every queued request.
func (e *Engine) poll(ctx context.Context) error {
	entries := append(workflow.Queue(nil), e.queue...)
	for _, entry := range entries {
		if err := e.pollEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pollEntry(ctx context.Context, entry workflow.QueueEntry) error {
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.RequestID, entry.RequestID,
		logkeys.InstanceID, entry.Owner,
	)
	result, ok, err := e.svc.Result(ctx, entry.RequestID)
	if err != nil {
		logger.Info(
			logkeys.Message, "fetching result",
			logkeys.Error, err,
		)
		return nil
	} else if !ok {
		return nil
	}

	if id := resultRequestID(result); id != entry.RequestID {
		logger.Info(
			logkeys.Message, "result request id mismatch",
			"result_request_id", id,
		)
		return nil
	}
	inst := e.store.Get(entry.Owner)
	if inst == nil {
		logger.Info(logkeys.Message, "queued request of unknown instance")
		return nil
	}
	rec, sample := inst.FindRequest(entry.RequestID)
	if rec == nil {
		logger.Info(logkeys.Message, "instance has no record of request")
		return nil
	}
	doc := rec.Request
	if sample != nil {
		doc = sample.Request
	}
	step, ok := workflow.StepOf(doc)
	if !ok {
		logger.Info(
			logkeys.Message, "recorded request has no step",
			logkeys.StepName, rec.Name,
		)
		return nil
	}
	logger = logger.With(
		logkeys.Quantity, step.Quantity,
		logkeys.Method, step.Method,
	)
	e.metrics.completed(step.Quantity)

	if e.pipeline.IsTerminal(step) {
		return e.completeTerminal(ctx, logger, entry, inst, result)
	}
	return e.complete(ctx, logger, entry, inst, step, sample != nil, result)
}

func resultRequestID(result payload.Value) string {
	v, _ := result.Path("result", "request_uuid")
	s, _ := v.Str()
	return s
}

// complete records a non-terminal result and submits the next step.
// fanOut reports whether the result belongs to a sample of a fan-out
// step, in which case the next step is built for that sample.
func (e *Engine) complete(ctx context.Context, logger log.Logger, entry workflow.QueueEntry, inst *workflow.Instance, step workflow.Step, fanOut bool, result payload.Value) error {
	if _, _, err := inst.RecordResult(entry.RequestID, result); err != nil {
		logger.Info(logkeys.Message, "recording result", logkeys.Error, err)
		return nil
	}
	if err := e.checkpoint(ctx, inst.ID); err != nil {
		return err
	}
	snapshot := inst.Clone()

	opts := BuildOptions{BatchIndex: workflow.AllSamples}
	if fanOut {
		opts.Sample = entry.RequestID
	}
	d := e.resolver.Resolve(step, inst)
	logDecision(logger, d)

	res, err := e.builder.Build(ctx, d.Step, inst, opts)
	if err != nil {
		e.store.Put(snapshot)
		return logAndError(&FatalError{Op: "build", InstanceID: inst.ID, Err: err}, logger, "building next step")
	}
	e.metrics.built(res)
	e.queue, _ = e.queue.Remove(entry.RequestID)
	e.queue = append(e.queue, res.Queued...)
	e.stalled = append(e.stalled, res.Stalled...)
	return e.checkpoint(ctx, inst.ID)
}

// completeTerminal records a terminal result. The last outstanding
// terminal result of an instance triggers the aggregate result.
func (e *Engine) completeTerminal(ctx context.Context, logger log.Logger, entry workflow.QueueEntry, inst *workflow.Instance, result payload.Value) error {
	if _, _, err := inst.RecordResult(entry.RequestID, result); err != nil {
		logger.Info(logkeys.Message, "recording result", logkeys.Error, err)
		return nil
	}
	if outstanding := e.queue.CountOwner(inst.ID) + workflow.CountStalled(e.stalled, inst.ID); outstanding > 1 {
		e.queue, _ = e.queue.Remove(entry.RequestID)
		logger.Debug(
			logkeys.Message, "terminal result recorded",
			logkeys.GenericCount, outstanding-1,
		)
		return e.checkpoint(ctx, inst.ID)
	}

	collectTerminal(e.pipeline, inst)
	if err := e.checkpoint(ctx, inst.ID); err != nil {
		return err
	}

	agg := aggregate(e.pipeline, inst, e.tenantUUID)
	resultID, err := e.svc.SubmitResult(ctx, agg)
	e.metrics.aggregated(err == nil)
	if err != nil {
		logger.Info(
			logkeys.Message, "submitting aggregate result",
			logkeys.Error, err,
		)
		return nil
	}
	logger.Info(
		logkeys.Message, "submitted aggregate result",
		"result_id", resultID,
		logkeys.GenericCount, inst.Root.Result.Len(),
	)

	e.archiveWorkflow(ctx, logger, inst, resultID)
	e.drop(inst.ID)
	return e.checkpoint(ctx, inst.ID)
}

func (e *Engine) archiveWorkflow(ctx context.Context, logger log.Logger, inst *workflow.Instance, resultID string) {
	doc := payload.Object(
		payload.Member{Key: "request", Value: payload.String(inst.ID)},
		payload.Member{Key: "result", Value: payload.String(resultID)},
		payload.Member{Key: "workflow", Value: inst.Value()},
	)
	name := archiveName(inst, e.now().UTC().Format(archiveDateFormat))
	raw, err := payload.MarshalIndent(doc)
	if err == nil {
		err = e.storage.StoreArchive(ctx, storage.WorkflowArchive, name, raw)
	}
	if err != nil {
		logger.Info(
			logkeys.Message, "archiving workflow",
			logkeys.Error, err,
		)
	}
}

// discover claims pending root requests matching the tenant's
// capabilities.
func (e *Engine) discover(ctx context.Context) error {
	pending, err := e.svc.PendingRequests(ctx)
	if err != nil {
		ctxlog.Logger(ctx, e.logger).Info(
			logkeys.Message, "fetching pending requests",
			logkeys.Error, err,
		)
		return nil
	}
	for _, item := range pending {
		if err := e.claim(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// claim starts an instance for the pending item if the tenant serves it.
func (e *Engine) claim(ctx context.Context, item payload.Value) error {
	logger := ctxlog.Logger(ctx, e.logger)
	idv, _ := item.Get("uuid")
	id, _ := idv.Str()
	if id == "" {
		logger.Info(logkeys.Message, "pending request without id")
		return nil
	}
	logger = logger.With(logkeys.InstanceID, id)
	if e.store.Has(id) {
		return nil
	}
	if !storage.ValidName(id) {
		// the id names the workflow archive
		logger.Info(logkeys.Message, "pending request id not usable as a name")
		return nil
	}
	request, _ := item.Get("request")
	method, ok := e.caps.MatchRequest(request)
	if !ok {
		logger.Debug(logkeys.Message, "pending request not served by tenant")
		return nil
	}

	root := item.Clone()
	if err := root.SetPath(payload.Array(payload.String(method)), "request", "methods"); err != nil {
		logger.Info(logkeys.Message, "pending request", logkeys.Error, err)
		return nil
	}
	inst := workflow.NewInstance(id, root)
	e.store.Put(inst)

	rootStep, _ := inst.RootStep()
	d := e.resolver.Resolve(rootStep, inst)
	logDecision(logger, d)

	res, err := e.builder.Build(ctx, d.Step, inst, BuildOptions{BatchIndex: workflow.AllSamples})
	if err != nil {
		e.store.Delete(id)
		return logAndError(&FatalError{Op: "discover", InstanceID: id, Err: err}, logger, "building first step")
	}
	e.metrics.built(res)
	e.queue = append(e.queue, res.Queued...)
	e.stalled = append(e.stalled, res.Stalled...)
	if err := e.checkpoint(ctx, id); err != nil {
		return err
	}

	if err := e.svc.UpdateStatus(ctx, id, StatusReserved); err != nil {
		e.drop(id)
		if cerr := e.checkpoint(ctx, id); cerr != nil {
			return cerr
		}
		return logAndError(&FatalError{Op: "reserve", InstanceID: id, Err: err}, logger, "reserving root request")
	}
	logger.Info(
		logkeys.Message, "claimed root request",
		logkeys.Quantity, rootStep.Quantity,
		logkeys.Method, rootStep.Method,
	)
	return nil
}

func logDecision(logger log.Logger, d Decision) {
	logger = logger.With(
		logkeys.NextQuantity, d.Step.Quantity,
		logkeys.NextMethod, d.Step.Method,
		"rule", d.Rule,
	)
	if d.Fallback {
		logger.Info(logkeys.Message, "routing fell back to default step")
		return
	}
	logger.Debug(logkeys.Message, "resolved next step")
}
