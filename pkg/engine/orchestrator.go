package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/rs/zerolog"
)

// DefaultHostTimeout bounds a single host run.
const DefaultHostTimeout = 5 * time.Minute

// Options configures an Orchestrator. Zero values are replaced with
// defaults; telemetry hooks may be nil.
type Options struct {
	HostTimeout  time.Duration
	PollInterval time.Duration
	Convention   sections.Convention
	Verdict      Verdict
	Enforcer     Enforcer

	Tracer  *telemetry.Tracer
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
	Logger  zerolog.Logger
}

// Orchestrator runs scripts on many hosts at once and keeps a live record
// of every execution.
type Orchestrator struct {
	scripts   ScriptSource
	hosts     HostSource
	transport Transport
	store     *ExecutionStore
	parser    *sections.Parser
	opts      Options
	logger    zerolog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator wires an orchestrator over its collaborators.
func NewOrchestrator(scripts ScriptSource, hosts HostSource, transport Transport, store *ExecutionStore, opts Options) (*Orchestrator, error) {
	if scripts == nil || hosts == nil || transport == nil {
		return nil, fmt.Errorf("script source, host source and transport are required")
	}
	if store == nil {
		store = NewExecutionStore()
	}
	if opts.HostTimeout <= 0 {
		opts.HostTimeout = DefaultHostTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.Convention.BoundaryPattern == "" {
		opts.Convention = sections.DefaultConvention()
	}
	if opts.Verdict == nil {
		opts.Verdict = ExitCodeVerdict{}
	}

	parser, err := sections.NewParser(opts.Convention)
	if err != nil {
		return nil, fmt.Errorf("invalid section convention: %w", err)
	}

	return &Orchestrator{
		scripts:   scripts,
		hosts:     hosts,
		transport: transport,
		store:     store,
		parser:    parser,
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Start validates req, records a new execution in the preparing state and
// dispatches it in the background.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.ScriptID == "" {
		return "", NewValidationError("script id is required")
	}

	hostIDs := dedupe(req.HostIDs)
	if len(hostIDs) == 0 {
		return "", NewValidationError("at least one host is required")
	}

	meta, err := o.scripts.Lookup(ctx, req.ScriptID)
	if err != nil {
		return "", err
	}
	if !meta.Type.Supported() {
		return "", NewValidationError(fmt.Sprintf("unsupported script type: %s", meta.Type)).
			WithResource(meta.ID)
	}

	var sectionIDs []string
	if len(req.SectionIDs) > 0 {
		sectionIDs = o.opts.Convention.WellFormed(req.SectionIDs)
		if len(sectionIDs) == 0 {
			return "", NewValidationError("no valid section ids in selection").
				WithDetail("section_ids", req.SectionIDs)
		}
	}

	targets := make([]Target, 0, len(hostIDs))
	refs := make([]HostRef, 0, len(hostIDs))
	for _, id := range hostIDs {
		t, err := o.hosts.Target(ctx, id)
		if err != nil {
			return "", err
		}
		targets = append(targets, *t)
		refs = append(refs, t.Ref())
	}

	rec := &ExecutionRecord{
		ID:             uuid.New().String(),
		ScriptID:       meta.ID,
		ScriptName:     meta.Name,
		ScriptFilename: meta.Filename,
		SectionIDs:     sectionIDs,
		Hosts:          refs,
		Status:         StatusPreparing,
		StartedAt:      time.Now(),
		Results:        make(map[string]*HostResult),
		TotalHosts:     len(targets),
	}
	if err := o.store.Create(rec); err != nil {
		return "", err
	}

	o.opts.Metrics.RecordExecutionStarted()
	_ = o.opts.Events.PublishExecutionStarted(rec.ID, meta.ID, len(targets), req.Actor)

	o.logger.Info().
		Str("execution_id", rec.ID).
		Str("script_id", meta.ID).
		Int("hosts", len(targets)).
		Strs("sections", sectionIDs).
		Msg("Execution started")

	o.wg.Add(1)
	go o.dispatch(rec.ID, *meta, targets, sectionIDs, req.Credential)

	return rec.ID, nil
}

// Status returns a snapshot of an execution.
func (o *Orchestrator) Status(id string) (*ExecutionRecord, error) {
	return o.store.Get(id)
}

// List returns snapshots of all executions, newest first.
func (o *Orchestrator) List() []*ExecutionRecord {
	return o.store.List()
}

// Wait polls an execution until it reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*ExecutionRecord, error) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		rec, err := o.store.Get(id)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain blocks until every dispatched execution has finished or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EffectiveScript returns the body that is sent to hosts: the selected
// units of a shell script, or the literal content otherwise.
func (o *Orchestrator) EffectiveScript(meta ScriptMeta, content string, sectionIDs []string) string {
	if meta.Type == ScriptTypeShell && len(sectionIDs) > 0 {
		return o.parser.Reconstruct(content, sectionIDs)
	}
	return content
}

func (o *Orchestrator) dispatch(id string, meta ScriptMeta, targets []Target, sectionIDs []string, cred Credential) {
	defer o.wg.Done()

	ctx, span := o.opts.Tracer.StartExecutionSpan(context.Background(), id, meta.ID, len(targets))
	defer span.End()

	logger := o.logger.With().Str("execution_id", id).Logger()
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}
	ctx = logger.WithContext(ctx)
	started := time.Now()

	if err := o.store.SetStatus(id, StatusRunning); err != nil {
		logger.Error().Err(err).Msg("Failed to mark execution running")
	}

	content, err := o.scripts.Content(ctx, meta.ID)
	if err != nil {
		o.fail(id, meta, started, fmt.Sprintf("failed to load script content: %v", err))
		telemetry.RecordError(span, err)
		return
	}

	body := o.EffectiveScript(meta, content, sectionIDs)

	if o.opts.Enforcer != nil {
		refs := make([]HostRef, len(targets))
		for i, t := range targets {
			refs[i] = t.Ref()
		}

		allowed, reason, err := o.opts.Enforcer.Check(ctx, meta, body, refs)
		if err != nil {
			o.fail(id, meta, started, fmt.Sprintf("policy check failed: %v", err))
			telemetry.RecordError(span, err)
			return
		}
		if !allowed {
			denied := NewPolicyDeniedError(meta.ID, reason)
			_ = o.opts.Events.PublishPolicyViolation(id, meta.ID, reason)
			o.opts.Metrics.RecordError(denied.Code)
			o.fail(id, meta, started, "blocked by policy: "+reason)
			telemetry.RecordError(span, denied)
			return
		}
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			result := o.runHost(ctx, id, meta, target, body, cred)
			if err := o.store.RecordHostResult(id, result); err != nil {
				logger.Error().Err(err).Str("host_id", target.ID).Msg("Failed to record host result")
			}
		}(target)
	}
	wg.Wait()

	status, err := o.store.Finish(id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to finish execution")
		return
	}

	rec, _ := o.store.Get(id)
	duration := time.Since(started)
	o.opts.Metrics.RecordExecutionFinished(string(status), duration)
	if rec != nil {
		_ = o.opts.Events.PublishExecutionFinished(id, meta.ID, string(status), rec.CompletedCount, rec.FailedCount, duration, "")
	}
	if status == StatusCompleted {
		telemetry.RecordSuccess(span)
	}

	logger.Info().
		Str("status", string(status)).
		Dur("duration", duration).
		Msg("Execution finished")
}

func (o *Orchestrator) runHost(ctx context.Context, execID string, meta ScriptMeta, target Target, body string, cred Credential) *HostResult {
	ctx, span := o.opts.Tracer.StartHostSpan(ctx, target.ID, target.IP)
	defer span.End()

	logger := telemetry.FromContext(ctx).With().Str("host_id", target.ID).Logger()

	ctx, cancel := context.WithTimeout(ctx, o.opts.HostTimeout)
	defer cancel()

	started := time.Now()
	result := &HostResult{
		HostID:   target.ID,
		Hostname: target.Name,
		IP:       target.IP,
	}

	type outcome struct {
		res *RemoteResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := o.transport.Run(ctx, RemoteRequest{
			Target:     target,
			Credential: cred,
			Body:       body,
			Type:       meta.Type,
			Timeout:    o.opts.HostTimeout,
		})
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		result.ExitCode = TimeoutExitCode
		result.Output = fmt.Sprintf("execution timed out after %v", o.opts.HostTimeout)
		telemetry.RecordError(span, ctx.Err())

	case out := <-done:
		switch {
		case out.err != nil:
			result.ExitCode = -1
			result.Output = out.err.Error()
			telemetry.RecordError(span, out.err)

		case out.res == nil:
			result.ExitCode = -1
			result.Output = "transport returned no result"

		default:
			result.ExitCode = out.res.ExitCode
			result.Output = out.res.Output()
			result.Checks = sections.ExtractChecks(out.res.Stdout)

			ok, err := o.opts.Verdict.Success(ctx, out.res, result.Checks)
			if err != nil {
				logger.Warn().Err(err).Msg("Verdict failed, treating host as failed")
			}
			result.Success = ok && err == nil
			telemetry.RecordHostOutcome(span, result.ExitCode, len(result.Checks), result.Success)
		}
	}

	result.CompletedAt = time.Now()
	duration := result.CompletedAt.Sub(started)
	result.Duration = duration.Seconds()

	o.opts.Metrics.RecordHostRun(result.Success, duration)
	_ = o.opts.Events.PublishHostResult(execID, target.ID, result.Success, result.ExitCode, duration)

	logger.Debug().
		Int("exit_code", result.ExitCode).
		Bool("success", result.Success).
		Msg("Host finished")

	return result
}

func (o *Orchestrator) fail(id string, meta ScriptMeta, started time.Time, message string) {
	if err := o.store.Fail(id, message); err != nil {
		o.logger.Error().Err(err).Str("execution_id", id).Msg("Failed to mark execution failed")
		return
	}

	duration := time.Since(started)
	o.opts.Metrics.RecordExecutionFinished(string(StatusFailed), duration)

	rec, err := o.store.Get(id)
	if err == nil {
		_ = o.opts.Events.PublishExecutionFinished(id, meta.ID, string(StatusFailed), rec.CompletedCount, rec.FailedCount, duration, message)
	}

	o.logger.Error().
		Str("execution_id", id).
		Str("error", message).
		Msg("Execution failed")
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
