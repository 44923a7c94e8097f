package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agent/internal/eventbus"
)

// defaultSafetyCap bounds the story loop even when the planner's estimate is
// larger — a runaway classification should not runaway the loop with it.
const defaultSafetyCap = 100

// defaultMaxRetries is the number of retry attempts for a failing step
// beyond the first attempt.
const defaultMaxRetries = 3

var tracer = otel.Tracer("github.com/vinayprograms/agent/internal/coordinator")

// Coordinator executes a Sequence against injected agent execution, quality
// gating, artifact tracking, and ceremony machinery.
type Coordinator struct {
	executor       AgentExecutor
	gate           QualityGate
	artifacts      ArtifactManager
	trigger        CeremonyTrigger
	ceremonies     CeremonyRunner
	failureHandler FailureHandler
	store          PersistenceStore
	bus            *eventbus.Bus
	logger         *slog.Logger
	safetyCap      int
	maxRetries     int
	projectType    string
	scaleLevel     int
	epicNum        int
}

// Option configures a Coordinator beyond its required dependencies.
type Option func(*Coordinator)

// WithSafetyCap overrides the default story-loop safety cap.
func WithSafetyCap(n int) Option {
	return func(c *Coordinator) { c.safetyCap = n }
}

// WithMaxRetries overrides the default per-step retry count.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithCeremonyContext sets the epic number, scale level, and project type
// threaded into ceremony trigger evaluation after each story.
func WithCeremonyContext(epicNum, scaleLevel int, projectType string) Option {
	return func(c *Coordinator) {
		c.epicNum = epicNum
		c.scaleLevel = scaleLevel
		c.projectType = projectType
	}
}

// WithFailureHandler sets the per-ceremony-type failure policy consulted when
// a ceremony fails. Without one, the coordinator publishes CeremonyFailed and
// continues on every ceremony failure.
func WithFailureHandler(h FailureHandler) Option {
	return func(c *Coordinator) { c.failureHandler = h }
}

// WithPersistenceStore wires epic/story/workflow-run tracking into Run.
// Without one, Run executes exactly as before — persistence is purely an
// observation of what already happened, never load-bearing for control flow.
func WithPersistenceStore(s PersistenceStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// New builds a Coordinator. executor, gate, artifacts, trigger, ceremonies,
// and bus are all required collaborators; logger defaults to slog.Default.
func New(executor AgentExecutor, gate QualityGate, artifacts ArtifactManager, trigger CeremonyTrigger, ceremonies CeremonyRunner, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		executor:   executor,
		gate:       gate,
		artifacts:  artifacts,
		trigger:    trigger,
		ceremonies: ceremonies,
		bus:        bus,
		logger:     logger,
		safetyCap:  defaultSafetyCap,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes seq end to end: setup phase, then story loop for
// estimatedStories (bounded by the safety cap). params are the
// workflow-independent variables threaded into every step.
func (c *Coordinator) Run(ctx context.Context, seq Sequence, estimatedStories int, params map[string]string) SequenceResult {
	sequenceID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "workflow_sequence")
	defer span.End()

	if len(seq.Setup) == 0 && len(seq.StoryLoop) == 0 {
		c.publish("WorkflowSequenceFailed", map[string]any{
			"sequence_id":   sequenceID,
			"error_message": "Empty workflow sequence",
		})
		return SequenceResult{SequenceID: sequenceID, Status: SequenceFailed, ErrorMsg: "Empty workflow sequence"}
	}

	started := time.Now()
	c.publish("WorkflowSequenceStarted", map[string]any{"sequence_id": sequenceID, "setup_steps": len(seq.Setup)})
	c.upsertEpic(params, "in_progress")

	var steps []StepResult
	var ceremonyOutcomes []CeremonyOutcome

	for _, name := range seq.Setup {
		if err := ctx.Err(); err != nil {
			return c.cancelled(sequenceID, steps, ceremonyOutcomes, started, params)
		}
		result := c.runStep(ctx, sequenceID, name, nil, nil, params)
		steps = append(steps, result)
		if result.Status != "success" {
			c.publish("WorkflowSequenceFailed", map[string]any{
				"sequence_id":   sequenceID,
				"error_message": fmt.Sprintf("setup step %q failed: %s", name, result.Error),
				"duration_ms":   time.Since(started).Milliseconds(),
			})
			c.persistRun(sequenceID, SequenceFailed, steps, result.Error, started, params)
			return SequenceResult{SequenceID: sequenceID, Status: SequenceFailed, Steps: steps, ErrorMsg: result.Error}
		}
	}

	storyCount := estimatedStories
	if storyCount > c.safetyCap {
		c.logger.Warn("estimated stories exceed safety cap, truncating",
			slog.Int("estimated", estimatedStories), slog.Int("cap", c.safetyCap))
		storyCount = c.safetyCap
	}

	createName, devName, doneName := storyLoopNames(seq.StoryLoop)

	for storyNum := 1; storyNum <= storyCount; storyNum++ {
		if err := ctx.Err(); err != nil {
			return c.cancelled(sequenceID, steps, ceremonyOutcomes, started, params)
		}
		sn := storyNum
		c.upsertStory(sn, "in_progress")

		if createName != "" {
			result := c.runStep(ctx, sequenceID, createName, nil, &sn, params)
			steps = append(steps, result)
			if result.Status != "success" {
				c.publish("WorkflowSequenceFailed", map[string]any{
					"sequence_id":   sequenceID,
					"error_message": fmt.Sprintf("create-story failed for story %d: %s", sn, result.Error),
				})
				c.persistRun(sequenceID, SequenceFailed, steps, result.Error, started, params)
				return SequenceResult{SequenceID: sequenceID, Status: SequenceFailed, Steps: steps, ErrorMsg: result.Error}
			}
		}

		if devName != "" {
			result := c.runStep(ctx, sequenceID, devName, nil, &sn, params)
			steps = append(steps, result)
			if result.Status != "success" {
				c.publish("WorkflowSequenceFailed", map[string]any{
					"sequence_id":   sequenceID,
					"error_message": fmt.Sprintf("dev-story failed for story %d: %s", sn, result.Error),
				})
				c.persistRun(sequenceID, SequenceFailed, steps, result.Error, started, params)
				return SequenceResult{SequenceID: sequenceID, Status: SequenceFailed, Steps: steps, ErrorMsg: result.Error}
			}
		}

		if doneName != "" {
			result := c.runStep(ctx, sequenceID, doneName, nil, &sn, params)
			steps = append(steps, result)
			if result.Status != "success" {
				c.logger.Warn("story-done failed, continuing",
					slog.Int("story", sn), slog.String("error", result.Error))
				c.upsertStory(sn, "in_review")
			} else {
				c.upsertStory(sn, "done")
			}
		} else {
			c.upsertStory(sn, "done")
		}

		if c.trigger != nil && c.ceremonies != nil {
			outcomes, abortMsg := c.runCeremonies(ctx, sn, storyNum, storyCount)
			ceremonyOutcomes = append(ceremonyOutcomes, outcomes...)
			if abortMsg != "" {
				c.publish("WorkflowSequenceFailed", map[string]any{
					"sequence_id":   sequenceID,
					"error_message": abortMsg,
				})
				c.persistRun(sequenceID, SequenceFailed, steps, abortMsg, started, params)
				return SequenceResult{SequenceID: sequenceID, Status: SequenceFailed, Steps: steps, Ceremonies: ceremonyOutcomes, ErrorMsg: abortMsg}
			}
		}
	}

	c.publish("WorkflowSequenceCompleted", map[string]any{
		"sequence_id": sequenceID,
		"step_count":  len(steps),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	c.upsertEpic(params, "done")
	c.persistRun(sequenceID, SequenceCompleted, steps, "", started, params)
	return SequenceResult{SequenceID: sequenceID, Status: SequenceCompleted, Steps: steps, Ceremonies: ceremonyOutcomes}
}

func (c *Coordinator) cancelled(sequenceID string, steps []StepResult, ceremonies []CeremonyOutcome, started time.Time, params map[string]string) SequenceResult {
	c.publish("WorkflowSequenceFailed", map[string]any{
		"sequence_id":   sequenceID,
		"error_message": "cancelled",
	})
	c.persistRun(sequenceID, SequenceCancelled, steps, "cancelled", started, params)
	return SequenceResult{SequenceID: sequenceID, Status: SequenceCancelled, Steps: steps, Ceremonies: ceremonies, ErrorMsg: "cancelled"}
}

// storyLoopNames extracts the conventional create/dev/done step names from a
// story loop, tolerating a loop that dropped one (the planner filters
// missing workflows out, so story-done or create-story may legitimately be
// absent).
func storyLoopNames(loop []string) (create, dev, done string) {
	for _, name := range loop {
		switch {
		case strings.Contains(name, "create-story"):
			create = name
		case strings.Contains(name, "dev-story"):
			dev = name
		case strings.Contains(name, "story-done"):
			done = name
		}
	}
	return create, dev, done
}

// runCeremonies consults the trigger engine and holds whatever ceremonies it
// selects. It returns a non-empty abort message only when the failure
// handler's policy for a failed ceremony is FailureAbort.
func (c *Coordinator) runCeremonies(ctx context.Context, storyNum, storiesCompleted, totalStories int) (outcomes []CeremonyOutcome, abortMsg string) {
	tctx := TriggerContext{
		EpicNum:          c.epicNum,
		ScaleLevel:       c.scaleLevel,
		StoriesCompleted: storiesCompleted,
		TotalStories:     totalStories,
		ProjectType:      c.projectType,
	}
	kinds := c.trigger.Evaluate(tctx)
	if len(kinds) == 0 {
		return nil, ""
	}

	outcomes = make([]CeremonyOutcome, 0, len(kinds))
	for _, kind := range kinds {
		c.publish("CeremonyStarted", map[string]any{"kind": kind})
		outcome, err := c.ceremonies.Hold(ctx, kind, c.epicNum, &storyNum)
		if err != nil {
			c.publish("CeremonyFailed", map[string]any{"kind": kind, "error": err.Error()})
			if recErr := c.trigger.RecordOutcome(kind, c.epicNum, false); recErr != nil {
				c.logger.Warn("failed to record ceremony execution", slog.String("error", recErr.Error()))
			}
			if c.failureHandler != nil && c.failureHandler.HandleFailure(kind, c.epicNum, err) == FailureAbort {
				return outcomes, fmt.Sprintf("ceremony %q failed and its policy requires abort: %s", kind, err.Error())
			}
			continue
		}
		c.publish("CeremonyCompleted", map[string]any{"kind": kind, "transcript": outcome.TranscriptPath})
		if recErr := c.trigger.RecordOutcome(kind, c.epicNum, true); recErr != nil {
			c.logger.Warn("failed to record ceremony execution", slog.String("error", recErr.Error()))
		}
		if c.failureHandler != nil {
			c.failureHandler.ResetFailures(kind, c.epicNum)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, ""
}

// runStep executes one named step with retry, artifact snapshotting, and
// quality gate evaluation, publishing the full started/completed/failed
// event triple around it.
func (c *Coordinator) runStep(ctx context.Context, sequenceID, name string, epicNum, storyNum *int, params map[string]string) StepResult {
	ctx, span := tracer.Start(ctx, "workflow_step", trace.WithAttributes(attribute.String("workflow.step", name)))
	defer span.End()

	started := time.Now()
	c.publish("WorkflowStepStarted", map[string]any{"sequence_id": sequenceID, "step": name})

	var before any
	if c.artifacts != nil {
		before, _ = c.artifacts.Snapshot()
	}

	attempts := 0
	op := func() (string, error) {
		attempts++
		return c.invokeOnce(ctx, name, epicNum, storyNum, params)
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = time.Second
	backoffPolicy.Multiplier = 2
	backoffPolicy.RandomizationFactor = 0
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(backoffPolicy), backoff.WithMaxTries(uint(c.maxRetries+1)))

	result := StepResult{
		Name:        name,
		Attempts:    attempts,
		StartedAt:   started,
		CompletedAt: time.Now(),
		DurationMS:  time.Since(started).Milliseconds(),
	}

	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		c.publish("WorkflowStepFailed", map[string]any{
			"sequence_id": sequenceID, "step": name, "error": err.Error(), "attempts": attempts,
		})
		return result
	}

	var artifacts []string
	if c.artifacts != nil {
		after, snapErr := c.artifacts.Snapshot()
		if snapErr == nil {
			artifacts = c.artifacts.Detect(before, after)
			if len(artifacts) > 0 {
				for _, regErr := range c.artifacts.Register(artifacts, name, epicNum, storyNum) {
					c.logger.Warn("artifact registration failed", slog.String("error", regErr.Error()))
				}
			}
		}
	}
	result.Artifacts = artifacts

	// The gate itself publishes QualityGateStarted/Passed/Failed (§4.H); the
	// coordinator only needs its verdict to decide whether the step failed.
	if c.gate != nil {
		gateResult, gateErr := c.gate.Evaluate(name, artifacts)
		if gateErr == nil && gateResult.Status == GateFailed {
			result.Status = "failed"
			result.Error = gateResult.Detail
			c.publish("WorkflowStepFailed", map[string]any{"sequence_id": sequenceID, "step": name, "error": gateResult.Detail})
			return result
		}
	}

	result.Status = "success"
	c.publish("WorkflowStepCompleted", map[string]any{
		"sequence_id": sequenceID, "step": name, "duration_ms": result.DurationMS, "artifacts": artifacts,
	})
	return result
}

// invokeOnce drains the agent-executor callback for a single attempt,
// returning a backoff.Permanent error for context cancellation so retries
// don't keep sleeping past a shutdown request.
func (c *Coordinator) invokeOnce(ctx context.Context, name string, epicNum, storyNum *int, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", backoff.Permanent(err)
	}

	out, errc := c.executor.Execute(ctx, name, epicNum, storyNum, params)
	var sb strings.Builder
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				out = nil
				if errc == nil {
					return sb.String(), nil
				}
				continue
			}
			sb.WriteString(chunk)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				if out == nil {
					return sb.String(), nil
				}
				continue
			}
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", backoff.Permanent(ctx.Err())
		}
		if out == nil && errc == nil {
			return sb.String(), nil
		}
	}
}

func (c *Coordinator) publish(eventType string, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventType, Data: data, Timestamp: time.Now()})
}

// upsertEpic records the epic this Run is working against, keyed by the
// epic number set via WithCeremonyContext. feature comes from params
// (the same "feature_name" key internal/featurepath.Resolver reads),
// title from the originating prompt; both tolerate being empty.
func (c *Coordinator) upsertEpic(params map[string]string, status string) {
	if c.store == nil {
		return
	}
	if err := c.store.UpsertEpic(c.epicNum, params["prompt"], params["feature_name"], status); err != nil {
		c.logger.Warn("failed to upsert epic", slog.Int("epic", c.epicNum), slog.String("error", err.Error()))
	}
}

// upsertStory records story storyNum's lifecycle status under the current
// epic. Title is a placeholder — the story's real title lives wherever the
// create-story step's own output is recorded; this row exists so
// featurepath.ResolveFeatureName's epic-table fallbacks have something to
// query, not as a story description of record.
func (c *Coordinator) upsertStory(storyNum int, status string) {
	if c.store == nil {
		return
	}
	title := fmt.Sprintf("story %d", storyNum)
	if err := c.store.UpsertStory(c.epicNum, storyNum, title, status); err != nil {
		c.logger.Warn("failed to upsert story", slog.Int("epic", c.epicNum), slog.Int("story", storyNum), slog.String("error", err.Error()))
	}
}

// persistRun saves a WorkflowRunRecord for the whole sequence once it
// reaches a terminal state (completed, failed, or cancelled).
func (c *Coordinator) persistRun(sequenceID string, status SequenceStatus, steps []StepResult, errMsg string, started time.Time, params map[string]string) {
	if c.store == nil {
		return
	}
	var artifacts []string
	var errs []string
	for _, s := range steps {
		artifacts = append(artifacts, s.Artifacts...)
		if s.Error != "" {
			errs = append(errs, s.Error)
		}
	}
	record := WorkflowRunRecord{
		WorkflowID:   sequenceID,
		EpicNum:      c.epicNum,
		Status:       status,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		Steps:        steps,
		Variables:    params,
		Artifacts:    artifacts,
		ErrorMessage: errMsg,
	}
	if len(errs) > 0 {
		record.ErrorMessage = strings.Join(errs, "; ")
	}
	if err := c.store.SaveWorkflowRun(record); err != nil {
		c.logger.Warn("failed to save workflow run", slog.String("sequence_id", sequenceID), slog.String("error", err.Error()))
	}
}
