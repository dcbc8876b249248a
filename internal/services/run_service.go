package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"comfyrun/internal/comfy"
	"comfyrun/internal/repository"
	"comfyrun/internal/seed"
	"comfyrun/internal/tokens"
	"comfyrun/internal/workflow"
	"comfyrun/pkg/models"
)

// RunRequest describes one run of a workflow template.
type RunRequest struct {
	ID        string                 // run id; generated when empty
	Workflow  string                 // name used in run records
	Graph     models.Graph           // template, never mutated
	Values    map[string]interface{} // token values
	Seed      interface{}            // explicit seed; falls back to Values["SEED"]
	Overrides map[string]interface{} // "node.field" assignments applied before tokens
}

// RunOutcome is the result of Execute. Artifacts is empty for failed runs.
type RunOutcome struct {
	Record    *models.RunRecord
	Graph     models.Graph // the submitted graph
	Artifacts []models.Artifact
}

// RunOptions bounds the polling loop.
type RunOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// RunService is a service for parameterizing and running workflows.
type RunService struct {
	store  repository.RunStore
	client JobClient
	logger Logger
	opts   RunOptions

	runs      metric.Int64Counter
	artifacts metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRunService creates a new RunService. Metrics go to the global
// OpenTelemetry meter provider.
func NewRunService(store repository.RunStore, client JobClient, opts RunOptions, logger Logger) (*RunService, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = comfy.DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = comfy.DefaultMaxWait
	}

	meter := otel.Meter("comfyrun/services")
	runs, err := meter.Int64Counter("comfyrun.runs",
		metric.WithDescription("Finished runs by status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	arts, err := meter.Int64Counter("comfyrun.artifacts",
		metric.WithDescription("Extracted artifacts by kind"))
	if err != nil {
		return nil, fmt.Errorf("failed to create artifacts counter: %w", err)
	}
	duration, err := meter.Float64Histogram("comfyrun.run.duration",
		metric.WithDescription("Wall time from submission to extraction"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &RunService{
		store:     store,
		client:    client,
		logger:    logger,
		opts:      opts,
		runs:      runs,
		artifacts: arts,
		duration:  duration,
	}, nil
}

// Prepare parameterizes g in place: tokens are discovered, the seed policy is
// resolved against them, then token values are substituted. When the graph
// carries a SEED token the resolved seed is substituted through it, otherwise
// it is broadcast to every seed field. It returns the seed and the tokens
// found before substitution.
func (s *RunService) Prepare(g models.Graph, values map[string]interface{}, seedValue interface{}) (int64, []models.TokenSpec) {
	specs := tokens.Discover(g)
	names := tokens.Names(specs)

	provided := seedValue
	if provided == nil {
		provided = values[seed.TokenName]
	}
	resolved, written := seed.Apply(g, names, provided)

	merged := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		merged[k] = v
	}
	if names[seed.TokenName] {
		merged[seed.TokenName] = resolved
	}
	tokens.Apply(g, merged)

	s.logger.Debug("graph prepared", "tokens", len(specs), "seed", resolved, "seed_fields", written)
	return resolved, specs
}

// Execute clones the template, prepares it, runs it to completion and records
// the outcome. Failures are returned as errors alongside an outcome whose
// record carries the error message.
func (s *RunService) Execute(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	record := &models.RunRecord{
		ID:        id,
		Workflow:  req.Workflow,
		Status:    models.RunStatusSubmitted,
		CreatedAt: time.Now().UTC(),
	}
	outcome := &RunOutcome{Record: record}

	g := req.Graph.Clone()
	if err := workflow.SetOverrides(g, req.Overrides); err != nil {
		return outcome, s.finish(ctx, record, 0, err)
	}
	record.Seed, _ = s.Prepare(g, req.Values, req.Seed)
	outcome.Graph = g

	s.logger.Info("run started", "run_id", record.ID, "workflow", record.Workflow, "seed", record.Seed)
	record.Status = models.RunStatusPolling

	start := time.Now()
	res, err := s.client.Run(ctx, g, s.opts.PollInterval, s.opts.MaxWait)
	s.duration.Record(ctx, time.Since(start).Seconds())
	if res != nil {
		record.PromptID = res.PromptID
	}
	if err != nil {
		return outcome, s.finish(ctx, record, 0, err)
	}

	outcome.Artifacts = res.Artifacts
	for _, a := range res.Artifacts {
		s.artifacts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Kind))))
	}
	return outcome, s.finish(ctx, record, len(res.Artifacts), nil)
}

// finish stamps the terminal status, persists the record and passes runErr
// through. A store failure is logged, never returned.
func (s *RunService) finish(ctx context.Context, record *models.RunRecord, artifactCount int, runErr error) error {
	now := time.Now().UTC()
	record.FinishedAt = &now
	record.ArtifactCount = artifactCount

	var timeout *comfy.TimeoutError
	switch {
	case runErr == nil:
		record.Status = models.RunStatusCompleted
	case errors.As(runErr, &timeout):
		record.Status = models.RunStatusTimedOut
		record.Error = runErr.Error()
	default:
		record.Status = models.RunStatusFailed
		record.Error = runErr.Error()
	}

	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(record.Status))))
	if runErr != nil {
		s.logger.Error("run failed", "run_id", record.ID, "prompt_id", record.PromptID, "status", record.Status, "error", runErr)
	} else {
		s.logger.Info("run completed", "run_id", record.ID, "prompt_id", record.PromptID, "artifacts", artifactCount)
	}

	if s.store != nil {
		// saved even when ctx is already cancelled
		if err := s.store.Save(context.WithoutCancel(ctx), record); err != nil {
			s.logger.Error("failed to save run record", "run_id", record.ID, "error", err)
		}
	}
	return runErr
}

// History returns the most recent run records.
func (s *RunService) History(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx, limit)
}

// Lookup returns one run record.
func (s *RunService) Lookup(ctx context.Context, id string) (*models.RunRecord, error) {
	if s.store == nil {
		return nil, repository.ErrNotFound
	}
	return s.store.Get(ctx, id)
}
