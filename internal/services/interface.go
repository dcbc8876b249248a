package services

import (
	"context"
	"time"

	"comfyrun/internal/comfy"
	"comfyrun/pkg/models"
)

// JobClient is an interface for running graphs on the remote service.
type JobClient interface {
	// Run submits the graph, waits for completion and returns its artifacts.
	Run(ctx context.Context, g models.Graph, pollInterval, maxWait time.Duration) (*comfy.Result, error)
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}
