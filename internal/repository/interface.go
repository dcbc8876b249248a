package repository

import (
	"context"
	"errors"

	"comfyrun/pkg/models"
)

// ErrNotFound is returned when a run record does not exist.
var ErrNotFound = errors.New("run not found")

// RunStore records finished runs. It is an audit trail only: nothing is
// resumed or retried from it.
type RunStore interface {
	// Save inserts or replaces a run record.
	Save(ctx context.Context, run *models.RunRecord) error
	// Get retrieves a run by its ID.
	Get(ctx context.Context, id string) (*models.RunRecord, error)
	// List returns the most recent runs, newest first.
	List(ctx context.Context, limit int) ([]*models.RunRecord, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
