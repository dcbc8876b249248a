package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"comfyrun/pkg/models"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	workflow       TEXT NOT NULL,
	prompt_id      TEXT NOT NULL DEFAULT '',
	seed           BIGINT NOT NULL,
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	artifact_count INT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ
)`

const selectColumns = "SELECT id, workflow, prompt_id, seed, status, error, artifact_count, created_at, finished_at FROM runs"

// PostgresRunStore is a PostgreSQL implementation of the RunStore interface.
type PostgresRunStore struct {
	db *pgxpool.Pool
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// EnsureSchema creates the runs table when it does not exist yet.
func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Save inserts a run or overwrites the existing row with the same ID.
func (s *PostgresRunStore) Save(ctx context.Context, run *models.RunRecord) error {
	_, err := s.db.Exec(ctx, `INSERT INTO runs (id, workflow, prompt_id, seed, status, error, artifact_count, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			prompt_id = EXCLUDED.prompt_id,
			seed = EXCLUDED.seed,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			artifact_count = EXCLUDED.artifact_count,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.Workflow, run.PromptID, run.Seed, string(run.Status), run.Error, run.ArtifactCount, run.CreatedAt, run.FinishedAt)
	return err
}

// Get retrieves a run by its ID.
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	run, err := scanRun(s.db.QueryRow(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (s *PostgresRunStore) List(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, selectColumns+" ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Ping checks the database connection.
func (s *PostgresRunStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanRun(row pgx.Row) (*models.RunRecord, error) {
	var run models.RunRecord
	var status string
	err := row.Scan(&run.ID, &run.Workflow, &run.PromptID, &run.Seed, &status, &run.Error, &run.ArtifactCount, &run.CreatedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}
