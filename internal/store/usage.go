package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UsageRecord captures one answered (or failed) question for cost and
// quality review. Questions are stored post-validation, so the column
// never holds unescaped user markup.
type UsageRecord struct {
	Question  string
	Answer    string
	Status    string // success | invalid_input | exhausted
	Attempts  int
	Duration  time.Duration
	RequestID string
	CreatedAt time.Time
}

const (
	UsageStatusSuccess      = "success"
	UsageStatusInvalidInput = "invalid_input"
	UsageStatusExhausted    = "exhausted"
)

// RecordUsage appends a usage log row. Failures here are logged by the
// caller but never fail the request.
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO usage_log (question, answer, status, attempts, duration_ms, request_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW());
`, rec.Question, rec.Answer, rec.Status, rec.Attempts, rec.Duration.Milliseconds(), rec.RequestID)
	return err
}

// IngestRun tracks one execution of the ingestion pipeline.
type IngestRun struct {
	ID         string
	Status     string // running | succeeded | failed
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// CreateIngestRun inserts a running ingest row and returns its id.
func (s *Store) CreateIngestRun(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO ingest_runs (status, started_at) VALUES ('running', NOW()) RETURNING id;
`).Scan(&id)
	return id, err
}

// FinishIngestRun marks an ingest run finished.
func (s *Store) FinishIngestRun(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ingest_runs SET status=$2, error=$3, finished_at=NOW() WHERE id=$1;
`, id, status, errMsg)
	return err
}

// LatestIngestTime returns the start time of the most recent successful
// ingest, or nil when none has run. The scheduler uses it to decide
// whether a cron slot is due.
func (s *Store) LatestIngestTime(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.DB.QueryRowContext(ctx, `
SELECT started_at FROM ingest_runs WHERE status='succeeded' ORDER BY started_at DESC LIMIT 1;
`).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
