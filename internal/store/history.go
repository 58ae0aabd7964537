package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunQueued      = "queued"
	RunFinished    = "finished"
	RunInterrupted = "interrupted"
	RunFailed      = "failed"
)

// Run is one history entry: what was submitted and what became of it.
type Run struct {
	Seq         int64
	RunID       string
	PromptID    string
	Template    string
	Fingerprint string
	FormData    string
	Randomize   string
	Bypass      string
	MetaText    string
	Status      string
	SubmittedAt time.Time
}

// AppendRun records a submitted run and returns its seq.
func (s *Store) AppendRun(ctx context.Context, r Run) (int64, error) {
	if r.Randomize == "" {
		r.Randomize = "{}"
	}
	if r.Bypass == "" {
		r.Bypass = "{}"
	}
	if r.Status == "" {
		r.Status = RunQueued
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history
		(run_id, prompt_id, template, fingerprint, form_data, randomize, bypass, meta_text, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.PromptID,
		r.Template,
		r.Fingerprint,
		r.FormData,
		r.Randomize,
		r.Bypass,
		r.MetaText,
		r.Status,
		r.SubmittedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append run %s: %w", r.RunID, err)
	}
	return res.LastInsertId()
}

// SetRunStatus updates a run's status and, when non-empty, its prompt id.
func (s *Store) SetRunStatus(ctx context.Context, runID, status, promptID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE history SET
			status    = ?,
			prompt_id = CASE WHEN ? = '' THEN prompt_id ELSE ? END
		WHERE run_id = ?
	`, status, promptID, promptID, runID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

const runColumns = `seq, run_id, prompt_id, template, fingerprint, form_data, randomize, bypass, meta_text, status, submitted_at`

// Run loads one history entry by run id.
func (s *Store) Run(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM history WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// Runs lists history newest first. An empty template lists every template.
// limit <= 0 means no limit.
func (s *Store) Runs(ctx context.Context, template string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM history
		WHERE ? = '' OR template = ?
		ORDER BY seq DESC
		LIMIT ?
	`, template, template, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var submitted int64
	err := sc.Scan(
		&r.Seq,
		&r.RunID,
		&r.PromptID,
		&r.Template,
		&r.Fingerprint,
		&r.FormData,
		&r.Randomize,
		&r.Bypass,
		&r.MetaText,
		&r.Status,
		&submitted,
	)
	if err != nil {
		return Run{}, err
	}
	r.SubmittedAt = time.UnixMilli(submitted).UTC()
	return r, nil
}
