package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/crm-mailsync/internal/model"
)

const runColumns = `id, target_id, status, messages_fetched, messages_processed,
	messages_skipped, error, started_at, finished_at`

// StartRun opens a running SyncRun for targetID. It returns
// model.ErrAlreadyRunning when the target already has an open run; the
// partial unique index on running rows enforces this across processes.
func (s *SQLStore) StartRun(ctx context.Context, targetID string) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var open int
		err := tx.GetContext(ctx, &open, s.q(
			"SELECT COUNT(*) FROM sync_runs WHERE target_id = ? AND status = ?"),
			targetID, string(model.RunRunning))
		if err != nil {
			return fmt.Errorf("checking open runs for %s: %w", targetID, err)
		}
		if open > 0 {
			return model.ErrAlreadyRunning
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO sync_runs (id, target_id, status, started_at)
			VALUES (?, ?, ?, ?)`),
			run.ID, run.TargetID, string(run.Status), run.StartedAt,
		)
		return err
	})
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, model.ErrAlreadyRunning), isUniqueViolation(err):
		return nil, model.ErrAlreadyRunning
	default:
		return nil, fmt.Errorf("starting run for %s: %w", targetID, err)
	}
}

// FinishRun finalizes an open run with its status, counters and error.
// A run can be finalized only once.
func (s *SQLStore) FinishRun(ctx context.Context, run *model.SyncRun) error {
	if run.Status == model.RunRunning {
		return fmt.Errorf("finishing run %s: status must be terminal", run.ID)
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sync_runs SET
			status = ?, messages_fetched = ?, messages_processed = ?,
			messages_skipped = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?`),
		string(run.Status), run.Fetched, run.Processed,
		run.Skipped, run.Error, run.FinishedAt.UTC(),
		run.ID, string(model.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("finishing run %s: not open: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs for a target, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, targetID string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryxContext(ctx, s.q(
		"SELECT "+runColumns+" FROM sync_runs WHERE target_id = ? ORDER BY started_at DESC LIMIT ?"),
		targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs for %s: %w", targetID, err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FailStaleRuns marks every open run as failed with reason. It is meant
// for startup, after a crash left runs open.
func (s *SQLStore) FailStaleRuns(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sync_runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?`),
		string(model.RunFailed), reason, time.Now().UTC(), string(model.RunRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failing stale runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(sc rowScanner) (model.SyncRun, error) {
	var (
		r        model.SyncRun
		status   string
		finished sql.NullTime
	)
	err := sc.Scan(
		&r.ID, &r.TargetID, &status, &r.Fetched, &r.Processed,
		&r.Skipped, &r.Error, &r.StartedAt, &finished,
	)
	if err != nil {
		return model.SyncRun{}, err
	}
	r.Status = model.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = timePtr(finished)
	return r, nil
}
