package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/crm-mailsync/internal/model"
)

const targetColumns = `id, user_id, address, username, host, port, security, folder,
	sync_interval_min, active, last_sync_at, last_error, total_processed,
	created_at, updated_at`

// CreateTarget inserts a new sync target, assigning an ID when empty.
func (s *SQLStore) CreateTarget(ctx context.Context, t *model.SyncTarget) error {
	if strings.TrimSpace(t.UserID) == "" || strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("sync target needs a user and an address")
	}
	if strings.TrimSpace(t.Host) == "" || t.Port <= 0 {
		return fmt.Errorf("sync target needs a host and a port")
	}
	if t.Security == "" {
		t.Security = model.SecurityTLS
	}
	if !t.Security.Valid() {
		return fmt.Errorf("unknown security mode %q", t.Security)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.SyncIntervalMin <= 0 {
		t.SyncIntervalMin = model.DefaultSyncIntervalMin
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sync_targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.UserID, t.Address, t.Username, t.Host, t.Port, string(t.Security), t.Mailbox(),
		t.SyncIntervalMin, boolToInt(t.Active), utcPtr(t.LastSyncAt), t.LastError, t.TotalProcessed,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating sync target: %w", err)
	}
	return nil
}

// GetTarget retrieves a single sync target by ID.
func (s *SQLStore) GetTarget(ctx context.Context, id string) (*model.SyncTarget, error) {
	row := s.db.QueryRowxContext(ctx,
		s.q("SELECT "+targetColumns+" FROM sync_targets WHERE id = ?"), id)
	t, err := scanTarget(row)
	if err != nil {
		return nil, fmt.Errorf("getting sync target %s: %w", id, notFound(err))
	}
	return &t, nil
}

// ListTargets returns all targets owned by userID.
func (s *SQLStore) ListTargets(ctx context.Context, userID string) ([]model.SyncTarget, error) {
	return s.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM sync_targets WHERE user_id = ? ORDER BY created_at", userID)
}

// ListActiveTargets returns every active target across users.
func (s *SQLStore) ListActiveTargets(ctx context.Context) ([]model.SyncTarget, error) {
	return s.queryTargets(ctx,
		"SELECT "+targetColumns+" FROM sync_targets WHERE active = 1 ORDER BY created_at")
}

func (s *SQLStore) queryTargets(ctx context.Context, query string, args ...any) ([]model.SyncTarget, error) {
	rows, err := s.db.QueryxContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync targets: %w", err)
	}
	defer rows.Close()

	var targets []model.SyncTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync target row: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// RecordSyncSuccess clears the last error, adds processed to the running
// total and, when watermark is non-nil, advances last_sync_at.
func (s *SQLStore) RecordSyncSuccess(
	ctx context.Context,
	id string,
	watermark *time.Time,
	processed int,
) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sync_targets SET
			last_sync_at = COALESCE(?, last_sync_at),
			last_error = '',
			total_processed = total_processed + ?,
			updated_at = ?
		WHERE id = ?`),
		utcPtr(watermark), processed, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording sync success for %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("recording sync success for %s: %w", id, err)
	}
	return nil
}

// RecordSyncFailure stores reason as the target's last error. The
// watermark is left untouched.
func (s *SQLStore) RecordSyncFailure(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		"UPDATE sync_targets SET last_error = ?, updated_at = ? WHERE id = ?"),
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording sync failure for %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("recording sync failure for %s: %w", id, err)
	}
	return nil
}

// scanTarget scans a target row from either a *sqlx.Row or *sqlx.Rows.
func scanTarget(sc rowScanner) (model.SyncTarget, error) {
	var (
		t        model.SyncTarget
		security string
		active   int
		lastSync sql.NullTime
	)

	err := sc.Scan(
		&t.ID, &t.UserID, &t.Address, &t.Username, &t.Host, &t.Port, &security, &t.Folder,
		&t.SyncIntervalMin, &active, &lastSync, &t.LastError, &t.TotalProcessed,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return model.SyncTarget{}, err
	}

	t.Security = model.SecurityMode(security)
	t.Active = active != 0
	t.LastSyncAt = timePtr(lastSync)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
