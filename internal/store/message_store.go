package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/crm-mailsync/internal/model"
)

const messageColumns = `id, user_id, target_id, external_id, subject, body, sender,
	to_addrs, cc_addrs, bcc_addrs, headers, received_at,
	is_read, is_important, has_attachments, is_processed,
	parsed_inn, parsed_project_number, company_id, project_id, created_at`

// InsertMessage stores m unless a message with the same (target, external
// id) already exists. It reports whether a row was inserted; a duplicate is
// not an error and leaves m.ID unset.
func (s *SQLStore) InsertMessage(ctx context.Context, m *model.IngestedMessage) (bool, error) {
	if m.TargetID == "" || m.ExternalID == "" {
		return false, fmt.Errorf("message needs a target and an external id")
	}

	to, err := marshalJSON(nonNil(m.To))
	if err != nil {
		return false, fmt.Errorf("marshaling to for %s: %w", m.ExternalID, err)
	}
	cc, err := marshalJSON(nonNil(m.Cc))
	if err != nil {
		return false, fmt.Errorf("marshaling cc for %s: %w", m.ExternalID, err)
	}
	bcc, err := marshalJSON(nonNil(m.Bcc))
	if err != nil {
		return false, fmt.Errorf("marshaling bcc for %s: %w", m.ExternalID, err)
	}
	headers := "{}"
	if len(m.Headers) > 0 {
		if headers, err = marshalJSON(m.Headers); err != nil {
			return false, fmt.Errorf("marshaling headers for %s: %w", m.ExternalID, err)
		}
	}

	id := uuid.New().String()
	created := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_id, external_id) DO NOTHING`),
		id, m.UserID, m.TargetID, m.ExternalID, m.Subject, m.Body, m.Sender,
		to, cc, bcc, headers, m.ReceivedAt.UTC(),
		boolToInt(m.IsRead), boolToInt(m.IsImportant), boolToInt(m.HasAttachments), boolToInt(m.IsProcessed),
		m.ParsedINN, m.ParsedProjectNumber, nullString(m.CompanyID), nullString(m.ProjectID), created,
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.ExternalID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.ExternalID, err)
	}
	if rows == 0 {
		return false, nil
	}

	m.ID = id
	m.CreatedAt = created
	return true, nil
}

// CompleteProcessing writes the linker and rule outcome for a message and
// marks it processed.
func (s *SQLStore) CompleteProcessing(ctx context.Context, id string, p model.Processing) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE messages SET
			parsed_inn = ?, parsed_project_number = ?,
			company_id = ?, project_id = ?,
			is_important = CASE WHEN ? = 1 THEN 1 ELSE is_important END,
			is_processed = 1
		WHERE id = ?`),
		p.ParsedINN, p.ParsedProjectNumber,
		nullString(p.CompanyID), nullString(p.ProjectID),
		boolToInt(p.Important), id,
	)
	if err != nil {
		return fmt.Errorf("completing processing for %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("completing processing for %s: %w", id, err)
	}
	return nil
}

// GetMessage retrieves a message owned by userID.
func (s *SQLStore) GetMessage(ctx context.Context, userID, id string) (*model.IngestedMessage, error) {
	row := s.db.QueryRowxContext(ctx, s.q(
		"SELECT "+messageColumns+" FROM messages WHERE id = ? AND user_id = ?"), id, userID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, notFound(err))
	}
	return &m, nil
}

// FindMessageByExternalID returns the message stored for (targetID,
// externalID), or model.ErrNotFound.
func (s *SQLStore) FindMessageByExternalID(ctx context.Context, targetID, externalID string) (*model.IngestedMessage, error) {
	row := s.db.QueryRowxContext(ctx, s.q(
		"SELECT "+messageColumns+" FROM messages WHERE target_id = ? AND external_id = ?"),
		targetID, externalID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("finding message %s: %w", externalID, notFound(err))
	}
	return &m, nil
}

// ListMessages returns messages matching f, newest first.
func (s *SQLStore) ListMessages(ctx context.Context, f model.MessageFilter) ([]model.IngestedMessage, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.Unread {
		where = append(where, "is_read = 0")
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []model.IngestedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessageRead sets the read flag on a message owned by userID.
func (s *SQLStore) MarkMessageRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		"UPDATE messages SET is_read = 1 WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	return nil
}

// ToggleMessageImportant flips the important flag and returns its new value.
func (s *SQLStore) ToggleMessageImportant(ctx context.Context, userID, id string) (bool, error) {
	var important int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			"UPDATE messages SET is_important = 1 - is_important WHERE id = ? AND user_id = ?"),
			id, userID)
		if err != nil {
			return err
		}
		if err := affected(res); err != nil {
			return err
		}
		return tx.GetContext(ctx, &important, s.q(
			"SELECT is_important FROM messages WHERE id = ?"), id)
	})
	if err != nil {
		return false, fmt.Errorf("toggling message %s: %w", id, err)
	}
	return important != 0, nil
}

func scanMessage(sc rowScanner) (model.IngestedMessage, error) {
	var (
		m                                      model.IngestedMessage
		to, cc, bcc, headers                   string
		isRead, isImportant, hasAtt, processed int
		companyID, projectID                   sql.NullString
	)

	err := sc.Scan(
		&m.ID, &m.UserID, &m.TargetID, &m.ExternalID, &m.Subject, &m.Body, &m.Sender,
		&to, &cc, &bcc, &headers, &m.ReceivedAt,
		&isRead, &isImportant, &hasAtt, &processed,
		&m.ParsedINN, &m.ParsedProjectNumber, &companyID, &projectID, &m.CreatedAt,
	)
	if err != nil {
		return model.IngestedMessage{}, err
	}

	for _, f := range []struct {
		raw string
		dst any
	}{{to, &m.To}, {cc, &m.Cc}, {bcc, &m.Bcc}, {headers, &m.Headers}} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return model.IngestedMessage{}, fmt.Errorf("unmarshaling message %s: %w", m.ID, err)
		}
	}

	m.IsRead = isRead != 0
	m.IsImportant = isImportant != 0
	m.HasAttachments = hasAtt != 0
	m.IsProcessed = processed != 0
	m.CompanyID = stringPtr(companyID)
	m.ProjectID = stringPtr(projectID)
	m.ReceivedAt = m.ReceivedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
