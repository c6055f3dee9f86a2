package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/crm-mailsync/internal/model"
)

const ruleColumns = `id, user_id, name, sender_contains, subject_contains, body_contains,
	auto_create_project, auto_create_contact, mark_as_important, priority, active, created_at`

// CreateRule inserts a processing rule.
func (s *SQLStore) CreateRule(ctx context.Context, r *model.ProcessingRule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO processing_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.Name, r.SenderContains, r.SubjectContains, r.BodyContains,
		boolToInt(r.AutoCreateProject), boolToInt(r.AutoCreateContact), boolToInt(r.MarkImportant),
		r.Priority, boolToInt(r.Active), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}
	return nil
}

// ListActiveRules returns the owner's active rules in evaluation order.
func (s *SQLStore) ListActiveRules(ctx context.Context, userID string) ([]model.ProcessingRule, error) {
	rows, err := s.db.QueryxContext(ctx, s.q(`
		SELECT `+ruleColumns+` FROM processing_rules
		WHERE user_id = ? AND active = 1
		ORDER BY priority, created_at`), userID)
	if err != nil {
		return nil, fmt.Errorf("querying rules for %s: %w", userID, err)
	}
	defer rows.Close()

	var rules []model.ProcessingRule
	for rows.Next() {
		var (
			r                              model.ProcessingRule
			project, contact, important, a int
		)
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Name, &r.SenderContains, &r.SubjectContains, &r.BodyContains,
			&project, &contact, &important, &r.Priority, &a, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning rule row: %w", err)
		}
		r.AutoCreateProject = project != 0
		r.AutoCreateContact = contact != 0
		r.MarkImportant = important != 0
		r.Active = a != 0
		r.CreatedAt = r.CreatedAt.UTC()
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule owned by userID.
func (s *SQLStore) DeleteRule(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		"DELETE FROM processing_rules WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	return nil
}
