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

// CreateCompany inserts a company. Companies are owned by the CRM; the
// pipeline only needs them for lookups and tests.
func (s *SQLStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("company name must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO companies (id, user_id, name, inn, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		c.ID, c.UserID, c.Name, c.INN, boolToInt(c.Active), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating company: %w", err)
	}
	return nil
}

// FindCompanyByINN returns the owner's active company with exactly this
// identifier, or model.ErrNotFound.
func (s *SQLStore) FindCompanyByINN(ctx context.Context, userID, inn string) (*model.Company, error) {
	var (
		c      model.Company
		active int
	)
	err := s.db.QueryRowxContext(ctx, s.q(`
		SELECT id, user_id, name, inn, active FROM companies
		WHERE user_id = ? AND inn = ? AND active = 1
		ORDER BY created_at LIMIT 1`), userID, inn,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.INN, &active)
	if err != nil {
		return nil, fmt.Errorf("finding company by inn %s: %w", inn, notFound(err))
	}
	c.Active = active != 0
	return &c, nil
}

const projectColumns = `id, user_id, title, project_number, company_id,
	source_message_id, active, created_at`

// FindProjectByNumber returns the owner's active project with exactly this
// number, or model.ErrNotFound.
func (s *SQLStore) FindProjectByNumber(ctx context.Context, userID, number string) (*model.Project, error) {
	row := s.db.QueryRowxContext(ctx, s.q(`
		SELECT `+projectColumns+` FROM projects
		WHERE user_id = ? AND project_number = ? AND active = 1
		ORDER BY created_at LIMIT 1`), userID, number)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("finding project by number %s: %w", number, notFound(err))
	}
	return &p, nil
}

// CreateProjectFromMessage inserts p unless the owner already has a project
// created from the same source message. It reports whether p was created;
// otherwise p is overwritten with the existing project.
func (s *SQLStore) CreateProjectFromMessage(ctx context.Context, p *model.Project) (bool, error) {
	if strings.TrimSpace(p.Title) == "" {
		p.Title = "(no subject)"
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Active = true
	p.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source_message_id) DO NOTHING`),
		p.ID, p.UserID, p.Title, p.ProjectNumber, nullString(p.CompanyID),
		nullString(p.SourceMessageID), boolToInt(p.Active), p.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("creating project from message: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("creating project from message: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	if p.SourceMessageID == nil {
		return false, fmt.Errorf("creating project %s: conflict without source message", p.ID)
	}
	row := s.db.QueryRowxContext(ctx, s.q(
		"SELECT "+projectColumns+" FROM projects WHERE user_id = ? AND source_message_id = ?"),
		p.UserID, *p.SourceMessageID)
	existing, err := scanProject(row)
	if err != nil {
		return false, fmt.Errorf("loading existing project: %w", notFound(err))
	}
	*p = existing
	return false, nil
}

// CreateContactIfAbsent inserts c unless the owner already has a contact
// with the same e-mail. It reports whether c was created.
func (s *SQLStore) CreateContactIfAbsent(ctx context.Context, c *model.Contact) (bool, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" {
		return false, fmt.Errorf("contact email must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO contacts (id, user_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, email) DO NOTHING`),
		c.ID, c.UserID, c.Name, c.Email, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("creating contact %s: %w", c.Email, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("creating contact %s: %w", c.Email, err)
	}
	return rows > 0, nil
}

func scanProject(sc rowScanner) (model.Project, error) {
	var (
		p             model.Project
		companyID     sql.NullString
		sourceMessage sql.NullString
		active        int
	)
	err := sc.Scan(
		&p.ID, &p.UserID, &p.Title, &p.ProjectNumber, &companyID,
		&sourceMessage, &active, &p.CreatedAt,
	)
	if err != nil {
		return model.Project{}, err
	}
	p.CompanyID = stringPtr(companyID)
	p.SourceMessageID = stringPtr(sourceMessage)
	p.Active = active != 0
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
