package crossref

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Registry resolves extracted identifiers to CRM entities owned by a user.
// Lookups are exact and return model.ErrNotFound when nothing matches.
type Registry interface {
	FindCompanyByINN(ctx context.Context, userID, inn string) (*model.Company, error)
	FindProjectByNumber(ctx context.Context, userID, number string) (*model.Project, error)
}

// Link is the outcome of linking one message. Identifiers are kept even
// when they do not resolve.
type Link struct {
	INN           string
	ProjectNumber string
	CompanyID     *string
	ProjectID     *string
}

// Linker attaches messages to companies and projects.
type Linker struct {
	registry Registry
}

// NewLinker creates a Linker backed by registry.
func NewLinker(registry Registry) *Linker {
	return &Linker{registry: registry}
}

// Link extracts the first valid INN and the first project number from the
// subject, then the body, and resolves them for userID. No match is not an
// error. A project match supplies the company when the INN did not.
func (l *Linker) Link(ctx context.Context, userID, subject, body string) (Link, error) {
	res := Link{
		INN:           FirstINN(subject, body),
		ProjectNumber: FirstProjectNumber(subject, body),
	}

	if res.INN != "" {
		company, err := l.registry.FindCompanyByINN(ctx, userID, res.INN)
		switch {
		case err == nil:
			res.CompanyID = &company.ID
		case !errors.Is(err, model.ErrNotFound):
			return res, fmt.Errorf("resolving inn %s: %w", res.INN, err)
		}
	}

	if res.ProjectNumber != "" {
		project, err := l.registry.FindProjectByNumber(ctx, userID, res.ProjectNumber)
		switch {
		case err == nil:
			res.ProjectID = &project.ID
			if res.CompanyID == nil && project.CompanyID != nil {
				companyID := *project.CompanyID
				res.CompanyID = &companyID
			}
		case !errors.Is(err, model.ErrNotFound):
			return res, fmt.Errorf("resolving project %s: %w", res.ProjectNumber, err)
		}
	}

	return res, nil
}
