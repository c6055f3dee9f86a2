package store

import (
	"context"
	"time"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Store defines the persistence interface for sync targets, runs, ingested
// messages, the CRM entities the linker reads, and processing rules.
type Store interface {
	// === Sync targets ===

	CreateTarget(ctx context.Context, t *model.SyncTarget) error
	GetTarget(ctx context.Context, id string) (*model.SyncTarget, error)
	ListTargets(ctx context.Context, userID string) ([]model.SyncTarget, error)
	ListActiveTargets(ctx context.Context) ([]model.SyncTarget, error)
	RecordSyncSuccess(ctx context.Context, id string, watermark *time.Time, processed int) error
	RecordSyncFailure(ctx context.Context, id string, reason string) error

	// === Sync runs ===

	StartRun(ctx context.Context, targetID string) (*model.SyncRun, error)
	FinishRun(ctx context.Context, run *model.SyncRun) error
	ListRuns(ctx context.Context, targetID string, limit int) ([]model.SyncRun, error)
	FailStaleRuns(ctx context.Context, reason string) (int64, error)

	// === Messages ===

	InsertMessage(ctx context.Context, m *model.IngestedMessage) (bool, error)
	CompleteProcessing(ctx context.Context, id string, p model.Processing) error
	GetMessage(ctx context.Context, userID, id string) (*model.IngestedMessage, error)
	FindMessageByExternalID(ctx context.Context, targetID, externalID string) (*model.IngestedMessage, error)
	ListMessages(ctx context.Context, f model.MessageFilter) ([]model.IngestedMessage, error)
	MarkMessageRead(ctx context.Context, userID, id string) error
	ToggleMessageImportant(ctx context.Context, userID, id string) (bool, error)

	// === CRM lookups and rule-driven creation ===

	CreateCompany(ctx context.Context, c *model.Company) error
	FindCompanyByINN(ctx context.Context, userID, inn string) (*model.Company, error)
	FindProjectByNumber(ctx context.Context, userID, number string) (*model.Project, error)
	CreateProjectFromMessage(ctx context.Context, p *model.Project) (bool, error)
	CreateContactIfAbsent(ctx context.Context, c *model.Contact) (bool, error)

	// === Processing rules ===

	CreateRule(ctx context.Context, r *model.ProcessingRule) error
	ListActiveRules(ctx context.Context, userID string) ([]model.ProcessingRule, error)
	DeleteRule(ctx context.Context, userID, id string) error

	Close() error
}
