package mailbox

import (
	"context"
	"time"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Session is an authenticated connection to one mailbox folder.
type Session interface {
	// List returns messages received at or after since (all messages when
	// since is nil), ordered by receipt time, oldest first.
	List(ctx context.Context, since *time.Time) ([]Envelope, error)

	// FetchRaw returns the full RFC 5322 bytes of one message.
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)

	Close() error
}

// Fetcher opens mailbox sessions for sync targets.
type Fetcher interface {
	Open(ctx context.Context, target model.SyncTarget, secret string) (Session, error)
}
