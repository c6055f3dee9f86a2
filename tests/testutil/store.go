package testutil

import (
	"context"
	"testing"

	"github.com/nhle/crm-mailsync/internal/model"
	"github.com/nhle/crm-mailsync/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestTarget inserts an active IMAP target owned by userID.
func NewTestTarget(t *testing.T, s *store.SQLStore, userID string) *model.SyncTarget {
	t.Helper()

	target := &model.SyncTarget{
		UserID:   userID,
		Address:  userID + "@example.com",
		Host:     "imap.example.com",
		Port:     993,
		Security: model.SecurityTLS,
		Active:   true,
	}
	if err := s.CreateTarget(context.Background(), target); err != nil {
		t.Fatalf("creating test target: %v", err)
	}
	return target
}
