package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/crm-mailsync/internal/model"
)

// keyPrefix namespaces mailbox secrets inside the keyring service.
const keyPrefix = "mailbox:"

// Keyring stores mailbox secrets keyed by SyncTarget ID.
type Keyring struct {
	ring keyring.Keyring
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// Open returns a Keyring backed by the OS keyring, or by an encrypted file
// store when no OS backend is available or cfg restricts backends to it.
func Open(cfg model.KeyringConfig) (*Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if len(cfg.Backends) > 0 {
		backends = backends[:0]
		for _, b := range cfg.Backends {
			backends = append(backends, keyring.BackendType(b))
		}
	}

	password := cfg.Password
	if password == "" {
		password = cfg.Service + "-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.Service,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// Secret returns the mailbox secret for targetID. A missing secret is
// reported as model.ErrNotFound.
func (k *Keyring) Secret(targetID string) (string, error) {
	item, err := k.ring.Get(keyPrefix + targetID)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting secret for %s: %w", targetID, model.ErrNotFound)
		}
		return "", fmt.Errorf("getting secret for %s: %w", targetID, err)
	}
	return string(item.Data), nil
}

// SetSecret stores the mailbox secret for targetID.
func (k *Keyring) SetSecret(targetID, secret string) error {
	err := k.ring.Set(keyring.Item{
		Key:         keyPrefix + targetID,
		Data:        []byte(secret),
		Label:       "crm-mailsync mailbox " + targetID,
		Description: "IMAP password",
	})
	if err != nil {
		return fmt.Errorf("setting secret for %s: %w", targetID, err)
	}
	return nil
}

// DeleteSecret removes the mailbox secret for targetID.
func (k *Keyring) DeleteSecret(targetID string) error {
	if err := k.ring.Remove(keyPrefix + targetID); err != nil {
		return fmt.Errorf("deleting secret for %s: %w", targetID, err)
	}
	return nil
}
