package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-mailsync/internal/model"
)

func TestKeyringRoundTrip(t *testing.T) {
	k := New(keyring.NewArrayKeyring(nil))

	_, err := k.Secret("t1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, k.SetSecret("t1", "hunter2"))
	secret, err := k.Secret("t1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)

	require.NoError(t, k.DeleteSecret("t1"))
	_, err = k.Secret("t1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOpenFileBackend(t *testing.T) {
	k, err := Open(model.KeyringConfig{
		Service:  "crm-mailsync-test",
		Backends: []string{string(keyring.FileBackend)},
		FileDir:  t.TempDir(),
		Password: "test-password",
	})
	require.NoError(t, err)

	require.NoError(t, k.SetSecret("t2", "s3cret"))
	secret, err := k.Secret("t2")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
}
