package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyring_RoundTrip(t *testing.T) {
	store := NewWith(keyring.NewArrayKeyring(nil))

	_, err := store.Get(Key("imap", "alice@example.com"))
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(Key("imap", "alice@example.com"), "s3cret"))
	got, err := store.Get(Key("imap", "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, store.Delete(Key("imap", "alice@example.com")))
	_, err = store.Get(Key("imap", "alice@example.com"))
	assert.True(t, IsNotFound(err))
}

func TestKeyring_FileBackend(t *testing.T) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      serviceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test"),
	})
	require.NoError(t, err)

	store := NewWith(ring)
	require.NoError(t, store.Set(Key("gmail-refresh-token", "me"), "token"))
	got, err := store.Get(Key("gmail-refresh-token", "me"))
	require.NoError(t, err)
	assert.Equal(t, "token", got)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "imap:bob", Key("imap", "bob"))
}

var _ Store = (*Keyring)(nil)
