package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "mailbox-export"

// ErrNotFound is returned when no secret is stored under a key.
var ErrNotFound = keyring.ErrKeyNotFound

// Store reads and writes secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring stores secrets in the OS keyring, falling back to an encrypted
// file under the user config directory.
type Keyring struct {
	open func() (keyring.Keyring, error)
}

func NewKeyring() *Keyring {
	return &Keyring{open: openKeyring}
}

// NewWith wraps an already opened keyring.
func NewWith(ring keyring.Keyring) *Keyring {
	return &Keyring{open: func() (keyring.Keyring, error) { return ring, nil }}
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func fileDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join("~", ".config", serviceName, "credentials")
	}
	return filepath.Join(dir, serviceName, "credentials")
}

func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(key, value string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (k *Keyring) Delete(key string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Key names the secret of one account and field, e.g. "imap:alice@example.com".
func Key(kind, account string) string {
	return kind + ":" + account
}

// IsNotFound reports whether err means the secret does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, keyring.ErrKeyNotFound)
}
