package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("IMAP_PASS", "")

	orig := LookupSecret
	LookupSecret = func(string) (string, error) { return "", keyring.ErrKeyNotFound }
	t.Cleanup(func() { LookupSecret = orig })
}

func parse(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig_IMAPDefaults(t *testing.T) {
	isolate(t)
	cmd := parse(t, "--imap-host", "imap.example.com", "--imap-user", "alice", "--imap-pass", "pw")

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, SourceIMAP, cfg.Source)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, []string{"INBOX"}, cfg.Folders)
	assert.Equal(t, "export", cfg.ExportDir)
	assert.Equal(t, "csv", cfg.Format)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_RepeatableFlagsKeepCommas(t *testing.T) {
	isolate(t)
	cmd := parse(t, "--source", "mbox",
		"--mbox", "a.mbox", "--mbox", "b.mbox",
		"--exclude-header", `^From: .{1,3}@`,
		"--log-level", "WARNING")

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mbox", "b.mbox"}, cfg.MboxPaths)
	assert.Empty(t, cfg.Folders)
	assert.Equal(t, []string{`^From: .{1,3}@`}, cfg.ExcludeHeader)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("MAILBOX_EXPORT_WORKERS", "9")
	t.Setenv("MAILBOX_EXPORT_EXPORT_DIR", "out/dir/")
	t.Setenv("IMAP_PASS", "from-env")

	cmd := parse(t, "--imap-host", "h", "--imap-user", "u")
	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, filepath.Clean("out/dir"), cfg.ExportDir)
	assert.Equal(t, "from-env", cfg.IMAPPass)
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
source: gmail
gmail-client-id: client
gmail-client-secret: secret
gmail-refresh-token: token
folder:
  - INBOX
  - SENT
format: sqlite
`), 0o600))

	cmd := parse(t, "--config", path, "--format", "csv")
	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, SourceGmail, cfg.Source)
	assert.Equal(t, []string{"INBOX", "SENT"}, cfg.Folders)
	assert.Equal(t, "csv", cfg.Format, "flags win over the file")
	assert.Equal(t, "token", cfg.GmailRefreshToken)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	isolate(t)
	cmd := parse(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig(cmd)
	assert.Error(t, err)
}

func TestLoadConfig_KeyringFallback(t *testing.T) {
	isolate(t)
	var asked string
	LookupSecret = func(key string) (string, error) {
		asked = key
		return "from-keyring", nil
	}

	cmd := parse(t, "--imap-host", "imap.example.com", "--imap-user", "alice")
	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", cfg.IMAPPass)
	assert.Equal(t, "imap:alice@imap.example.com", asked)
}

func TestLoadConfig_KeyringFailure(t *testing.T) {
	isolate(t)
	LookupSecret = func(string) (string, error) { return "", errors.New("locked") }

	cmd := parse(t, "--imap-host", "h", "--imap-user", "u")
	_, err := LoadConfig(cmd)
	assert.ErrorContains(t, err, "locked")
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	isolate(t)
	cmd := parse(t, "--imap-host", "h", "--imap-user", "u")
	_, err := LoadConfig(cmd)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestValidateConfig(t *testing.T) {
	valid := Config{
		Source: SourceMbox, MboxPaths: []string{"a.mbox"},
		ExportDir: "export", Format: "csv", Workers: 1, LogLevel: "info",
	}
	require.NoError(t, validateConfig(valid))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source = "pop3" }},
		{"no mbox", func(c *Config) { c.MboxPaths = nil }},
		{"bad format", func(c *Config) { c.Format = "xlsx" }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.FetchTimeout = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"empty export dir", func(c *Config) { c.ExportDir = "" }},
		{"filter modes", func(c *Config) {
			c.IncludeHeader = []string{"a"}
			c.ExcludeBody = []string{"b"}
		}},
		{"imap port", func(c *Config) {
			c.Source, c.IMAPHost, c.IMAPUser, c.IMAPPass, c.IMAPPort = SourceIMAP, "h", "u", "p", 70000
		}},
		{"gmail secret", func(c *Config) {
			c.Source, c.GmailClientID, c.GmailClientSecret = SourceGmail, "id", "secret"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestAccountKey(t *testing.T) {
	isolate(t)

	key, err := AccountKey(parse(t, "--imap-host", "h", "--imap-user", "u"), "")
	require.NoError(t, err)
	assert.Equal(t, "imap:u@h", key)

	key, err = AccountKey(parse(t, "--source", "gmail", "--gmail-client-id", "cid"), "")
	require.NoError(t, err)
	assert.Equal(t, "gmail:cid", key)

	key, err = AccountKey(parse(t, "--source", "gmail"), "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "gmail:me@example.com", key)

	_, err = AccountKey(parse(t), "")
	assert.Error(t, err)

	_, err = AccountKey(parse(t, "--source", "mbox"), "")
	assert.Error(t, err)
}
