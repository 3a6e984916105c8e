package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/mailbox-export/credential"
)

const (
	appName   = "mailbox-export"
	envPrefix = "MAILBOX_EXPORT"
)

var ErrMissingSecret = errors.New("secret not provided")

// LookupSecret resolves a secret that was given neither as a flag, in the
// config file nor in the environment.
var LookupSecret = func(key string) (string, error) {
	return credential.NewKeyring().Get(key)
}

// Config captures all options required to run an export.
type Config struct {
	Source string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool

	MboxPaths []string

	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailUser         string

	Folders    []string
	AllFolders bool

	ExportDir    string
	Format       string
	Workers      int
	FetchTimeout time.Duration

	LogLevel    string
	LogDir      string
	MetricsFile string
	Progress    bool

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string
}

// RegisterFlags attaches the CLI flags shared by every command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file (default: <user config dir>/mailbox-export/config.yaml)")
	flags.String("source", "imap", "Mail source: imap, mbox or gmail")

	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the OS keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")

	flags.StringArray("mbox", nil, "Path to an .mbox file; each file is one folder (repeatable)")

	flags.String("gmail-client-id", "", "Gmail API OAuth client id")
	flags.String("gmail-client-secret", "", "Gmail API OAuth client secret")
	flags.String("gmail-refresh-token", "", "Gmail API refresh token (falls back to the OS keyring)")
	flags.String("gmail-user", "me", "Gmail user id")

	flags.StringArray("folder", nil, "Folder to export (repeatable, default INBOX; all files for mbox)")
	flags.Bool("all-folders", false, "Export every folder the source lists")

	flags.String("export-dir", "export", "Export root directory; a numbered sibling is used if it exists")
	flags.String("format", "csv", "Export format: csv or sqlite")
	flags.Int("workers", 4, "Number of messages fetched and interpreted in parallel")
	flags.Duration("fetch-timeout", 2*time.Minute, "Deadline for fetching one message (0 disables)")

	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("metrics-file", "", "Write prometheus metrics in text format to this file after the run")
	flags.Bool("progress", true, "Show a progress bar (info log level only)")

	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig merges flags, the optional config file and the environment,
// resolves secrets and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return Config{}, err
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		Source:             strings.ToLower(strings.TrimSpace(v.GetString("source"))),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		MboxPaths:          stringArray(v, cmd.Flags(), "mbox"),
		GmailClientID:      v.GetString("gmail-client-id"),
		GmailClientSecret:  v.GetString("gmail-client-secret"),
		GmailRefreshToken:  v.GetString("gmail-refresh-token"),
		GmailUser:          v.GetString("gmail-user"),
		Folders:            stringArray(v, cmd.Flags(), "folder"),
		AllFolders:         v.GetBool("all-folders"),
		ExportDir:          v.GetString("export-dir"),
		Format:             strings.ToLower(v.GetString("format")),
		Workers:            v.GetInt("workers"),
		FetchTimeout:       v.GetDuration("fetch-timeout"),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
		MetricsFile:        v.GetString("metrics-file"),
		Progress:           v.GetBool("progress"),
		IncludeHeader:      stringArray(v, cmd.Flags(), "include-header"),
		IncludeBody:        stringArray(v, cmd.Flags(), "include-body"),
		ExcludeHeader:      stringArray(v, cmd.Flags(), "exclude-header"),
		ExcludeBody:        stringArray(v, cmd.Flags(), "exclude-body"),
		ConfigFile:         v.ConfigFileUsed(),
	}

	if cfg.ExportDir != "" {
		cfg.ExportDir = filepath.Clean(cfg.ExportDir)
	}
	if len(cfg.Folders) == 0 && !cfg.AllFolders && cfg.Source != SourceMbox {
		cfg.Folders = []string{"INBOX"}
	}

	if err := resolveSecrets(&cfg); err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const (
	SourceIMAP  = "imap"
	SourceMbox  = "mbox"
	SourceGmail = "gmail"
)

func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("imap-pass", envPrefix+"_IMAP_PASS", "IMAP_PASS"); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, appName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// stringArray reads a repeatable flag. Values given on the command line are
// taken verbatim so patterns containing commas survive.
func stringArray(v *viper.Viper, flags *pflag.FlagSet, name string) []string {
	if f := flags.Lookup(name); f != nil && f.Changed {
		values, err := flags.GetStringArray(name)
		if err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

// SecretKey names the keyring entry holding the secret for the configured
// account of source.
func SecretKey(source, account string) string {
	return credential.Key(source, account)
}

func resolveSecrets(cfg *Config) error {
	switch cfg.Source {
	case SourceIMAP:
		if cfg.IMAPPass == "" && cfg.IMAPUser != "" && cfg.IMAPHost != "" {
			pass, err := LookupSecret(SecretKey(SourceIMAP, cfg.IMAPUser+"@"+cfg.IMAPHost))
			if err != nil && !credential.IsNotFound(err) {
				return fmt.Errorf("look up IMAP password: %w", err)
			}
			cfg.IMAPPass = pass
		}
	case SourceGmail:
		if cfg.GmailRefreshToken == "" && cfg.GmailClientID != "" {
			token, err := LookupSecret(SecretKey(SourceGmail, cfg.GmailClientID))
			if err != nil && !credential.IsNotFound(err) {
				return fmt.Errorf("look up Gmail refresh token: %w", err)
			}
			cfg.GmailRefreshToken = token
		}
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.Source {
	case SourceIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("%w: IMAP password must be provided via --imap-pass, IMAP_PASS env var or `%s login`", ErrMissingSecret, appName)
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	case SourceMbox:
		if len(cfg.MboxPaths) == 0 {
			return fmt.Errorf("--mbox is required")
		}
	case SourceGmail:
		if cfg.GmailClientID == "" || cfg.GmailClientSecret == "" {
			return fmt.Errorf("--gmail-client-id and --gmail-client-secret are required")
		}
		if cfg.GmailRefreshToken == "" {
			return fmt.Errorf("%w: Gmail refresh token must be provided via --gmail-refresh-token or `%s login`", ErrMissingSecret, appName)
		}
	default:
		return fmt.Errorf("invalid --source: %q", cfg.Source)
	}

	if cfg.ExportDir == "" {
		return fmt.Errorf("--export-dir is required")
	}
	switch cfg.Format {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("invalid --format: %s", cfg.Format)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.FetchTimeout < 0 {
		return fmt.Errorf("--fetch-timeout must not be negative")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// AccountKey returns the keyring key for the configured source account,
// or for account when it is not empty.
func AccountKey(cmd *cobra.Command, account string) (string, error) {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return "", err
	}

	source := strings.ToLower(strings.TrimSpace(v.GetString("source")))
	if account != "" {
		return SecretKey(source, account), nil
	}

	switch source {
	case SourceIMAP:
		user, host := v.GetString("imap-user"), v.GetString("imap-host")
		if user == "" || host == "" {
			return "", fmt.Errorf("--imap-user and --imap-host are required")
		}
		return SecretKey(source, user+"@"+host), nil
	case SourceGmail:
		id := v.GetString("gmail-client-id")
		if id == "" {
			return "", fmt.Errorf("--gmail-client-id is required")
		}
		return SecretKey(source, id), nil
	default:
		return "", fmt.Errorf("source %q has no stored secret", source)
	}
}
