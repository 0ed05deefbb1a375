// Package config loads the mailpulse configuration from a YAML file and
// MAILPULSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/account"
	"github.com/mailpulse/mailpulse/attachment"
	"github.com/mailpulse/mailpulse/imapclient"
	"github.com/mailpulse/mailpulse/mailclient"
	"github.com/mailpulse/mailpulse/smtpsender"
)

// EnvPrefix prefixes the environment variables overriding file values, e.g.
// MAILPULSE_IMAP_COMMAND_TIMEOUT.
const EnvPrefix = "MAILPULSE"

// IMAPConfig holds the IMAP connection settings.
type IMAPConfig struct {
	CommandTimeout      time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CloseTimeout        time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	IdleRefreshMargin   time.Duration `mapstructure:"idle_refresh_margin" yaml:"idle_refresh_margin"`
	IdleActivationDelay time.Duration `mapstructure:"idle_activation_delay" yaml:"idle_activation_delay"`
	ListenNewMail       bool          `mapstructure:"listen_new_mail" yaml:"listen_new_mail"`
	RecentLookback      time.Duration `mapstructure:"recent_lookback" yaml:"recent_lookback"`
	PageSize            int           `mapstructure:"page_size" yaml:"page_size"`
	// Trace writes the raw protocol exchange to stderr.
	Trace bool `mapstructure:"trace" yaml:"trace"`
}

// SMTPConfig holds the SMTP settings.
type SMTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AllowInsecure bool          `mapstructure:"allow_insecure" yaml:"allow_insecure"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// KeyringConfig selects the credential keyring.
type KeyringConfig struct {
	Service string `mapstructure:"service" yaml:"service"`
	Backend string `mapstructure:"backend" yaml:"backend"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// EventStoreConfig configures the persisted new mail events. An empty Path
// disables the store.
type EventStoreConfig struct {
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// Config is the top-level configuration.
type Config struct {
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	SMTP       SMTPConfig       `mapstructure:"smtp" yaml:"smtp"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Keyring    KeyringConfig    `mapstructure:"keyring" yaml:"keyring"`
	EventStore EventStoreConfig `mapstructure:"event_store" yaml:"event_store"`
	// DisconnectTimeout bounds logging out of both servers.
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" yaml:"disconnect_timeout"`
	// MaxAttachmentSize limits resolved attachments, in bytes.
	MaxAttachmentSize int64 `mapstructure:"max_attachment_size" yaml:"max_attachment_size"`
}

// DefaultPath returns ~/.config/mailpulse/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailpulse", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.command_timeout", imapclient.DefaultCommandTimeout)
	v.SetDefault("imap.close_timeout", imapclient.DefaultCloseTimeout)
	v.SetDefault("imap.idle_timeout", imapclient.DefaultIdleTimeout)
	v.SetDefault("imap.idle_refresh_margin", imapclient.DefaultIdleRefreshMargin)
	v.SetDefault("imap.idle_activation_delay", time.Duration(0))
	v.SetDefault("imap.listen_new_mail", true)
	v.SetDefault("imap.recent_lookback", imapclient.DefaultRecentLookback)
	v.SetDefault("imap.page_size", 20)
	v.SetDefault("imap.trace", false)
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("smtp.allow_insecure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("keyring.service", account.DefaultService)
	v.SetDefault("keyring.backend", "")
	v.SetDefault("keyring.file_dir", "")
	v.SetDefault("event_store.path", "")
	v.SetDefault("event_store.retention", 30*24*time.Hour)
	v.SetDefault("disconnect_timeout", mailclient.DefaultDisconnectTimeout)
	v.SetDefault("max_attachment_size", int64(attachment.DefaultMaxSize))
}

// Load reads the configuration at path. A missing file leaves the defaults
// in place; environment variables apply in both cases. An empty path means
// DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks sizes and timeouts.
func (cfg *Config) Validate() error {
	durations := []struct {
		field string
		value time.Duration
	}{
		{"imap.command_timeout", cfg.IMAP.CommandTimeout},
		{"imap.close_timeout", cfg.IMAP.CloseTimeout},
		{"imap.idle_timeout", cfg.IMAP.IdleTimeout},
		{"smtp.timeout", cfg.SMTP.Timeout},
		{"disconnect_timeout", cfg.DisconnectTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &mailpulse.ValidationError{Field: d.field, Value: d.value.String(), Reason: "must be positive"}
		}
	}
	if cfg.IMAP.IdleRefreshMargin < 0 || cfg.IMAP.IdleRefreshMargin >= cfg.IMAP.IdleTimeout {
		return &mailpulse.ValidationError{Field: "imap.idle_refresh_margin", Value: cfg.IMAP.IdleRefreshMargin.String(), Reason: "must be below imap.idle_timeout"}
	}
	if cfg.IMAP.IdleActivationDelay < 0 {
		return &mailpulse.ValidationError{Field: "imap.idle_activation_delay", Value: cfg.IMAP.IdleActivationDelay.String(), Reason: "must not be negative"}
	}
	if cfg.IMAP.RecentLookback < 0 {
		return &mailpulse.ValidationError{Field: "imap.recent_lookback", Value: cfg.IMAP.RecentLookback.String(), Reason: "must not be negative"}
	}
	if cfg.IMAP.PageSize <= 0 || cfg.IMAP.PageSize > imapclient.MaxPageSize {
		return &mailpulse.ValidationError{Field: "imap.page_size", Value: fmt.Sprint(cfg.IMAP.PageSize), Reason: fmt.Sprintf("must be between 1 and %d", imapclient.MaxPageSize)}
	}
	if cfg.MaxAttachmentSize <= 0 {
		return &mailpulse.ValidationError{Field: "max_attachment_size", Value: fmt.Sprint(cfg.MaxAttachmentSize), Reason: "must be positive"}
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return &mailpulse.ValidationError{Field: "log.level", Value: cfg.Log.Level, Reason: err.Error()}
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return &mailpulse.ValidationError{Field: "log.format", Value: cfg.Log.Format, Reason: `must be "console" or "json"`}
	}
	return nil
}

// Logger builds the root logger writing to w.
func (cfg *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ClientOptions builds the IMAP client options.
func (cfg *Config) ClientOptions(logger *zerolog.Logger) *imapclient.Options {
	options := &imapclient.Options{
		Logger:              logger,
		CommandTimeout:      cfg.IMAP.CommandTimeout,
		CloseTimeout:        cfg.IMAP.CloseTimeout,
		IdleTimeout:         cfg.IMAP.IdleTimeout,
		IdleRefreshMargin:   cfg.IMAP.IdleRefreshMargin,
		IdleActivationDelay: cfg.IMAP.IdleActivationDelay,
		ListenNewMail:       cfg.IMAP.ListenNewMail,
		RecentLookback:      cfg.IMAP.RecentLookback,
	}
	if cfg.IMAP.Trace {
		options.DebugWriter = os.Stderr
	}
	return options
}

// SenderOptions builds the template SMTP options; hosts and credentials come
// from each account.
func (cfg *Config) SenderOptions(logger *zerolog.Logger) *smtpsender.Options {
	return &smtpsender.Options{
		Timeout:       cfg.SMTP.Timeout,
		AllowInsecure: cfg.SMTP.AllowInsecure,
		Logger:        logger,
	}
}

// KeyringOptions returns the keyring settings.
func (cfg *Config) KeyringOptions() account.KeyringOptions {
	return account.KeyringOptions{
		Service: cfg.Keyring.Service,
		Backend: cfg.Keyring.Backend,
		FileDir: cfg.Keyring.FileDir,
	}
}

// MailOptions builds the options for mailclient.Connect and Registry.
func (cfg *Config) MailOptions(logger *zerolog.Logger) *mailclient.Options {
	return &mailclient.Options{
		IMAP:              cfg.ClientOptions(logger),
		SMTP:              cfg.SenderOptions(logger),
		Resolver:          &attachment.Resolver{MaxSize: cfg.MaxAttachmentSize, Logger: logger},
		DisconnectTimeout: cfg.DisconnectTimeout,
		Logger:            logger,
	}
}
