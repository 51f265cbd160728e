package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/roach88/itemsync/internal/notify"
)

// Config is the itemsync configuration file.
//
//	database: ./itemsync.db
//	notify:
//	  policy: ask
//	  fail_mode: abort
//	log:
//	  level: debug
type Config struct {
	// Database is the default SQLite path for run and trace.
	Database string `mapstructure:"database" yaml:"database"`

	// Notify supplies the notification policy for scenarios that leave it unset.
	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// NotifyConfig holds the default notification behaviour.
type NotifyConfig struct {
	Policy   string `mapstructure:"policy" yaml:"policy"`
	FailMode string `mapstructure:"fail_mode" yaml:"fail_mode"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Database: "itemsync.db",
		Notify: NotifyConfig{
			Policy:   string(notify.PolicySend),
			FailMode: string(notify.FailKeep),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads the YAML file at path using Viper. An empty path or a
// missing file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := DefaultConfig()
	v.SetDefault("database", def.Database)
	v.SetDefault("notify.policy", def.Notify.Policy)
	v.SetDefault("notify.fail_mode", def.Notify.FailMode)
	v.SetDefault("log.level", def.Log.Level)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return def, nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database must not be empty")
	}
	if _, err := notify.ParsePolicy(c.Notify.Policy); err != nil {
		return err
	}
	if _, err := notify.ParseFailMode(c.Notify.FailMode); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// setupLogging installs the default slog handler. Verbose forces debug.
func setupLogging(w io.Writer, level string, verbose bool) {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
