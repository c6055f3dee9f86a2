package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the SQL driver and data source.
type DatabaseConfig struct {
	// Driver is "sqlite" or "pgx".
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// AuthConfig holds the secrets used to verify bearer tokens and
// anti-forgery headers.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	CSRFSecret string `mapstructure:"csrf_secret" yaml:"csrf_secret"`
}

// GatewayConfig tunes realtime connections.
type GatewayConfig struct {
	// QueueSize bounds each connection's outbound queue.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// Overflow is "drop_oldest" or "disconnect".
	Overflow string `mapstructure:"overflow" yaml:"overflow"`

	Heartbeat time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`

	// Retry is the reconnection backoff advertised to clients.
	Retry time.Duration `mapstructure:"retry" yaml:"retry"`
}

// SyncConfig controls the orchestrator and the built-in scheduler.
type SyncConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Tick        time.Duration `mapstructure:"tick" yaml:"tick"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	RunTimeout  time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	MaxMessages int           `mapstructure:"max_messages" yaml:"max_messages"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// KeyringConfig configures where mailbox secrets are kept.
type KeyringConfig struct {
	Service  string   `mapstructure:"service" yaml:"service"`
	Backends []string `mapstructure:"backends" yaml:"backends"`
	FileDir  string   `mapstructure:"file_dir" yaml:"file_dir"`
	Password string   `mapstructure:"password" yaml:"password"`
}

// PubSubConfig enables the Google Cloud Pub/Sub event bridge.
type PubSubConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ProjectID    string `mapstructure:"project_id" yaml:"project_id"`
	Topic        string `mapstructure:"topic" yaml:"topic"`
	Subscription string `mapstructure:"subscription" yaml:"subscription"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Keyring  KeyringConfig  `mapstructure:"keyring" yaml:"keyring"`
	PubSub   PubSubConfig   `mapstructure:"pubsub" yaml:"pubsub"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// envPrefix namespaces environment overrides, e.g. CRMSYNC_HTTP_ADDR.
const envPrefix = "CRMSYNC"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":        "http.addr",
	"db-driver":   "database.driver",
	"db-dsn":      "database.dsn",
	"log-level":   "log.level",
	"dev":         "log.development",
	"no-schedule": "sync.enabled",
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/crm-mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "crm-mailsync", "config.yaml")
}

func defaultKeyringDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "keyring")
	}
	return filepath.Join(home, ".config", "crm-mailsync", "keyring")
}

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "crmsync.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.csrf_secret", "")
	v.SetDefault("gateway.queue_size", 64)
	v.SetDefault("gateway.overflow", "drop_oldest")
	v.SetDefault("gateway.heartbeat", 25*time.Second)
	v.SetDefault("gateway.retry", 120*time.Second)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.tick", time.Minute)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.run_timeout", 5*time.Minute)
	v.SetDefault("sync.max_messages", 100)
	v.SetDefault("sync.dial_timeout", 30*time.Second)
	v.SetDefault("keyring.service", "crm-mailsync")
	v.SetDefault("keyring.backends", []string{})
	v.SetDefault("keyring.file_dir", defaultKeyringDir())
	v.SetDefault("keyring.password", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "crm-events")
	v.SetDefault("pubsub.subscription", "crm-events-"+host)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads configuration from the YAML file at path, a .env file in
// the working directory, CRMSYNC_* environment variables and the given
// flags, in increasing order of precedence. A missing file is not an error.
func LoadConfig(path string, flags *pflag.FlagSet) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Auth.CSRFSecret == "" {
		cfg.Auth.CSRFSecret = cfg.Auth.JWTSecret
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if name == "no-schedule" {
			// Inverted flag: only bind when explicitly set.
			if f.Changed {
				v.Set(key, f.Value.String() != "true")
			}
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the settings required to run the server.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Gateway.Overflow {
	case "drop_oldest", "disconnect":
	default:
		errs = append(errs, fmt.Errorf("gateway.overflow %q is not supported", c.Gateway.Overflow))
	}
	if c.Gateway.QueueSize <= 0 {
		errs = append(errs, errors.New("gateway.queue_size must be positive"))
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub is enabled"))
	}
	return errors.Join(errs...)
}
