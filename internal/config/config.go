package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// MaxUploadBytes is the hard ceiling for a single uploaded artifact.
const MaxUploadBytes int64 = 50 * 1024 * 1024

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	Session Session `mapstructure:",squash"`
	Storage Storage `mapstructure:",squash"`

	AuditBuffer       int           `mapstructure:"audit_buffer"`
	AuditWriteTimeout time.Duration `mapstructure:"audit_write_timeout"`

	SignalRateLimit    int           `mapstructure:"signal_rate_limit"`
	SignalRateInterval time.Duration `mapstructure:"signal_rate_interval"`
}

// Session holds the timing knobs of the connection state machine.
// All of them must be finite and positive.
type Session struct {
	NegotiationTimeout  time.Duration `mapstructure:"negotiation_timeout"`
	RetryBudget         int           `mapstructure:"retry_budget"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax     time.Duration `mapstructure:"retry_backoff_max"`
	OfferResendInterval time.Duration `mapstructure:"offer_resend_interval"`
	ICEServers          []string      `mapstructure:"ice_servers"`
}

type Storage struct {
	NotesAutosaveInterval time.Duration `mapstructure:"notes_autosave_interval"`
	MaxUploadBytes        int64         `mapstructure:"max_upload_bytes"`
	DBPath                string        `mapstructure:"db_path"`
	BlobDir               string        `mapstructure:"blob_dir"`
	BlobBaseURL           string        `mapstructure:"blob_base_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "telecare-dev-secret")

	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("retry_budget", 3)
	v.SetDefault("retry_backoff", "2s")
	v.SetDefault("retry_backoff_max", "10s")
	v.SetDefault("offer_resend_interval", "5s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("notes_autosave_interval", "10s")
	v.SetDefault("max_upload_bytes", MaxUploadBytes)
	v.SetDefault("db_path", "./data/telecare.db")
	v.SetDefault("blob_dir", "./data/blobs")
	v.SetDefault("blob_base_url", "/blobs")

	v.SetDefault("audit_buffer", 256)
	v.SetDefault("audit_write_timeout", "3s")

	v.SetDefault("signal_rate_limit", 20)
	v.SetDefault("signal_rate_interval", "1s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("telecare")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Dur("negotiation_timeout", cfg.Session.NegotiationTimeout).
		Msg("config ready")
	return cfg, nil
}

// Defaults returns the configuration with every key at its default value.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that could leave the state machine
// waiting forever or accept uploads above the hard cap.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"negotiation_timeout":     c.Session.NegotiationTimeout,
		"retry_backoff":           c.Session.RetryBackoff,
		"retry_backoff_max":       c.Session.RetryBackoffMax,
		"offer_resend_interval":   c.Session.OfferResendInterval,
		"notes_autosave_interval": c.Storage.NotesAutosaveInterval,
		"audit_write_timeout":     c.AuditWriteTimeout,
		"signal_rate_interval":    c.SignalRateInterval,
		"ping_period":             c.PingPeriod,
	}
	for k, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if c.Session.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("retry_budget must not be negative, got %d", c.Session.RetryBudget))
	}
	if c.Session.RetryBackoffMax < c.Session.RetryBackoff {
		errs = append(errs, errors.New("retry_backoff_max must be >= retry_backoff"))
	}
	if c.Storage.MaxUploadBytes <= 0 || c.Storage.MaxUploadBytes > MaxUploadBytes {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be in (0, %d]", MaxUploadBytes))
	}
	if c.AuditBuffer <= 0 {
		errs = append(errs, errors.New("audit_buffer must be positive"))
	}
	if c.SignalRateLimit <= 0 {
		errs = append(errs, errors.New("signal_rate_limit must be positive"))
	}
	return errors.Join(errs...)
}
