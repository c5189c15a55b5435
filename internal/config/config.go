package config

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/streakwatch/internal/model"
)

// Config is the top-level configuration.
type Config struct {
	GitHub  GitHubConfig  `yaml:"github" mapstructure:"github"`
	Discord DiscordConfig `yaml:"discord" mapstructure:"discord"`
	Watch   WatchConfig   `yaml:"watch" mapstructure:"watch"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GitHubConfig holds the monitored account and API settings.
type GitHubConfig struct {
	Username    string  `yaml:"username" mapstructure:"username" validate:"required"`
	Token       string  `yaml:"token" mapstructure:"token" validate:"required"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint" validate:"required,url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst" validate:"gte=0"`
	FetchStreak bool    `yaml:"fetch_streak" mapstructure:"fetch_streak"`
}

// DiscordConfig holds the alert webhook settings.
type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"required,url"`
	BotName    string `yaml:"bot_name" mapstructure:"bot_name"`
	Color      int    `yaml:"color" mapstructure:"color" validate:"gte=0,lte=16777215"`
}

// WatchConfig configures the recurring check.
type WatchConfig struct {
	Schedule       string `yaml:"schedule" mapstructure:"schedule" validate:"required"`
	RunTimeoutSecs int    `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs" validate:"gt=0"`
	ListenAddr     string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// StoreConfig selects the alert ledger backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver" validate:"oneof=none memory sqlite postgres redis"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	ClaimTTLHours int    `yaml:"claim_ttl_hours" mapstructure:"claim_ttl_hours" validate:"gt=0"`
}

// HTTPConfig tunes the shared connection pool.
type HTTPConfig struct {
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host" mapstructure:"max_idle_conns_per_host" validate:"gt=0"`
	IdleConnTimeoutSecs int    `yaml:"idle_conn_timeout_secs" mapstructure:"idle_conn_timeout_secs" validate:"gt=0"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig bounds query retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
}

// CircuitConfig configures the query circuit breaker. A zero threshold
// disables it.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// envAliases binds the legacy unprefixed variable names.
var envAliases = map[string]string{
	"github.username":     "GITHUB_USERNAME",
	"github.token":        "GITHUB_PAT",
	"discord.webhook_url": "DISCORD_WEBHOOK_URL",
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STREAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := "STREAK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("github.endpoint", "https://api.github.com/graphql")
	v.SetDefault("github.rate_limit", 1.0)
	v.SetDefault("github.rate_burst", 2)
	v.SetDefault("github.fetch_streak", true)
	v.SetDefault("discord.bot_name", "Streaky Bot")
	v.SetDefault("discord.color", 15158332)
	v.SetDefault("watch.schedule", "0 0 */1 * * *")
	v.SetDefault("watch.run_timeout_secs", 60)
	v.SetDefault("watch.listen_addr", ":8080")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.claim_ttl_hours", 48)
	v.SetDefault("http.timeout_secs", 15)
	v.SetDefault("http.max_idle_conns_per_host", 4)
	v.SetDefault("http.idle_conn_timeout_secs", 90)
	v.SetDefault("http.user_agent", "streakwatch/1.0")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	return v
}

// Validate checks that the configuration is usable before any network call.
// Every problem is reported in a single ConfigMissing failure.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, fieldKey(fe)+" ("+fe.Tag()+")")
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "redis":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url (required for "+c.Store.Driver+")")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return model.NewFailure(model.FailureConfigMissing,
		"invalid configuration: "+strings.Join(problems, ", "), nil)
}

// fieldKey turns "Config.github.token" into "github.token".
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

const redactedValue = "[redacted]"

// Redacted returns a copy safe to print or log: secrets and URLs that embed
// credentials are masked.
func (c Config) Redacted() Config {
	out := c
	out.GitHub.Token = mask(c.GitHub.Token)
	out.Discord.WebhookURL = mask(c.Discord.WebhookURL)
	out.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
