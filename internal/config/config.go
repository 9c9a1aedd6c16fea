package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot          BotConfig          `mapstructure:"bot"`
	Backend      BackendConfig      `mapstructure:"backend"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Context      ContextConfig      `mapstructure:"context"`
	SessionCache SessionCacheConfig `mapstructure:"session_cache"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Input        InputConfig        `mapstructure:"input"`
	Keywords     KeywordsConfig     `mapstructure:"keywords"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
	TypingTimeout time.Duration `mapstructure:"typing_timeout"`
}

type BackendConfig struct {
	BaseURL string      `mapstructure:"base_url"`
	Session RetryConfig `mapstructure:"session"`
	Chat    RetryConfig `mapstructure:"chat"`
	Data    RetryConfig `mapstructure:"data"`
}

// RetryConfig is the retry policy of one backend call site.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Window       time.Duration `mapstructure:"window"`
	MaxPerWindow int           `mapstructure:"max_per_window"`
	Notify       bool          `mapstructure:"notify"`
}

type ContextConfig struct {
	MaxTurns      int           `mapstructure:"max_turns"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SessionCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type DeliveryConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	ChunkInterval    time.Duration `mapstructure:"chunk_interval"`
}

type InputConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// KeywordsConfig overrides the classifier phrase sets. Empty lists keep the built-in defaults.
type KeywordsConfig struct {
	StartPhrases   []string `mapstructure:"start_phrases"`
	EndPhrases     []string `mapstructure:"end_phrases"`
	CancelPhrases  []string `mapstructure:"cancel_phrases"`
	ShortEnd       []string `mapstructure:"short_end"`
	ShortCancel    []string `mapstructure:"short_cancel"`
	Exercises      []string `mapstructure:"exercises"`
	DataTriggers   []string `mapstructure:"data_triggers"`
	Interrogatives []string `mapstructure:"interrogatives"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.typing_timeout", 30*time.Second)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.session.max_attempts", 3)
	v.SetDefault("backend.session.base_delay", time.Second)
	v.SetDefault("backend.session.timeout", 10*time.Second)
	v.SetDefault("backend.chat.max_attempts", 3)
	v.SetDefault("backend.chat.base_delay", time.Second)
	v.SetDefault("backend.chat.timeout", 30*time.Second)
	v.SetDefault("backend.data.max_attempts", 2)
	v.SetDefault("backend.data.base_delay", time.Second)
	v.SetDefault("backend.data.timeout", 60*time.Second)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", 10*time.Second)
	v.SetDefault("rate_limit.max_per_window", 5)
	v.SetDefault("rate_limit.notify", false)

	v.SetDefault("context.max_turns", 6)
	v.SetDefault("context.max_age", 30*time.Minute)
	v.SetDefault("context.sweep_interval", 5*time.Minute)

	v.SetDefault("session_cache.ttl", 30*time.Second)

	v.SetDefault("delivery.max_message_length", 4000)
	v.SetDefault("delivery.chunk_interval", 300*time.Millisecond)

	v.SetDefault("input.max_length", 4096)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "es")
	v.SetDefault("i18n.languages", []string{"es", "en"})
}

// LoadConfig loads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("backend.base_url", "BACKEND_URL")
	v.BindEnv("rate_limit.max_per_window", "RATE_LIMIT_MAX")
	v.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	v.BindEnv("context.max_age", "CONTEXT_TTL")
	v.BindEnv("session_cache.ttl", "SESSION_CACHE_TTL")
	v.BindEnv("logging.level", "LOG_LEVEL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Backend.BaseURL = strings.TrimSuffix(config.Backend.BaseURL, "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Window <= 0 || cfg.RateLimit.MaxPerWindow <= 0) {
		return fmt.Errorf("rate limit window and max_per_window must be positive")
	}
	for name, rc := range map[string]RetryConfig{
		"session": cfg.Backend.Session,
		"chat":    cfg.Backend.Chat,
		"data":    cfg.Backend.Data,
	} {
		if rc.MaxAttempts < 1 {
			return fmt.Errorf("backend.%s.max_attempts must be at least 1", name)
		}
	}
	if cfg.Context.MaxTurns < 1 {
		return fmt.Errorf("context.max_turns must be at least 1")
	}
	if cfg.Context.MaxAge <= 0 || cfg.Context.SweepInterval <= 0 {
		return fmt.Errorf("context.max_age and context.sweep_interval must be positive")
	}
	if cfg.SessionCache.TTL <= 0 {
		return fmt.Errorf("session_cache.ttl must be positive")
	}
	return nil
}

// RequireToken is checked only by commands that talk to the transport.
func (c *Config) RequireToken() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	return nil
}
