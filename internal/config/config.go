// Package config loads zyro settings from defaults, an optional YAML file and
// the environment.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/stupiduntilnot/zyro/internal/completion"
	"github.com/stupiduntilnot/zyro/internal/control"
	"github.com/stupiduntilnot/zyro/internal/history"
	"github.com/stupiduntilnot/zyro/internal/openai"
	"github.com/stupiduntilnot/zyro/internal/telegram"
)

// EnvPrefix namespaces environment overrides, e.g. ZYRO_HISTORY_BACKEND.
const EnvPrefix = "ZYRO"

// Platforms.
const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"
	PlatformDummy    = "dummy"
)

// Completion providers.
const (
	ProviderOpenAI = "openai"
	ProviderDummy  = "dummy"
)

// History backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultModel is the chat model requested from the completion endpoint.
const DefaultModel = "llama-3.3-70b-versatile"

// DefaultCompletionURL is Groq's OpenAI-compatible endpoint.
const DefaultCompletionURL = "https://api.groq.com/openai/v1/chat/completions"

type Config struct {
	Platform   string           `mapstructure:"platform"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Completion CompletionConfig `mapstructure:"completion"`
	Persona    string           `mapstructure:"persona"`
	History    HistoryConfig    `mapstructure:"history"`
	Events     EventsConfig     `mapstructure:"events"`
	Bot        BotConfig        `mapstructure:"bot"`
	Dummy      DummyConfig      `mapstructure:"dummy"`
	Log        LogConfig        `mapstructure:"log"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	APIBase       string        `mapstructure:"api_base"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	PendingWindow time.Duration `mapstructure:"pending_window"`
	// Consecutive getUpdates failures before polling pauses for FailureCooldown.
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureCooldown  time.Duration `mapstructure:"failure_cooldown"`
}

type CompletionConfig struct {
	Provider    string        `mapstructure:"provider"`
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	Window      int    `mapstructure:"window"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type EventsConfig struct {
	// DBPath is the SQLite audit log. Empty disables it.
	DBPath string `mapstructure:"db_path"`
}

type BotConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	TypingDelay   time.Duration `mapstructure:"typing_delay"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

type DummyConfig struct {
	Script         string `mapstructure:"script"`
	ProviderScript string `mapstructure:"provider_script"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform", PlatformDiscord)
	v.SetDefault("discord.token", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_base", telegram.DefaultAPIBase)
	v.SetDefault("telegram.poll_timeout", telegram.DefaultPollTimeout)
	v.SetDefault("telegram.pending_window", telegram.DefaultPendingWindow)
	v.SetDefault("telegram.failure_threshold", control.DefaultThreshold)
	v.SetDefault("telegram.failure_cooldown", control.DefaultCooldown)

	v.SetDefault("completion.provider", ProviderOpenAI)
	v.SetDefault("completion.url", DefaultCompletionURL)
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.model", DefaultModel)
	v.SetDefault("completion.temperature", openai.DefaultTemperature)
	v.SetDefault("completion.max_tokens", openai.DefaultMaxTokens)
	v.SetDefault("completion.timeout", openai.DefaultTimeout)

	v.SetDefault("persona", completion.DefaultPersona)

	v.SetDefault("history.backend", BackendFile)
	v.SetDefault("history.path", "history.json")
	v.SetDefault("history.window", history.DefaultWindow)
	v.SetDefault("history.sqlite_path", "zyro.db")
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.redis_prefix", history.DefaultRedisPrefix)

	v.SetDefault("events.db_path", "zyro-events.db")

	v.SetDefault("bot.prefix", "!")
	v.SetDefault("bot.typing_delay", 1200*time.Millisecond)
	v.SetDefault("bot.max_concurrent", 16)

	v.SetDefault("dummy.script", "")
	v.SetDefault("dummy.provider_script", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads and validates configuration.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read reads configuration without validating it, for tools that do not talk
// to a platform. An empty path looks for ./zyro.yaml and tolerates its
// absence; an explicit path must exist.
func Read(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zyro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Bare names used by existing deployments.
	for key, env := range map[string]string{
		"discord.token":      "DISCORD_TOKEN",
		"telegram.token":     "TELEGRAM_BOT_TOKEN",
		"completion.api_key": "GROQ_API_KEY",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, errors.Wrapf(err, "bind %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	c.Completion.Provider = strings.ToLower(strings.TrimSpace(c.Completion.Provider))
	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	c.Discord.Token = strings.TrimSpace(c.Discord.Token)
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	c.Completion.APIKey = strings.TrimSpace(c.Completion.APIKey)
}

// Validate reports the first invalid setting by key name.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return errors.New("discord.token (DISCORD_TOKEN) is required when platform=discord")
		}
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			return errors.New("telegram.token (TELEGRAM_BOT_TOKEN) is required when platform=telegram")
		}
	case PlatformDummy:
	default:
		return errors.Errorf("platform: unknown value %q", c.Platform)
	}

	switch c.Completion.Provider {
	case ProviderOpenAI:
		if c.Completion.APIKey == "" {
			return errors.New("completion.api_key (GROQ_API_KEY) is required when completion.provider=openai")
		}
		if c.Completion.URL == "" {
			return errors.New("completion.url must not be empty")
		}
	case ProviderDummy:
	default:
		return errors.Errorf("completion.provider: unknown value %q", c.Completion.Provider)
	}
	if c.Completion.Timeout <= 0 {
		return errors.Errorf("completion.timeout must be > 0, got %s", c.Completion.Timeout)
	}
	if c.Completion.MaxTokens <= 0 {
		return errors.Errorf("completion.max_tokens must be > 0, got %d", c.Completion.MaxTokens)
	}

	switch c.History.Backend {
	case BackendFile:
		if c.History.Path == "" {
			return errors.New("history.path must not be empty")
		}
	case BackendSQLite:
		if c.History.SQLitePath == "" {
			return errors.New("history.sqlite_path must not be empty")
		}
	case BackendRedis:
		if c.History.RedisAddr == "" {
			return errors.New("history.redis_addr must not be empty")
		}
	default:
		return errors.Errorf("history.backend: unknown value %q", c.History.Backend)
	}
	if c.History.Window < 2 || c.History.Window > history.DefaultWindow || c.History.Window%2 != 0 {
		return errors.Errorf("history.window must be an even number from 2 to %d, got %d", history.DefaultWindow, c.History.Window)
	}

	if c.Bot.TypingDelay < 0 {
		return errors.Errorf("bot.typing_delay must be >= 0, got %s", c.Bot.TypingDelay)
	}
	if c.Bot.MaxConcurrent <= 0 {
		return errors.Errorf("bot.max_concurrent must be > 0, got %d", c.Bot.MaxConcurrent)
	}
	return nil
}
