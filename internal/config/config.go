package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Mode            string `mapstructure:"mode"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig selects the completion provider used for replies and titles.
type ProviderConfig struct {
	Name          string `mapstructure:"name"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	TitleModel    string `mapstructure:"title_model"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	StreamTimeout int    `mapstructure:"stream_timeout"`
	// MaxStreams caps concurrent provider streams; 0 means unlimited.
	MaxStreams int `mapstructure:"max_streams"`
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Provider     string `mapstructure:"provider"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	TokenTTL     int    `mapstructure:"token_ttl"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

type SeedConfig struct {
	TutorsOnStart bool `mapstructure:"tutors_on_start"`
}

// StreamTimeoutDuration returns the provider stream deadline.
func (p ProviderConfig) StreamTimeoutDuration() time.Duration {
	if p.StreamTimeout <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.StreamTimeout) * time.Second
}

// TokenTTLDuration returns the session token lifetime.
func (a AuthConfig) TokenTTLDuration() time.Duration {
	if a.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.TokenTTL) * time.Minute
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is tolerated; every key can be supplied via TUTORCHAT_* env vars.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("TUTORCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if isSQLite(cfg.Database.Driver) && cfg.Database.DSN != ":memory:" && !filepath.IsAbs(cfg.Database.DSN) &&
		!strings.HasPrefix(cfg.Database.DSN, "file:") {
		cfg.Database.DSN = filepath.Join(filepath.Dir(absPath), cfg.Database.DSN)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be configured")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch strings.ToLower(c.Provider.Name) {
	case "openai", "claude", "gemini", "mock":
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider.Name)
	}
	if c.Auth.Enabled {
		switch strings.ToLower(c.Auth.Provider) {
		case "discord", "github":
		default:
			return fmt.Errorf("unknown auth provider: %s", c.Auth.Provider)
		}
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			return fmt.Errorf("auth.client_id and auth.client_secret are required when auth is enabled")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "tutorchat.db")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.base_url", "https://api.studio.nebius.com/v1/")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.model", "deepseek-ai/DeepSeek-R1-Distill-Llama-70B")
	v.SetDefault("provider.title_model", "")
	v.SetDefault("provider.max_tokens", 3000)
	v.SetDefault("provider.stream_timeout", 120)
	v.SetDefault("provider.max_streams", 0)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.provider", "discord")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "http://localhost:8090/api/auth/callback")
	v.SetDefault("auth.token_ttl", 24*60)
	v.SetDefault("auth.cookie_secure", false)

	v.SetDefault("log.file", "logs/tutorchat.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", false)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.metrics_enabled", true)

	v.SetDefault("seed.tutors_on_start", true)
}

// bindLegacyEnv keeps the deployment variable names used by existing environments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("provider.api_key", "TUTORCHAT_PROVIDER_API_KEY", "NEBIUS_API_KEY")
	_ = v.BindEnv("database.dsn", "TUTORCHAT_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("auth.client_id", "TUTORCHAT_AUTH_CLIENT_ID", "DISCORD_ID", "GITHUB_ID")
	_ = v.BindEnv("auth.client_secret", "TUTORCHAT_AUTH_CLIENT_SECRET", "DISCORD_SECRET", "GITHUB_SECRET")
}

func isSQLite(driver string) bool {
	d := strings.ToLower(driver)
	return d == "sqlite" || d == "sqlite3"
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
