// Package config loads server configuration from config.toml, a .env file
// and LEDGER_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Lock     LockConfig
	Redis    RedisConfig
	Replay   ReplayConfig
	Log      LogConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	// Path of the SQLite file, or ":memory:".
	Path string
}

// LockConfig selects how writers of one product are serialized.
type LockConfig struct {
	Backend     string // memory, redis
	TTL         time.Duration
	WaitTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type ReplayConfig struct {
	ScheduleEnabled bool
	Interval        time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Load reads configuration. paths are searched for config.toml; a missing
// file is not an error.
func Load(paths ...string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = []string{".", "/etc/stock-ledger"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Lock: LockConfig{
			Backend:     v.GetString("lock.backend"),
			TTL:         v.GetDuration("lock.ttl"),
			WaitTimeout: v.GetDuration("lock.wait_timeout"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Replay: ReplayConfig{
			ScheduleEnabled: v.GetBool("replay.schedule_enabled"),
			Interval:        v.GetDuration("replay.interval"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "stock-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/ledger.db"
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = LockBackendMemory
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 30 * time.Second
	}
	if cfg.Lock.WaitTimeout == 0 {
		cfg.Lock.WaitTimeout = 10 * time.Second
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Replay.Interval == 0 {
		cfg.Replay.Interval = 24 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

func (c *Config) validate() error {
	switch c.Lock.Backend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, c.Lock.Backend)
	}
	if c.Lock.TTL < time.Second {
		return fmt.Errorf("lock.ttl must be at least 1s, got %s", c.Lock.TTL)
	}
	if c.Replay.ScheduleEnabled && c.Replay.Interval < time.Minute {
		return fmt.Errorf("replay.interval must be at least 1m when the schedule is enabled, got %s", c.Replay.Interval)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.App.Env == "production" }
