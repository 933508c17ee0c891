// Package config loads application settings from a .env file and environment variables.
// Environment variables always take precedence over .env file values.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tcprescott/sahabot2/models"
)

// Config holds settings read once at start-up.
type Config struct {
	// PostgreSQL – either set DatabaseURL directly, or the individual fields.
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	// JWT signing secret (required).
	JWTSecret string

	// External racing service.
	RacingBaseURL       string
	RacingToken         string
	RacingWebhookSecret string
	RacingTimeout       time.Duration

	// Redis notification channel. Empty RedisAddr disables redis and falls
	// back to log-only notifications.
	RedisAddr string
	RedisPass string

	// Server
	Debug bool
	Port  string

	live *Live
}

// Live exposes operator-tunable knobs that are re-read from the environment on
// every call, so deadlines and cadences can change without a restart.
type Live struct {
	v *viper.Viper
}

// Load reads configuration from a .env file (if present) and then from
// environment variables. Environment variables always win.
func Load() *Config {
	v := newViper()

	// Defaults
	v.SetDefault("DB_USER", "sahabot")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "sahabot2")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PORT", ":9000")
	v.SetDefault("DEBUG", false)
	v.SetDefault("RACING_BASE_URL", "https://racetime.gg")
	v.SetDefault("RACING_TIMEOUT", "30s")

	cfg := &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBUser:              v.GetString("DB_USER"),
		DBPass:              v.GetString("DB_PASS"),
		DBHost:              v.GetString("DB_HOST"),
		DBPort:              v.GetString("DB_PORT"),
		DBName:              v.GetString("DB_NAME"),
		DBSSLMode:           v.GetString("DB_SSLMODE"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		RacingBaseURL:       v.GetString("RACING_BASE_URL"),
		RacingToken:         v.GetString("RACING_TOKEN"),
		RacingWebhookSecret: v.GetString("RACING_WEBHOOK_SECRET"),
		RacingTimeout:       v.GetDuration("RACING_TIMEOUT"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPass:           v.GetString("REDIS_PASS"),
		Debug:               v.GetBool("DEBUG"),
		Port:                v.GetString("PORT"),
		live:                newLive(v),
	}

	cfg.validate()
	return cfg
}

// PostgresDSN returns the full PostgreSQL connection string.
// DATABASE_URL takes precedence over individual fields.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

// Live returns the operator-tunable view of the configuration.
func (c *Config) Live() *Live {
	return c.live
}

func (c *Config) validate() {
	if c.DatabaseURL == "" && c.DBPass == "" {
		log.Fatal("config: DATABASE_URL or DB_PASS must be set")
	}
	if c.JWTSecret == "" {
		log.Fatal("config: JWT_SECRET must be set")
	}
	if c.RacingToken == "" {
		log.Fatal("config: RACING_TOKEN must be set")
	}
}

// NewLive returns a Live view backed by a fresh environment reader, for
// collaborators constructed without Load.
func NewLive() *Live {
	v := viper.New()
	v.AutomaticEnv()
	return newLive(v)
}

func newLive(v *viper.Viper) *Live {
	v.SetDefault("WARNING_LEAD", "10m")
	v.SetDefault("MAX_PENDING", "1h")
	v.SetDefault("MAX_IN_PROGRESS", "3h")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("POLL_INTERVAL", "5m")
	v.SetDefault("ROOM_START_DELAY", 15)
	v.SetDefault("ROOM_TIME_LIMIT_HOURS", 24)
	v.SetDefault("ROOM_CHAT_RESTRICTED", true)
	v.SetDefault("ROOM_STREAMING_REQUIRED", false)
	return &Live{v: v}
}

// WarningLead is how long before the forfeit deadline the warning fires.
func (l *Live) WarningLead() time.Duration { return l.v.GetDuration("WARNING_LEAD") }

// MaxPending is how long a claimed race may sit pending before forfeiture.
func (l *Live) MaxPending() time.Duration { return l.v.GetDuration("MAX_PENDING") }

// MaxInProgress is how long a started race may run before forfeiture.
func (l *Live) MaxInProgress() time.Duration { return l.v.GetDuration("MAX_IN_PROGRESS") }

// SweepInterval is the cadence of the timeout sweep job.
func (l *Live) SweepInterval() time.Duration { return l.v.GetDuration("SWEEP_INTERVAL") }

// PollInterval is the cadence of the room poll-reconciliation job.
func (l *Live) PollInterval() time.Duration { return l.v.GetDuration("POLL_INTERVAL") }

// RoomDefaults is the organization-level room profile, the last override level
// before hard defaults.
func (l *Live) RoomDefaults() models.RoomProfile {
	delay := l.v.GetInt("ROOM_START_DELAY")
	limit := l.v.GetInt("ROOM_TIME_LIMIT_HOURS")
	chat := l.v.GetBool("ROOM_CHAT_RESTRICTED")
	stream := l.v.GetBool("ROOM_STREAMING_REQUIRED")
	return models.RoomProfile{
		StartDelaySeconds: &delay,
		TimeLimitHours:    &limit,
		ChatRestricted:    &chat,
		StreamingRequired: &stream,
	}
}

func newViper() *viper.Viper {
	// Silently load .env – OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}
