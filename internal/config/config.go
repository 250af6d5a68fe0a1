// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot         BotConfig         `mapstructure:"bot"`
	Database    DatabaseConfig    `mapstructure:"database"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Battle      BattleConfig      `mapstructure:"battle"`
	Progression ProgressionConfig `mapstructure:"progression"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Questions   QuestionsConfig   `mapstructure:"questions"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
}

// BotConfig holds Telegram bot configuration.
// An empty token disables the bot transport and the Telegram notification sink.
type BotConfig struct {
	Token          string `mapstructure:"token"`
	AnnounceChatID int64  `mapstructure:"announce_chat_id"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// HTTPConfig holds the admin HTTP server configuration.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// BattleConfig holds battle room rules.
type BattleConfig struct {
	MinDurationMinutes int           `mapstructure:"min_duration_minutes"`
	MaxDurationMinutes int           `mapstructure:"max_duration_minutes"`
	MaxParticipants    int           `mapstructure:"max_participants"`
	QuestionTimeout    time.Duration `mapstructure:"question_timeout"`
	ScoringRule        string        `mapstructure:"scoring_rule"`
	LobbyTTL           time.Duration `mapstructure:"lobby_ttl"`
	AutoStart          bool          `mapstructure:"auto_start"`
	WinnerShare        float64       `mapstructure:"winner_share"`
	ParticipantShare   float64       `mapstructure:"participant_share"`
}

// ProgressionConfig holds the progression model settings.
type ProgressionConfig struct {
	Timezone       string `mapstructure:"timezone"`
	StartingCoins  int64  `mapstructure:"starting_coins"`
	DailyRewardXP  int64  `mapstructure:"daily_reward_xp"`
	MaxStreakBonus int64  `mapstructure:"max_streak_multiplier"`
}

// NotifyConfig holds notification dispatcher configuration.
type NotifyConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LimitsConfig holds per-player command rate limits.
type LimitsConfig struct {
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// QuestionsConfig holds the question bank location.
type QuestionsConfig struct {
	BankPath string `mapstructure:"bank_path"`
}

// JobsConfig holds background job intervals.
type JobsConfig struct {
	LobbyExpiryInterval   time.Duration `mapstructure:"lobby_expiry_interval"`
	QuestionRetryInterval time.Duration `mapstructure:"question_retry_interval"`
	OverdueInterval       time.Duration `mapstructure:"overdue_interval"`
	JudgeInterval         time.Duration `mapstructure:"judge_interval"`
	BatchSize             int           `mapstructure:"batch_size"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the configured timezone used for calendar-day streak math.
func (p *ProgressionConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid progression.timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g., BOT_TOKEN, DATABASE_HOST, BATTLE_LOBBY_TTL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Battle.MinDurationMinutes <= 0 || c.Battle.MaxDurationMinutes < c.Battle.MinDurationMinutes {
		return fmt.Errorf("invalid battle duration range [%d, %d]",
			c.Battle.MinDurationMinutes, c.Battle.MaxDurationMinutes)
	}
	if c.Battle.MaxParticipants < 2 {
		return fmt.Errorf("battle.max_participants must be at least 2, got %d", c.Battle.MaxParticipants)
	}
	switch c.Battle.ScoringRule {
	case "exact", "partial":
	default:
		return fmt.Errorf("unknown battle.scoring_rule %q", c.Battle.ScoringRule)
	}
	if _, err := c.Progression.Location(); err != nil {
		return err
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "battlezone")
	v.SetDefault("database.name", "battlezone")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")

	// Battle defaults
	v.SetDefault("battle.min_duration_minutes", 5)
	v.SetDefault("battle.max_duration_minutes", 120)
	v.SetDefault("battle.max_participants", 16)
	v.SetDefault("battle.question_timeout", "15s")
	v.SetDefault("battle.scoring_rule", "exact")
	v.SetDefault("battle.lobby_ttl", "2h")
	v.SetDefault("battle.auto_start", true)
	v.SetDefault("battle.winner_share", 0.7)
	v.SetDefault("battle.participant_share", 0.1)

	// Progression defaults
	v.SetDefault("progression.timezone", "UTC")
	v.SetDefault("progression.starting_coins", 1000)
	v.SetDefault("progression.daily_reward_xp", 200)
	v.SetDefault("progression.max_streak_multiplier", 10)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("limits.commands_per_second", 2)
	v.SetDefault("limits.burst", 5)

	v.SetDefault("questions.bank_path", "config/questions.yaml")

	v.SetDefault("jobs.lobby_expiry_interval", "1m")
	v.SetDefault("jobs.question_retry_interval", "30s")
	v.SetDefault("jobs.overdue_interval", "30s")
	v.SetDefault("jobs.judge_interval", "1m")
	v.SetDefault("jobs.batch_size", 50)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
