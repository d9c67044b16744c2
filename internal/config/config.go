package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string          `yaml:"discord_token"`
	DatabasePath string          `yaml:"database_path"`
	AuditDBPath  string          `yaml:"audit_db_path"`
	LogLevel     string          `yaml:"log_level"`
	Health       HealthConfig    `yaml:"health"`
	AntiSpam     AntiSpamConfig  `yaml:"antispam"`
	Mute         MuteConfig      `yaml:"mute"`
	Reports      ReportsConfig   `yaml:"reports"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AntiSpamConfig struct {
	Messages      int `yaml:"messages"`
	WindowSeconds int `yaml:"window_seconds"`
	MuteMinutes   int `yaml:"mute_minutes"`
}

type MuteConfig struct {
	RoleName string `yaml:"role_name"`
}

type ReportsConfig struct {
	ChannelName          string `yaml:"channel_name"`
	CategoryName         string `yaml:"category_name"`
	ReasonTimeoutSeconds int    `yaml:"reason_timeout_seconds"`
	CancelKeyword        string `yaml:"cancel_keyword"`
}

type SchedulerConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	AuditRetentionDays   int `yaml:"audit_retention_days"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/flexguard.db",
		AuditDBPath:  "/data/flexguard-audit.db",
		LogLevel:     "info",
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		AntiSpam: AntiSpamConfig{
			Messages:      5,
			WindowSeconds: 3,
			MuteMinutes:   5,
		},
		Mute: MuteConfig{RoleName: "Muted"},
		Reports: ReportsConfig{
			ChannelName:          "reportes",
			CategoryName:         "Moderación",
			ReasonTimeoutSeconds: 30,
			CancelKeyword:        "cancelar",
		},
		Scheduler: SchedulerConfig{SweepIntervalSeconds: 60, AuditRetentionDays: 90},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.AuditDBPath = envString("AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.AntiSpam.Messages = envInt("SPAM_MESSAGES", cfg.AntiSpam.Messages)
	cfg.AntiSpam.WindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.AntiSpam.WindowSeconds)
	cfg.AntiSpam.MuteMinutes = envInt("SPAM_MUTE_MINUTES", cfg.AntiSpam.MuteMinutes)
	cfg.Mute.RoleName = envString("MUTE_ROLE_NAME", cfg.Mute.RoleName)
	cfg.Reports.ChannelName = envString("REPORTS_CHANNEL_NAME", cfg.Reports.ChannelName)
	cfg.Reports.CategoryName = envString("REPORTS_CATEGORY_NAME", cfg.Reports.CategoryName)
	cfg.Reports.ReasonTimeoutSeconds = envInt("REPORTS_REASON_TIMEOUT_SECONDS", cfg.Reports.ReasonTimeoutSeconds)
	cfg.Reports.CancelKeyword = envString("REPORTS_CANCEL_KEYWORD", cfg.Reports.CancelKeyword)
	cfg.Scheduler.SweepIntervalSeconds = envInt("SWEEP_INTERVAL_SECONDS", cfg.Scheduler.SweepIntervalSeconds)
	cfg.Scheduler.AuditRetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.Scheduler.AuditRetentionDays)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
