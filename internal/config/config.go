package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	defaultSecret   = "dev-secret-change-me"
	defaultPassword = "peace81!"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DBDriver    string
	DatabaseDSN string

	JWTSecret        string
	SessionTTLDays   int
	Users            []string
	Admins           []string
	UserPassword     string
	UserPasswordHash string

	PushEnabled     bool
	PushSubscriber  string
	PushWorkers     int
	PushMaxFailures int

	HeartbeatSeconds      int
	SweepIntervalMinutes  int
	MessageTTLHours       int
	SubscriptionStaleDays int

	MediaDir    string
	UploadDir   string
	KeysDir     string
	StaticDir   string
	MaxUploadMB int
}

var defaults = map[string]any{
	"APP_PORT":                "8080",
	"APP_ENV":                 "dev",
	"LOG_LEVEL":               "info",
	"DB_DRIVER":               "sqlite",
	"DATABASE_DSN":            "storage/koala.db",
	"JWT_SECRET":              defaultSecret,
	"SESSION_TTL_DAYS":        30,
	"USERS":                   "아빠,엄마,첫째,둘째",
	"ADMINS":                  "아빠,엄마",
	"USER_PASSWORD":           defaultPassword,
	"USER_PASSWORD_HASH":      "",
	"PUSH_ENABLED":            true,
	"PUSH_SUBSCRIBER":         "admin@example.com",
	"PUSH_WORKERS":            4,
	"PUSH_MAX_FAILURES":       5,
	"HEARTBEAT_SECONDS":       15,
	"SWEEP_INTERVAL_MINUTES":  60,
	"MESSAGE_TTL_HOURS":       24,
	"SUBSCRIPTION_STALE_DAYS": 90,
	"MEDIA_DIR":               "storage/audio",
	"UPLOAD_DIR":              "storage/uploads",
	"KEYS_DIR":                "storage/keys",
	"STATIC_DIR":              "static",
	"MAX_UPLOAD_MB":           50,
}

// Load 读取默认值、可选的 config.yaml（当前目录或 config/）以及环境变量，环境变量优先。
func Load() Config {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn().Err(err).Msg("config file ignored")
		}
	}
	v.AutomaticEnv()

	return Config{
		Port:        v.GetString("APP_PORT"),
		Env:         v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		DBDriver:    strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseDSN: v.GetString("DATABASE_DSN"),

		JWTSecret:        v.GetString("JWT_SECRET"),
		SessionTTLDays:   positiveInt(v, "SESSION_TTL_DAYS"),
		Users:            splitList(v.GetString("USERS")),
		Admins:           splitList(v.GetString("ADMINS")),
		UserPassword:     v.GetString("USER_PASSWORD"),
		UserPasswordHash: v.GetString("USER_PASSWORD_HASH"),

		PushEnabled:     v.GetBool("PUSH_ENABLED"),
		PushSubscriber:  v.GetString("PUSH_SUBSCRIBER"),
		PushWorkers:     positiveInt(v, "PUSH_WORKERS"),
		PushMaxFailures: nonNegativeInt(v, "PUSH_MAX_FAILURES"),

		HeartbeatSeconds:      positiveInt(v, "HEARTBEAT_SECONDS"),
		SweepIntervalMinutes:  positiveInt(v, "SWEEP_INTERVAL_MINUTES"),
		MessageTTLHours:       positiveInt(v, "MESSAGE_TTL_HOURS"),
		SubscriptionStaleDays: positiveInt(v, "SUBSCRIPTION_STALE_DAYS"),

		MediaDir:    v.GetString("MEDIA_DIR"),
		UploadDir:   v.GetString("UPLOAD_DIR"),
		KeysDir:     v.GetString("KEYS_DIR"),
		StaticDir:   v.GetString("STATIC_DIR"),
		MaxUploadMB: positiveInt(v, "MAX_UPLOAD_MB"),
	}
}

// Validate 校验配置的合法性，生产环境必须更换默认 JWT secret。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.DBDriver != "" && cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER %q is not supported", cfg.DBDriver)
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	if len(cfg.Users) == 0 {
		return errors.New("USERS must list at least one user")
	}
	for _, a := range cfg.Admins {
		if !contains(cfg.Users, a) {
			return fmt.Errorf("admin %q is not in USERS", a)
		}
	}
	return nil
}

func (c Config) Heartbeat() time.Duration { return time.Duration(c.HeartbeatSeconds) * time.Second }

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c Config) MessageTTL() time.Duration { return time.Duration(c.MessageTTLHours) * time.Hour }

func (c Config) SubscriptionStale() time.Duration {
	return time.Duration(c.SubscriptionStaleDays) * 24 * time.Hour
}

func (c Config) SessionTTL() time.Duration { return time.Duration(c.SessionTTLDays) * 24 * time.Hour }

func (c Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// positiveInt 读取正整数，非法或非正值回退到默认值。
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func nonNegativeInt(v *viper.Viper, key string) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "0" {
		return 0
	}
	return positiveInt(v, key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" && !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
