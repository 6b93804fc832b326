package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Validation ValidationConfig `koanf:"validation"`
	Incident   IncidentConfig   `koanf:"incident"`
	Authz      AuthzConfig      `koanf:"authz"`
	Redis      RedisConfig      `koanf:"redis"`
	Audit      AuditConfig      `koanf:"audit"`
}

type ValidationConfig struct {
	CacheSizeMB        int           `koanf:"cache_size_mb" validate:"min=1"`
	CacheEntryLifetime time.Duration `koanf:"cache_entry_lifetime" validate:"min=1s"`
	FieldRiskThreshold int           `koanf:"field_risk_threshold" validate:"min=1"`
	SignatureFile      string        `koanf:"signature_file"`
}

type IncidentConfig struct {
	PlaybookFile          string        `koanf:"playbook_file"`
	FailedLoginThreshold  int           `koanf:"failed_login_threshold" validate:"min=1"`
	FailedLoginWindow     time.Duration `koanf:"failed_login_window" validate:"min=1m"`
	ExportSizeThreshold   int64         `koanf:"export_size_threshold" validate:"min=1"`
	EscalationUserCount   int           `koanf:"escalation_user_count" validate:"min=1"`
	EscalationAge         time.Duration `koanf:"escalation_age" validate:"min=1m"`
	PatternCheckInterval  time.Duration `koanf:"pattern_check_interval" validate:"min=1m"`
	PatternWindowCount    int           `koanf:"pattern_window_count" validate:"min=1"`
	DailyReviewInterval   time.Duration `koanf:"daily_review_interval" validate:"min=1m"`
	OverdueAge            time.Duration `koanf:"overdue_age" validate:"min=1h"`
	RegulatoryDeadline    time.Duration `koanf:"regulatory_deadline" validate:"min=1h"`
}

type AuthzConfig struct {
	GrantSweepInterval time.Duration `koanf:"grant_sweep_interval" validate:"min=1m"`
	MaxGrantDuration   time.Duration `koanf:"max_grant_duration" validate:"min=1m"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type AuditConfig struct {
	AlertsPerMinute int `koanf:"alerts_per_minute" validate:"min=0"`
}

// Load merges defaults, an optional YAML file, and SECURITY_-prefixed
// environment variables, then validates the result. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// SECURITY_INCIDENT__FAILED_LOGIN_THRESHOLD=10 style overrides
	err := k.Load(env.Provider("SECURITY_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SECURITY_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Validation: ValidationConfig{
			CacheSizeMB:        16,
			CacheEntryLifetime: 10 * time.Minute,
			FieldRiskThreshold: 15,
		},
		Incident: IncidentConfig{
			FailedLoginThreshold: 5,
			FailedLoginWindow:    15 * time.Minute,
			ExportSizeThreshold:  50 * 1024 * 1024,
			EscalationUserCount:  1000,
			EscalationAge:        4 * time.Hour,
			PatternCheckInterval: 15 * time.Minute,
			PatternWindowCount:   5,
			DailyReviewInterval:  24 * time.Hour,
			OverdueAge:           24 * time.Hour,
			RegulatoryDeadline:   72 * time.Hour,
		},
		Authz: AuthzConfig{
			GrantSweepInterval: 5 * time.Minute,
			MaxGrantDuration:   4 * time.Hour,
		},
		Audit: AuditConfig{
			AlertsPerMinute: 60,
		},
	}
}
