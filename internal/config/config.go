// Package config loads and validates the core's Config (spec.md §3,
// §4.9) via viper, with explicit defaults for every field that the
// storage and sync layers depend on, and go-playground/validator for
// structural checks beyond what mapstructure alone can express.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

var structValidator = validator.New()

// Load reads configuration from file and environment variables.
// Priority: env vars > config file > defaults (spec.md §4.9).
//
// Environment variables use the ZEROUI_ prefix, e.g.
// ZEROUI_PRIMARY_BACKEND, ZEROUI_DOCUMENT_CONFIG_PATH.
func Load(configPath string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, corerr.New(corerr.ConfigInvalid, err, "read config file %s", configPath)
		}
	}

	v.SetEnvPrefix("ZEROUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, corerr.New(corerr.ConfigInvalid, err, "unmarshal config")
	}

	if err := upgradeSchema(&cfg); err != nil {
		return nil, err
	}

	if err := structValidator.Struct(&cfg); err != nil {
		return nil, corerr.New(corerr.ConfigInvalid, err, "config failed validation")
	}
	return &cfg, nil
}

// upgradeSchema applies the auto-upgrade-older / reject-newer policy
// decided in SPEC_FULL.md §D.4. An empty version is treated as the
// oldest known schema and upgraded in place; a version newer than what
// this build understands is rejected rather than silently ignored.
func upgradeSchema(cfg *models.Config) error {
	switch cfg.Version {
	case "", "1.0":
		cfg.Version = models.CurrentConfigSchemaVersion
	case models.CurrentConfigSchemaVersion:
		// current, nothing to do
	default:
		return corerr.New(corerr.ConfigInvalid, nil, "config schema_version %q is newer than supported %q", cfg.Version, models.CurrentConfigSchemaVersion)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", models.CurrentConfigSchemaVersion)
	v.SetDefault("primary_backend", "Relational")
	v.SetDefault("fallback_backend", "Document")
	v.SetDefault("auto_fallback_enabled", true)
	v.SetDefault("sync_enabled", true)
	v.SetDefault("sync_interval_seconds", 30)
	v.SetDefault("conflict_resolution_policy", "NewestTimestampWins")
	v.SetDefault("catalog_dir", "./rules")
	v.SetDefault("sync_history_log_path", "")

	v.SetDefault("relational_config.path", "./data/rules.db")
	v.SetDefault("relational_config.busy_timeout_ms", 5000)
	v.SetDefault("relational_config.use_wal", true)
	v.SetDefault("relational_config.pool_size", 4)

	v.SetDefault("document_config.path", "./data/rules.json")
	v.SetDefault("document_config.atomic_writes", true)
	v.SetDefault("document_config.backup_retention", 3)
}

// Validate re-runs struct validation on an already-constructed Config,
// for callers assembling one programmatically (tests, embedders) rather
// than through Load.
func Validate(cfg *models.Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return corerr.New(corerr.ConfigInvalid, err, "config failed validation")
	}
	return nil
}
