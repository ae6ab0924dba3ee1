package models

// ConflictPolicy selects how the Sync Manager resolves a divergent record
// between backends (spec.md §4.7).
type ConflictPolicy string

const (
	PrimaryWins        ConflictPolicy = "PrimaryWins"
	NewestTimestampWins ConflictPolicy = "NewestTimestampWins"
	FailOnConflict     ConflictPolicy = "FailOnConflict"
)

// CurrentConfigSchemaVersion is the only config schema version this core
// understands without an upgrade step (SPEC_FULL.md §D.4).
const CurrentConfigSchemaVersion = "2.0"

// RelationalConfig configures the embedded relational backend.
type RelationalConfig struct {
	Path          string `mapstructure:"path" validate:"required"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms" validate:"gte=0"`
	UseWAL        bool   `mapstructure:"use_wal"`
	PoolSize      int    `mapstructure:"pool_size" validate:"gte=1"`
}

// DocumentConfig configures the single-file document backend.
type DocumentConfig struct {
	Path            string `mapstructure:"path" validate:"required"`
	AtomicWrites    bool   `mapstructure:"atomic_writes"`
	BackupRetention int    `mapstructure:"backup_retention" validate:"gte=1"`
}

// Config is the validated configuration document (spec.md §3, §4.9).
type Config struct {
	Version                 string           `mapstructure:"version" validate:"required"`
	PrimaryBackend          BackendKind      `mapstructure:"primary_backend" validate:"required,oneof=Relational Document"`
	FallbackBackend         BackendKind      `mapstructure:"fallback_backend" validate:"omitempty,oneof=Relational Document"`
	AutoFallbackEnabled     bool             `mapstructure:"auto_fallback_enabled"`
	SyncEnabled             bool             `mapstructure:"sync_enabled"`
	SyncIntervalSeconds     int              `mapstructure:"sync_interval_seconds" validate:"gte=0"`
	ConflictResolutionPolicy ConflictPolicy  `mapstructure:"conflict_resolution_policy" validate:"required,oneof=PrimaryWins NewestTimestampWins FailOnConflict"`
	RelationalConfig        RelationalConfig `mapstructure:"relational_config" validate:"required"`
	DocumentConfig          DocumentConfig   `mapstructure:"document_config" validate:"required"`

	// SyncHistoryLogPath, if set, appends one JSON line per
	// reconciliation pass to a rotating log file (spec.md §4.7 "Sync
	// history"), independent of the bounded in-memory ring the Sync
	// Manager also keeps. Empty disables the file log.
	SyncHistoryLogPath string `mapstructure:"sync_history_log_path"`

	// CatalogDir is the directory of rule source documents consumed by
	// the Rule Catalog Loader (spec.md §6.1). Not part of the original
	// Config field list in §3, but required to wire §4.1 into §4.9's
	// loader; mapstructure tag keeps it loadable from the same document.
	CatalogDir string `mapstructure:"catalog_dir" validate:"required"`
}
