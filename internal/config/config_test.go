package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

func TestLoad_DefaultsApplyWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.CurrentConfigSchemaVersion, cfg.Version)
	assert.Equal(t, models.BackendRelational, cfg.PrimaryBackend)
	assert.Equal(t, models.BackendDocument, cfg.FallbackBackend)
	assert.Equal(t, models.NewestTimestampWins, cfg.ConflictResolutionPolicy)
	assert.Equal(t, 4, cfg.RelationalConfig.PoolSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
primary_backend: Document
fallback_backend: ""
sync_enabled: false
document_config:
  path: /var/lib/zeroui/rules.json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.BackendDocument, cfg.PrimaryBackend)
	assert.False(t, cfg.SyncEnabled)
	assert.Equal(t, "/var/lib/zeroui/rules.json", cfg.DocumentConfig.Path)
}

func TestLoad_OlderSchemaVersionUpgrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.CurrentConfigSchemaVersion, cfg.Version)
}

func TestLoad_NewerSchemaVersionRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"99.0\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var ce *corerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.ConfigInvalid, ce.Kind)
}

func TestLoad_MissingRequiredConfigFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsMissingPrimaryBackend(t *testing.T) {
	cfg := &models.Config{
		Version:                  models.CurrentConfigSchemaVersion,
		ConflictResolutionPolicy: models.PrimaryWins,
		RelationalConfig:         models.RelationalConfig{Path: "x", PoolSize: 1},
		DocumentConfig:           models.DocumentConfig{Path: "y", BackupRetention: 1},
		CatalogDir:               "z",
	}
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := &models.Config{
		Version:                  models.CurrentConfigSchemaVersion,
		PrimaryBackend:           models.BackendRelational,
		ConflictResolutionPolicy: models.PrimaryWins,
		RelationalConfig:         models.RelationalConfig{Path: "x", PoolSize: 1},
		DocumentConfig:           models.DocumentConfig{Path: "y", BackupRetention: 1},
		CatalogDir:               "z",
	}
	assert.NoError(t, Validate(cfg))
}
