package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const ruleDoc = `
total_rules: 1
category: style
description: style rules
rules:
  - rule_id: STY-001
    title: No unresolved TODOs
    category: style
    severity: Minor
    version: "1.0.0"
    validator_hint: todo_comment
    requirements:
      - no TODO/FIXME left in shipped code
    enabled_default: true
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "style.yaml"), []byte(ruleDoc), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	content := "primary_backend: Document\n" +
		"fallback_backend: \"\"\n" +
		"sync_enabled: false\n" +
		"catalog_dir: " + catalogDir + "\n" +
		"document_config:\n  path: " + filepath.Join(dir, "rules.json") + "\n  backup_retention: 2\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func TestRun_ListRulesAfterCatalogLoad(t *testing.T) {
	configPath := writeTestConfig(t)
	err := run([]string{"list-rules", "--config", configPath})
	require.NoError(t, err)
}

func TestRun_EnableDisableRoundTrip(t *testing.T) {
	configPath := writeTestConfig(t)
	require.NoError(t, run([]string{"disable", "--config", configPath, "STY-001", "noisy"}))
	require.NoError(t, run([]string{"enable", "--config", configPath, "STY-001"}))
}

func TestRun_UnknownCommandErrors(t *testing.T) {
	configPath := writeTestConfig(t)
	err := run([]string{"bogus", "--config", configPath})
	require.Error(t, err)
}

func TestRun_NoArgsErrors(t *testing.T) {
	err := run(nil)
	require.Error(t, err)
}
