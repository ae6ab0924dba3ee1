package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/pkg/corerr"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const validDocA = `
total_rules: 1
category: security
description: security rules
rules:
  - rule_id: STR-001
    title: No hardcoded credentials
    category: security
    severity: Critical
    version: "1.0.0"
    requirements:
      - must not contain literal secrets
    enabled_default: true
`

func TestLoad_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", validDocA)

	cat, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cat.Rules, 1)
	assert.Equal(t, "STR-001", cat.Rules[0].RuleID)
}

func TestLoad_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", validDocA)

	first, err := Load(dir)
	require.NoError(t, err)
	second, err := Load(dir)
	require.NoError(t, err)

	require.Equal(t, len(first.Rules), len(second.Rules))
	for i := range first.Rules {
		assert.Equal(t, first.Rules[i].RuleID, second.Rules[i].RuleID)
	}
}

func TestLoad_DuplicateIdentifier(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", `
total_rules: 1
category: security
rules:
  - rule_id: STR-001
    title: foo
    category: security
    severity: Critical
    version: "1.0.0"
`)
	writeDoc(t, dir, "b.yaml", `
total_rules: 1
category: security
rules:
  - rule_id: STR-001
    title: bar
    category: security
    severity: Major
    version: "1.0.0"
`)

	_, err := Load(dir)
	require.Error(t, err)
	var ce *corerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.LoadError, ce.Kind)
	assert.Equal(t, corerr.DuplicateIdentifier, ce.Subkind)
	assert.Equal(t, "STR-001", ce.Context["rule_id"])
}

func TestLoad_MetadataMismatch(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", `
total_rules: 2
category: security
rules:
  - rule_id: STR-001
    title: foo
    category: security
    severity: Critical
    version: "1.0.0"
`)

	_, err := Load(dir)
	require.Error(t, err)
	var ce *corerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.MetadataMismatch, ce.Subkind)
}

func TestLoad_MissingField(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", `
total_rules: 1
category: security
rules:
  - rule_id: STR-001
    title: foo
    severity: Critical
    version: "1.0.0"
`)

	_, err := Load(dir)
	require.Error(t, err)
	var ce *corerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.InvalidRule, ce.Subkind)
	assert.Equal(t, "category", ce.Context["field"])
}

func TestLoad_EmptyDescriptionWarns(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", validDocA)

	cat, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cat.Warnings, 1)
	assert.Equal(t, "empty description", cat.Warnings[0].Reason)
}
