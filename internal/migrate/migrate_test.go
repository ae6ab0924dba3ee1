package migrate

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/internal/store/document"
	"github.com/zerouihq/constitution-core/pkg/models"
)

func sampleRule(id string) models.Rule {
	return models.Rule{RuleID: id, Title: "t", Category: "security", Severity: models.SeverityMajor, Version: "1.0.0", EnabledDefault: true}
}

func TestTool_Migrate_Succeeds(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	src := document.New(fs, "/src/rules.json", 1)
	dst := document.New(fs, "/dst/rules.json", 1)
	require.NoError(t, src.LoadCatalog(ctx, []models.Rule{sampleRule("R-1"), sampleRule("R-2")}))

	tool := New(nil)
	rec, err := tool.Migrate(ctx, src, dst, models.BackendRelational, models.BackendDocument)
	require.NoError(t, err)
	assert.True(t, rec.Succeeded)
	assert.Equal(t, 2, rec.RuleCount)

	dstRec, err := dst.GetRule(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, "R-1", dstRec.Rule.RuleID)

	require.Len(t, tool.History(), 1)
}

func TestTool_Migrate_EmptySourceSucceeds(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	src := document.New(fs, "/src/rules.json", 1)
	dst := document.New(fs, "/dst/rules.json", 1)

	tool := New(nil)
	rec, err := tool.Migrate(ctx, src, dst, models.BackendRelational, models.BackendDocument)
	require.NoError(t, err)
	assert.True(t, rec.Succeeded)
	assert.Zero(t, rec.RuleCount)
}
