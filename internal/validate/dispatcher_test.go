package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/pkg/models"
)

type fixedValidator struct {
	hint     string
	findings []models.Finding
}

func (v fixedValidator) Hint() string { return v.hint }
func (v fixedValidator) Validate(_ context.Context, f File, rule models.Rule) ([]models.Finding, error) {
	var out []models.Finding
	for _, fnd := range v.findings {
		fnd.FilePath = f.Path
		fnd.RuleID = rule.RuleID
		out = append(out, fnd)
	}
	return out, nil
}

func TestDispatcher_Run_DeterministicOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(fixedValidator{hint: "always-flag", findings: []models.Finding{
		{Line: 5, Severity: models.SeverityMajor, Message: "x"},
	}})

	d := NewDispatcher(reg, 4, nil, nil)
	files := []File{{Path: "b.go"}, {Path: "a.go"}}
	rules := []models.Rule{
		{RuleID: "R-2", ValidatorHint: "always-flag", Severity: models.SeverityMajor},
		{RuleID: "R-1", ValidatorHint: "always-flag", Severity: models.SeverityMajor},
	}

	findings, err := d.Run(context.Background(), files, rules)
	require.NoError(t, err)
	require.Len(t, findings, 4)
	assert.Equal(t, "a.go", findings[0].FilePath)
	assert.Equal(t, "R-1", findings[0].RuleID)
	assert.Equal(t, "b.go", findings[2].FilePath)
}

type erroringValidator struct{}

func (erroringValidator) Hint() string { return "always-error" }
func (erroringValidator) Validate(context.Context, File, models.Rule) ([]models.Finding, error) {
	return nil, errors.New("boom")
}

type panickingValidator struct{}

func (panickingValidator) Hint() string { return "always-panic" }
func (panickingValidator) Validate(context.Context, File, models.Rule) ([]models.Finding, error) {
	panic("unexpected nil dereference")
}

func TestDispatcher_Run_ValidatorErrorBecomesInfoFinding(t *testing.T) {
	reg := NewRegistry()
	reg.Register(erroringValidator{})
	d := NewDispatcher(reg, 4, nil, nil)
	rules := []models.Rule{{RuleID: "R-1", ValidatorHint: "always-error"}}

	findings, err := d.Run(context.Background(), []File{{Path: "a.go"}}, rules)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.SeverityInfo, findings[0].Severity)
	assert.Equal(t, "R-1", findings[0].RuleID)
	assert.Contains(t, findings[0].Message, "boom")
}

func TestDispatcher_Run_ValidatorPanicDoesNotCrashRun(t *testing.T) {
	reg := NewRegistry()
	reg.Register(panickingValidator{})
	reg.Register(fixedValidator{hint: "always-flag", findings: []models.Finding{
		{Line: 1, Severity: models.SeverityMajor, Message: "x"},
	}})
	d := NewDispatcher(reg, 4, nil, nil)
	rules := []models.Rule{
		{RuleID: "R-1", ValidatorHint: "always-panic"},
		{RuleID: "R-2", ValidatorHint: "always-flag"},
	}

	findings, err := d.Run(context.Background(), []File{{Path: "a.go"}}, rules)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	var sawPanicFinding, sawOtherFinding bool
	for _, f := range findings {
		if f.RuleID == "R-1" {
			sawPanicFinding = true
			assert.Equal(t, models.SeverityInfo, f.Severity)
			assert.Contains(t, f.Message, "validator error")
		}
		if f.RuleID == "R-2" {
			sawOtherFinding = true
		}
	}
	assert.True(t, sawPanicFinding)
	assert.True(t, sawOtherFinding)
}

func TestDispatcher_Run_SkipsUnregisteredHint(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, 4, nil, nil)
	rules := []models.Rule{{RuleID: "R-1", ValidatorHint: "missing"}}

	findings, err := d.Run(context.Background(), []File{{Path: "a.go"}}, rules)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestAggregate_DedupesAndFilters(t *testing.T) {
	findings := []models.Finding{
		{FilePath: "a.go", Line: 1, RuleID: "R-1", Severity: models.SeverityMinor, Message: "m"},
		{FilePath: "a.go", Line: 1, RuleID: "R-1", Severity: models.SeverityMinor, Message: "m"}, // exact dup
		{FilePath: "a.go", Line: 2, RuleID: "R-2", Severity: models.SeverityBlocker, Message: "n"},
	}
	run := Aggregate(findings, models.SeverityMajor)
	require.Len(t, run.Findings, 1)
	assert.Equal(t, "R-2", run.Findings[0].RuleID)
	assert.Equal(t, 1, run.CountsBySeverity[models.SeverityBlocker])

	// the Minor finding is filtered out of Findings by minSeverity, but
	// counts are computed before filtering (spec.md Testable Property
	// P9) so it must still show up here.
	assert.Equal(t, 1, run.CountsBySeverity[models.SeverityMinor])
	assert.Equal(t, 1, run.CountsByRule["R-1"])
	assert.Equal(t, 1, run.CountsByRule["R-2"])
}
