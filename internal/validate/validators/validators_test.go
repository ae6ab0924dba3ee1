package validators

import (
	"context"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/internal/validate"
	"github.com/zerouihq/constitution-core/pkg/models"
)

func parse(t *testing.T, src string) validate.File {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "sample.go", src, parser.ParseComments)
	require.NoError(t, err)
	return validate.File{Path: "sample.go", Content: []byte(src), AST: f, FileSet: fset}
}

const sampleSrc = `package sample

import "os"

// TODO: remove this hack
func doStuff() {
	os.Exit(1)
	fmt.Println("hello")
}
`

func TestForbiddenCall_FlagsMatchingCallShape(t *testing.T) {
	f := parse(t, sampleSrc)
	rule := models.Rule{RuleID: "R-1", Severity: models.SeverityBlocker, Requirements: []string{"os.Exit(*)"}}

	findings, err := ForbiddenCall{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "R-1", findings[0].RuleID)
}

func TestForbiddenCall_NoMatchWhenShapeDiffers(t *testing.T) {
	f := parse(t, sampleSrc)
	rule := models.Rule{RuleID: "R-1", Requirements: []string{"os.Remove(*)"}}

	findings, err := ForbiddenCall{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestForbiddenImport_FlagsExactPath(t *testing.T) {
	f := parse(t, sampleSrc)
	rule := models.Rule{RuleID: "R-2", Requirements: []string{"os"}}

	findings, err := ForbiddenImport{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestTODOComment_Flags(t *testing.T) {
	f := parse(t, sampleSrc)
	rule := models.Rule{RuleID: "R-3"}

	findings, err := TODOComment{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].EvidenceSnippet, "TODO")
}

func TestLineLength_FlagsLongLines(t *testing.T) {
	long := "package sample\n\nvar x = \"" + string(make([]byte, 200)) + "\"\n"
	rule := models.Rule{RuleID: "R-4", Requirements: []string{"40"}}

	findings, err := LineLength{}.Validate(context.Background(), validate.File{Path: "s.go", Content: []byte(long)}, rule)
	require.NoError(t, err)
	assert.NotEmpty(t, findings)
}

func TestRequiredHeader_FlagsMissingHeader(t *testing.T) {
	rule := models.Rule{RuleID: "R-5", Requirements: []string{"Copyright"}}
	findings, err := RequiredHeader{}.Validate(context.Background(), validate.File{Path: "s.go", Content: []byte("package sample\n")}, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	findings, err = RequiredHeader{}.Validate(context.Background(), validate.File{Path: "s.go", Content: []byte("// Copyright 2026\npackage sample\n")}, rule)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSecretPattern_FlagsMatch(t *testing.T) {
	rule := models.Rule{RuleID: "R-6", Requirements: []string{`sk-[a-zA-Z0-9]{16,}`}}
	src := []byte("apiKey := \"sk-abcdefghijklmnopqrstuvwxyz\"\n")

	findings, err := SecretPattern{}.Validate(context.Background(), validate.File{Path: "s.go", Content: src}, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "[redacted]", findings[0].EvidenceSnippet)
}

func TestMaxFunctionLength_FlagsLongFunction(t *testing.T) {
	src := "package sample\n\nfunc big() {\n"
	for i := 0; i < 100; i++ {
		src += "\t_ = 1\n"
	}
	src += "}\n"
	f := parse(t, src)
	rule := models.Rule{RuleID: "R-7", Requirements: []string{"10"}}

	findings, err := MaxFunctionLength{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestNamingConvention_FlagsViolation(t *testing.T) {
	src := "package sample\n\nfunc BadlyNamed_Func() {}\n"
	f := parse(t, src)
	rule := models.Rule{RuleID: "R-8", Requirements: []string{`^[A-Z][a-zA-Z0-9]*$`}}

	findings, err := NamingConvention{}.Validate(context.Background(), f, rule)
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestAll_RegistersEveryHintOnce(t *testing.T) {
	seen := make(map[string]bool)
	for _, v := range All() {
		assert.False(t, seen[v.Hint()], "duplicate hint %s", v.Hint())
		seen[v.Hint()] = true
	}
	assert.Len(t, seen, 8)
}
