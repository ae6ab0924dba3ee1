// Package validators holds the representative set of concrete
// Validator implementations (spec.md §5), each answering one
// validator_hint. They share the strategy the teacher's RuleEngine uses
// for its compiled rules: parse the pattern once in New*, then run the
// cheap per-file check in Validate.
package validators

import (
	"context"
	"go/ast"
	"regexp"
	"strconv"
	"strings"

	"github.com/zerouihq/constitution-core/internal/dslmatch"
	"github.com/zerouihq/constitution-core/internal/validate"
	"github.com/zerouihq/constitution-core/pkg/models"
)

func finding(rule models.Rule, line, col int, msg, snippet string) models.Finding {
	return models.Finding{
		RuleID:          rule.RuleID,
		Severity:        rule.Severity,
		Line:            line,
		Column:          col,
		Message:         msg,
		EvidenceSnippet: snippet,
		Confidence:      100,
	}
}

// ForbiddenCall flags call expressions matching a validator_hint pattern
// such as "os.Exit(*)" (spec.md §5 "forbidden_call").
type ForbiddenCall struct{}

func (ForbiddenCall) Hint() string { return "forbidden_call" }

func (ForbiddenCall) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	if f.ParseErr != nil || f.AST == nil {
		return nil, nil
	}
	pattern, err := dslmatch.Parse(rule.ValidatorArg())
	if err != nil {
		return nil, err
	}

	var out []models.Finding
	ast.Inspect(f.AST, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		site, ok := callSite(call)
		if !ok {
			return true
		}
		if pattern.Matches(site) {
			pos := f.FileSet.Position(call.Pos())
			out = append(out, finding(rule, pos.Line, pos.Column, "forbidden call: "+strings.Join(site.Path, "."), ""))
		}
		return true
	})
	return out, nil
}

func callSite(call *ast.CallExpr) (dslmatch.CallSite, bool) {
	path, ok := selectorPath(call.Fun)
	if !ok {
		return dslmatch.CallSite{}, false
	}
	args := make([]string, 0, len(call.Args))
	for _, a := range call.Args {
		if lit, ok := a.(*ast.BasicLit); ok {
			args = append(args, strings.Trim(lit.Value, `"`))
		} else {
			args = append(args, "")
		}
	}
	return dslmatch.CallSite{Path: path, Args: args}, true
}

func selectorPath(expr ast.Expr) ([]string, bool) {
	switch e := expr.(type) {
	case *ast.Ident:
		return []string{e.Name}, true
	case *ast.SelectorExpr:
		base, ok := selectorPath(e.X)
		if !ok {
			return nil, false
		}
		return append(base, e.Sel.Name), true
	default:
		return nil, false
	}
}

// ForbiddenImport flags import paths equal to rule.ValidatorArg() (an
// exact import path) (spec.md §5 "forbidden_import").
type ForbiddenImport struct{}

func (ForbiddenImport) Hint() string { return "forbidden_import" }

func (ForbiddenImport) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	if f.ParseErr != nil || f.AST == nil {
		return nil, nil
	}
	forbidden := strings.TrimSpace(rule.ValidatorArg())
	var out []models.Finding
	for _, imp := range f.AST.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if path == forbidden {
			pos := f.FileSet.Position(imp.Pos())
			out = append(out, finding(rule, pos.Line, pos.Column, "forbidden import: "+path, imp.Path.Value))
		}
	}
	return out, nil
}

// TODOComment flags "TODO"/"FIXME" comments (spec.md §5 "todo_comment").
type TODOComment struct{}

func (TODOComment) Hint() string { return "todo_comment" }

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b`)

func (TODOComment) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	if f.ParseErr != nil || f.AST == nil {
		return nil, nil
	}
	var out []models.Finding
	for _, cg := range f.AST.Comments {
		for _, c := range cg.List {
			if todoPattern.MatchString(c.Text) {
				pos := f.FileSet.Position(c.Pos())
				out = append(out, finding(rule, pos.Line, pos.Column, "unresolved TODO/FIXME comment", c.Text))
			}
		}
	}
	return out, nil
}

// LineLength flags lines longer than rule.ValidatorArg() (an integer max
// length; 120 when absent or invalid) (spec.md §5 "line_length").
type LineLength struct{}

func (LineLength) Hint() string { return "line_length" }

func (LineLength) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	max, err := strconv.Atoi(strings.TrimSpace(rule.ValidatorArg()))
	if err != nil || max <= 0 {
		max = 120
	}
	var out []models.Finding
	for i, line := range strings.Split(string(f.Content), "\n") {
		if len(line) > max {
			out = append(out, finding(rule, i+1, max+1, "line exceeds "+strconv.Itoa(max)+" characters", ""))
		}
	}
	return out, nil
}

// RequiredHeader flags files missing a required leading comment/text
// fragment, e.g. a license header (spec.md §5 "required_header").
type RequiredHeader struct{}

func (RequiredHeader) Hint() string { return "required_header" }

func (RequiredHeader) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	required := rule.ValidatorArg()
	if required == "" {
		return nil, nil
	}
	head := string(f.Content)
	if len(head) > 512 {
		head = head[:512]
	}
	if !strings.Contains(head, required) {
		return []models.Finding{finding(rule, 1, 1, "missing required header", "")}, nil
	}
	return nil, nil
}

// SecretPattern flags lines matching a regular expression naming a
// likely-leaked credential shape (spec.md §5 "secret_pattern").
type SecretPattern struct{}

func (SecretPattern) Hint() string { return "secret_pattern" }

func (SecretPattern) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	expr := rule.ValidatorArg()
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	var out []models.Finding
	for i, line := range strings.Split(string(f.Content), "\n") {
		if re.MatchString(line) {
			out = append(out, finding(rule, i+1, 1, "line matches secret pattern", "[redacted]"))
		}
	}
	return out, nil
}

// MaxFunctionLength flags function bodies longer than rule.ValidatorArg()
// (a max line count) (spec.md §5 "max_function_length").
type MaxFunctionLength struct{}

func (MaxFunctionLength) Hint() string { return "max_function_length" }

func (MaxFunctionLength) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	if f.ParseErr != nil || f.AST == nil {
		return nil, nil
	}
	max, err := strconv.Atoi(strings.TrimSpace(rule.ValidatorArg()))
	if err != nil || max <= 0 {
		max = 80
	}
	var out []models.Finding
	for _, decl := range f.AST.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		start := f.FileSet.Position(fn.Body.Lbrace)
		end := f.FileSet.Position(fn.Body.Rbrace)
		length := end.Line - start.Line
		if length > max {
			out = append(out, finding(rule, start.Line, start.Column,
				"function "+fn.Name.Name+" has "+strconv.Itoa(length)+" lines, exceeds "+strconv.Itoa(max), ""))
		}
	}
	return out, nil
}

// NamingConvention flags exported identifiers that don't match a
// required regular expression (spec.md §5 "naming_convention").
type NamingConvention struct{}

func (NamingConvention) Hint() string { return "naming_convention" }

func (NamingConvention) Validate(_ context.Context, f validate.File, rule models.Rule) ([]models.Finding, error) {
	if f.ParseErr != nil || f.AST == nil {
		return nil, nil
	}
	expr := rule.ValidatorArg()
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	var out []models.Finding
	for _, decl := range f.AST.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || !fn.Name.IsExported() {
			continue
		}
		if !re.MatchString(fn.Name.Name) {
			pos := f.FileSet.Position(fn.Pos())
			out = append(out, finding(rule, pos.Line, pos.Column, "exported function name "+fn.Name.Name+" violates naming convention", ""))
		}
	}
	return out, nil
}

// All returns one instance of every validator in this package, ready to
// register on a validate.Registry.
func All() []validate.Validator {
	return []validate.Validator{
		ForbiddenCall{},
		ForbiddenImport{},
		TODOComment{},
		LineLength{},
		RequiredHeader{},
		SecretPattern{},
		MaxFunctionLength{},
		NamingConvention{},
	}
}
