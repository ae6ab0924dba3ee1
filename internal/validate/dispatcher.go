package validate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zerouihq/constitution-core/internal/astcache"
	"github.com/zerouihq/constitution-core/internal/observability"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// Dispatcher runs a set of enabled rules against a set of files with
// bounded parallelism across files and sequential validator execution
// within a file (spec.md §4.2 "H3" and §4.11 "Determinism").
type Dispatcher struct {
	registry    *Registry
	concurrency int
	obs         *observability.Handle
	ast         *astcache.Cache
}

// NewDispatcher builds a Dispatcher. concurrency bounds how many files
// are validated in parallel; 0 picks a small sane default rather than
// unbounded goroutines-per-file. ast, if non-nil, is consulted once per
// file to populate File.AST/FileSet/ParseErr ahead of every validator in
// the chain (spec.md §4.2 "H2" — the dispatcher is the AST Cache's only
// caller); a caller that has already parsed a file may leave File.AST
// set and Run will not overwrite it.
func NewDispatcher(registry *Registry, concurrency int, obs *observability.Handle, ast *astcache.Cache) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Dispatcher{registry: registry, concurrency: concurrency, obs: obs, ast: ast}
}

// Run validates every file in files against every enabled rule in
// rules, dispatching to whichever Validator rule.ValidatorHint names.
// Rules with no registered Validator are skipped (logged, not fatal —
// an unimplemented validator_hint should not abort the whole run).
//
// The returned findings are sorted deterministically by
// (file_path, line, column, rule_id), satisfying spec.md's determinism
// requirement (Testable property P8).
func (d *Dispatcher) Run(ctx context.Context, files []File, rules []models.Rule) ([]models.Finding, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	var mu sync.Mutex
	var findings []models.Finding

	for _, f := range files {
		f := d.withParse(f)
		g.Go(func() error {
			perFile, err := d.validateFile(gctx, f, rules)
			if err != nil {
				return err
			}
			mu.Lock()
			findings = append(findings, perFile...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})
	return findings, nil
}

// withParse populates f.AST/FileSet/ParseErr from the AST Cache when the
// caller hasn't already done so and content is available to parse.
func (d *Dispatcher) withParse(f File) File {
	if d.ast == nil || f.AST != nil || f.ParseErr != nil || len(f.Content) == 0 {
		return f
	}
	entry := d.ast.Get(f.Path, f.Content)
	f.AST = entry.File
	f.FileSet = entry.FileSet
	f.ParseErr = entry.ParseErr
	return f
}

func (d *Dispatcher) validateFile(ctx context.Context, f File, rules []models.Rule) ([]models.Finding, error) {
	// Rules are applied in a stable order within the file so
	// per-file finding order is itself deterministic before the
	// corpus-wide sort in Run.
	sorted := append([]models.Rule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })

	var out []models.Finding
	for _, rule := range sorted {
		validator, ok := d.registry.Lookup(rule.ValidatorHint)
		if !ok {
			if d.obs != nil {
				d.obs.Log.Warn(ctx, "validate: no validator registered for hint %q (rule %s)", rule.ValidatorHint, rule.RuleID)
			}
			continue
		}
		found, err := d.runValidator(ctx, validator, f, rule)
		if err != nil {
			if d.obs != nil {
				d.obs.Log.Warn(ctx, "validate: rule %s failed on %s: %v", rule.RuleID, f.Path, err)
			}
			out = append(out, models.Finding{
				FilePath: f.Path,
				RuleID:   rule.RuleID,
				Severity: models.SeverityInfo,
				Message:  "validator error: " + err.Error(),
			})
			continue
		}
		for i := range found {
			if found[i].FilePath == "" {
				found[i].FilePath = f.Path
			}
		}
		out = append(out, found...)
	}
	return out, nil
}

// runValidator calls validator.Validate, converting a panic into an
// error so one misbehaving validator can never crash the run (spec.md
// §7, §9 Design Notes: "Validator exceptions are caught... no validator
// can crash a run").
func (d *Dispatcher) runValidator(ctx context.Context, validator Validator, f File, rule models.Rule) (found []models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return validator.Validate(ctx, f, rule)
}
