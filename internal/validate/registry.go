// Package validate implements the Rule Registry, Validator Dispatcher,
// and Finding Aggregator (spec.md §4.2 "H1", "H3", "H4"): it maps each
// enabled Rule to the concrete Validator its validator_hint names, runs
// them across a file set with bounded parallelism, and aggregates the
// resulting Findings deterministically.
package validate

import (
	"context"
	"go/ast"
	"go/token"
	"sync"

	"github.com/zerouihq/constitution-core/pkg/models"
)

// File is one unit of work for the dispatcher: a path, its content, and
// (for validators that need it) the AST Cache's parse result, filled in
// by the Dispatcher unless the caller has already set it, so every
// validator in the chain shares one parse
// (spec.md §4.2 "H2" — the dispatcher is the AST Cache's only caller).
type File struct {
	Path     string
	Content  []byte
	AST      *ast.File
	FileSet  *token.FileSet
	ParseErr error
}

// Validator implements one validator_hint's checking logic against a
// single file for a single enabled rule (spec.md §5 "Validators").
type Validator interface {
	// Hint is the validator_hint value this Validator answers for.
	Hint() string
	// Validate inspects file under rule and returns any findings.
	Validate(ctx context.Context, file File, rule models.Rule) ([]models.Finding, error)
}

// Registry is the Rule Registry (H1): a thread-safe map from
// validator_hint to the Validator implementing it. It holds no rules; the
// enabled rules to check are passed to each Dispatcher.Run call.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register adds v under its own Hint(), replacing any prior registration
// for the same hint.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.Hint()] = v
}

// Lookup returns the Validator registered for hint, if any.
func (r *Registry) Lookup(hint string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[hint]
	return v, ok
}

// Hints returns every registered validator_hint, for diagnostics.
func (r *Registry) Hints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hints := make([]string, 0, len(r.validators))
	for h := range r.validators {
		hints = append(hints, h)
	}
	return hints
}
