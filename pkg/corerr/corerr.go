// Package corerr defines the taxonomy-level error kinds the core returns
// to embedders (spec.md §7). Callers branch on Kind, never on a backend
// or component-specific error type.
package corerr

import "fmt"

// Kind is one of the taxonomy entries from spec.md §7. It implements
// error so callers can write errors.Is(err, corerr.NotFound) directly.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	NotFound                 Kind = "NotFound"
	InvalidInput             Kind = "InvalidInput"
	ConfigInvalid            Kind = "ConfigInvalid"
	LoadError                Kind = "LoadError"
	BackendUnavailable       Kind = "BackendUnavailable"
	BackendCorrupt           Kind = "BackendCorrupt"
	IncompatibleSchema       Kind = "IncompatibleSchema"
	ConflictUnresolvable     Kind = "ConflictUnresolvable"
	MigrationIntegrityFailure Kind = "MigrationIntegrityFailure"
	Cancelled                Kind = "Cancelled"
	Timeout                  Kind = "Timeout"
)

// LoadSubkind narrows a LoadError per spec.md §4.1.
type LoadSubkind string

const (
	DuplicateIdentifier LoadSubkind = "DuplicateIdentifier"
	InvalidRule         LoadSubkind = "InvalidRule"
	MetadataMismatch    LoadSubkind = "MetadataMismatch"
)

// CoreError is the structured error type every public operation returns
// (spec.md §7 "User-visible behavior"). It carries a Kind, a human
// message, and free-form Context for embedders to log or display.
type CoreError struct {
	Kind    Kind
	Subkind LoadSubkind
	Message string
	Context map[string]any
	cause   error
}

func (e *CoreError) Error() string {
	if e.Subkind != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Subkind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.cause }

// Is lets errors.Is(err, corerr.NotFound) style checks work against a
// bare Kind sentinel as well as against another *CoreError.
func (e *CoreError) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	other, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind && (other.Subkind == "" || e.Subkind == other.Subkind)
}

// New builds a CoreError with the given kind and formatted message.
func New(kind Kind, cause error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewLoad builds a LoadError with a subkind and structured context, e.g.
// DuplicateIdentifier{rule_id, first_file, second_file}.
func NewLoad(sub LoadSubkind, context map[string]any, format string, args ...any) *CoreError {
	return &CoreError{Kind: LoadError, Subkind: sub, Message: fmt.Sprintf(format, args...), Context: context}
}

// WithContext attaches structured context and returns the receiver for
// chaining at the construction site.
func (e *CoreError) WithContext(ctx map[string]any) *CoreError {
	e.Context = ctx
	return e
}
