// Package dslmatch implements a small structural pattern grammar for
// rules whose validator_hint names a forbidden (or required) call shape
// rather than a plain substring — e.g. "os.Exit(*)" or
// "fmt.Println(*)". It is grounded in the teacher's DSL grammar
// (internal/dsl/parser.go), built the same way with
// github.com/alecthomas/participle/v2, but reduced to the single shape
// a source-validator needs: a dotted call path with a wildcard-or-exact
// argument list.
package dslmatch

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Pattern is a parsed call-shape expression, e.g. pkg.Sub.Call(*) or
// fmt.Println("exact").
type Pattern struct {
	Path []string `@Ident ( "." @Ident )*`
	Args *ArgList `"(" @@ ")"`
}

// ArgList is either a bare wildcard (match any arguments) or a list of
// exact string/wildcard argument matchers (possibly empty, for a call
// with no arguments).
type ArgList struct {
	Wildcard bool   `  @"*"`
	Args     []*Arg `| ( @@ ( "," @@ )* )?`
}

// Arg is one argument matcher: a wildcard or a quoted exact string.
type Arg struct {
	Wildcard bool    `  @"*"`
	Exact    *string `| @String`
}

var dslLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[(),.]`},
	{Name: "Star", Pattern: `\*`},
})

var parserInstance = participle.MustBuild[Pattern](
	participle.Lexer(dslLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

// Parse parses a call-shape pattern string.
func Parse(input string) (*Pattern, error) {
	return parserInstance.ParseString("", input)
}

// CallSite is one call expression observed in source, as extracted by a
// validator walking the AST.
type CallSite struct {
	Path []string
	Args []string // string literal args where known; "" for non-literal args
}

// Matches reports whether call matches p. A wildcard ArgList matches any
// argument count; a non-wildcard ArgList must match argument count
// exactly, with each non-wildcard Arg requiring an exact literal match.
func (p *Pattern) Matches(call CallSite) bool {
	if len(p.Path) != len(call.Path) {
		return false
	}
	for i, seg := range p.Path {
		if seg != call.Path[i] {
			return false
		}
	}
	if p.Args.Wildcard {
		return true
	}
	if len(p.Args.Args) != len(call.Args) {
		return false
	}
	for i, arg := range p.Args.Args {
		if arg.Wildcard {
			continue
		}
		if arg.Exact == nil || unquote(*arg.Exact) != call.Args[i] {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
