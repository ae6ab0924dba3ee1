// Package astcache implements the AST Cache (spec.md §4.2 "H2"): a
// content-hash-keyed cache of parsed Go source files, backed by
// hashicorp/golang-lru so repeated validation runs over an unchanged
// tree skip re-parsing. Parse failures are cached too (as a sentinel),
// so a persistently broken file does not get re-parsed on every run.
package astcache

import (
	"crypto/sha256"
	"encoding/hex"
	"go/ast"
	"go/parser"
	"go/token"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zerouihq/constitution-core/internal/observability"
)

// Entry is a cached parse result: either a populated File/FileSet pair
// or a non-nil ParseErr recorded so the dispatcher can surface a finding
// without reparsing.
type Entry struct {
	File     *ast.File
	FileSet  *token.FileSet
	ParseErr error
}

// Cache wraps an LRU of content-hash -> Entry.
type Cache struct {
	lru *lru.Cache[string, Entry]
	obs *observability.Handle
}

// New builds a Cache holding up to size parsed files.
func New(size int, obs *observability.Handle) (*Cache, error) {
	if size <= 0 {
		size = 2048
	}
	l, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, obs: obs}, nil
}

// Get returns the parsed AST for content, parsing (and caching the
// result, success or failure) on a cache miss.
func (c *Cache) Get(path string, content []byte) Entry {
	key := contentKey(content)
	if entry, ok := c.lru.Get(key); ok {
		if c.obs != nil {
			c.obs.Metrics.ASTCacheHits.Inc()
		}
		return entry
	}
	if c.obs != nil {
		c.obs.Metrics.ASTCacheMisses.Inc()
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	entry := Entry{File: file, FileSet: fset, ParseErr: err}
	c.lru.Add(key, entry)
	return entry
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every cached entry, forcing the next Get for each file to
// reparse (used when a validator set changes what parse mode it needs).
func (c *Cache) Purge() { c.lru.Purge() }

func contentKey(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
