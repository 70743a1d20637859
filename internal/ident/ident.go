// Package ident turns uncontrolled spreadsheet metadata (sheet titles,
// header cells) into identifiers that DuckDB accepts without quoting rules
// getting in the way.
package ident

import (
	"strconv"
	"strings"
)

// Sanitize converts an arbitrary name into a lower-case identifier made of
// ASCII letters, digits and underscores.
//
// Spaces and hyphens become underscores, every other rune outside
// [A-Za-z0-9_] is dropped, and underscores left dangling at either end are
// trimmed. The result may be empty; callers reject empty identifiers when a
// mapping is finalized.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
		case r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return strings.Trim(b.String(), "_")
}

// Scope hands out unique identifiers within one naming scope, such as all
// table names of an upload batch or all columns of a single sheet.
//
// The first claim of a base name gets the bare name, the second gets
// base_2, the third base_3, and so on in first-seen order. Results depend on
// claim order, so callers must claim in a stable order.
type Scope struct {
	seen  map[string]int
	taken map[string]struct{}
}

// NewScope returns an empty naming scope.
func NewScope() *Scope {
	return &Scope{
		seen:  make(map[string]int),
		taken: make(map[string]struct{}),
	}
}

// Claim reserves a unique identifier derived from base.
// Empty bases are returned unchanged and reserve nothing.
func (s *Scope) Claim(base string) string {
	if base == "" {
		return ""
	}

	n := s.seen[base] + 1
	s.seen[base] = n

	name := base
	if n > 1 {
		name = base + "_" + strconv.Itoa(n)
	}

	// A raw name may already have sanitized to what would be our suffixed
	// candidate (e.g. "q1_sales_2"); keep counting until a free slot appears.
	for {
		if _, dup := s.taken[name]; !dup {
			break
		}
		n++
		s.seen[base] = n
		name = base + "_" + strconv.Itoa(n)
	}

	s.taken[name] = struct{}{}
	return name
}

// Taken reports whether name has already been handed out by this scope.
func (s *Scope) Taken(name string) bool {
	_, ok := s.taken[name]
	return ok
}

// Dedupe claims every name in order within a fresh scope.
func Dedupe(names []string) []string {
	scope := NewScope()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = scope.Claim(name)
	}
	return out
}
