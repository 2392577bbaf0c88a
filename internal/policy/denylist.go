// Package policy implements the package denylist: name normalization, the
// prefix membership rule, and an optional supplemental rule set for
// operators who need more than a static list.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// normalize trims and lower-cases name and collapses runs of '-', '_', '.'
// into a single '-' the way pip/PyPI treat package-name separators as
// equivalent.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	lastWasSep := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			if !lastWasSep {
				b.WriteByte('-')
				lastWasSep = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSep = false
	}
	return b.String()
}

// Normalize exposes the normalization rule for callers; the HTTP layer logs
// the normalized form when it rejects a denied package.
func Normalize(name string) string { return normalize(name) }

// Denylist tests package names against a static list plus an optional set
// of CEL expressions evaluated over the normalized candidate name. The CEL
// rules are purely additive: with none configured, Denylist behaves exactly
// like the plain normalize+prefix algorithm spec.md §4.1 describes.
type Denylist struct {
	entries []string // already normalized, fixed at construction

	mu           sync.RWMutex
	supplemental []string // already normalized, replaceable at runtime
	rules        []cel.Program
}

// New builds a Denylist from a comma-style list of raw (un-normalized) entry
// strings. Duplicate normalized forms are kept (membership test is
// idempotent either way).
func New(entries []string) *Denylist {
	d := &Denylist{entries: make([]string, 0, len(entries))}
	for _, e := range entries {
		if e == "" {
			continue
		}
		d.entries = append(d.entries, normalize(e))
	}
	return d
}

// WithCELRules compiles a set of supplemental CEL expressions. Each
// expression receives a single variable, `name` (the normalized candidate),
// and must evaluate to a bool; a true result denies the package. A
// compilation error is returned immediately so misconfiguration fails at
// startup rather than silently never-denying.
func (d *Denylist) WithCELRules(exprs []string) error {
	if len(exprs) == 0 {
		return nil
	}
	env, err := cel.NewEnv(cel.Variable("name", cel.StringType))
	if err != nil {
		return fmt.Errorf("policy: build cel env: %w", err)
	}
	rules := make([]cel.Program, 0, len(exprs))
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("policy: compile cel rule %q: %w", expr, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("policy: build cel program %q: %w", expr, err)
		}
		rules = append(rules, prg)
	}
	d.rules = rules
	return nil
}

// SetSupplemental replaces the runtime-reloadable entry set, normalizing
// each one. Intended for a file watcher that picks up newly reported
// packages without a process restart; the static entries from New remain
// in force regardless.
func (d *Denylist) SetSupplemental(entries []string) {
	normalized := make([]string, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		normalized = append(normalized, normalize(e))
	}
	d.mu.Lock()
	d.supplemental = normalized
	d.mu.Unlock()
}

// Denied reports whether packageName is blocked, either by an exact
// normalized match, a normalized-prefix match ("<entry>-..."), or a
// supplemental CEL rule evaluating true.
func (d *Denylist) Denied(packageName string) bool {
	candidate := normalize(packageName)
	for _, blocked := range d.entries {
		if candidate == blocked || strings.HasPrefix(candidate, blocked+"-") {
			return true
		}
	}
	d.mu.RLock()
	supplemental := d.supplemental
	d.mu.RUnlock()
	for _, blocked := range supplemental {
		if candidate == blocked || strings.HasPrefix(candidate, blocked+"-") {
			return true
		}
	}
	for _, rule := range d.rules {
		out, _, err := rule.Eval(map[string]any{"name": candidate})
		if err != nil {
			continue // a misbehaving supplemental rule must not block admission
		}
		if b, ok := out.Value().(bool); ok && b {
			return true
		}
	}
	return false
}
