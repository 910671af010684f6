// Package router provides path-based request routing over immutable
// route-table snapshots.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/CK-Technology/ghostpanel/internal/util"
)

// InternalStatsPool is the reserved pool name resolving to the
// built-in statistics handler.
const InternalStatsPool = "@stats"

// CatchAllPattern matches every path.
const CatchAllPattern = "/*"

// Rule is one routing rule. Rules are matched case-sensitively against
// the request path only; query strings are never consulted.
type Rule struct {
	Pattern      string
	Pool         string
	FallbackPool string
	Public       bool
}

// IsInternal reports whether the rule targets the built-in stats
// handler instead of a backend pool.
func (r *Rule) IsInternal() bool {
	return r.Pool == InternalStatsPool
}

type matchKind int

const (
	matchExact matchKind = iota
	matchPrefix
	matchCatchAll
)

// compiledRule is a pre-compiled rule ordered for matching.
type compiledRule struct {
	rule   Rule
	kind   matchKind
	prefix string
	order  int
}

// Table is an immutable, compiled route table. Build one with
// NewTable and publish it through Router.Swap; never mutate a table
// that has been published.
type Table struct {
	rules       []compiledRule
	hasCatchAll bool
}

// NewTable compiles an ordered rule list. Matching precedence: exact
// patterns first, then prefix globs by descending prefix length, then
// the catch-all; the original table order breaks remaining ties.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{rules: make([]compiledRule, 0, len(rules))}

	for i, rule := range rules {
		cr, err := compileRule(rule, i)
		if err != nil {
			return nil, err
		}
		if cr.kind == matchCatchAll {
			t.hasCatchAll = true
		}
		t.rules = append(t.rules, cr)
	}

	sort.SliceStable(t.rules, func(i, j int) bool {
		a, b := t.rules[i], t.rules[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.kind == matchPrefix && len(a.prefix) != len(b.prefix) {
			return len(a.prefix) > len(b.prefix)
		}
		return a.order < b.order
	})

	return t, nil
}

// compileRule classifies a pattern as exact, prefix glob, or catch-all.
func compileRule(rule Rule, order int) (compiledRule, error) {
	pattern := rule.Pattern

	if pattern == "" || !strings.HasPrefix(pattern, "/") {
		return compiledRule{}, fmt.Errorf("invalid route pattern %q: must start with /", pattern)
	}

	cr := compiledRule{rule: rule, order: order}

	switch {
	case pattern == CatchAllPattern:
		cr.kind = matchCatchAll
	case strings.HasSuffix(pattern, "/*"):
		cr.kind = matchPrefix
		cr.prefix = normalizePath(strings.TrimSuffix(pattern, "/*"))
	default:
		if strings.Contains(pattern, "*") {
			return compiledRule{}, fmt.Errorf("invalid route pattern %q: * is only allowed as a /* suffix", pattern)
		}
		cr.kind = matchExact
		cr.prefix = normalizePath(pattern)
	}

	return cr, nil
}

// normalizePath strips a trailing slash; the root path stays "/".
func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimSuffix(path, "/")
	}
	return path
}

// HasCatchAll reports whether the table contains the catch-all rule.
func (t *Table) HasCatchAll() bool {
	return t.hasCatchAll
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Rules returns the rules in matching precedence order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, cr := range t.rules {
		out[i] = cr.rule
	}
	return out
}

// Match resolves the rule for a request path. With a validated table
// (catch-all present) it never fails; on a hand-built table without a
// catch-all an unmatched path yields a RoutingError.
func (t *Table) Match(path string) (*Rule, error) {
	path = normalizePath(path)

	for i := range t.rules {
		cr := &t.rules[i]
		switch cr.kind {
		case matchExact:
			if path == cr.prefix {
				return &cr.rule, nil
			}
		case matchPrefix:
			if path == cr.prefix || strings.HasPrefix(path, cr.prefix+"/") {
				return &cr.rule, nil
			}
		case matchCatchAll:
			return &cr.rule, nil
		}
	}

	return nil, util.NewRoutingError(path)
}
