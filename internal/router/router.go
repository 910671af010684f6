package router

import (
	"sync/atomic"
)

// Router publishes the active route table. Reload swaps the snapshot
// atomically; requests already dispatched keep the table they captured
// and finish under it.
type Router struct {
	table atomic.Pointer[Table]
}

// New creates a router serving the given table.
func New(table *Table) *Router {
	r := &Router{}
	r.table.Store(table)
	return r
}

// Snapshot returns the active table. Callers resolving a request
// should capture it once and use it for the whole request.
func (r *Router) Snapshot() *Table {
	return r.table.Load()
}

// Swap publishes a new table and returns the previous one.
func (r *Router) Swap(table *Table) *Table {
	return r.table.Swap(table)
}

// Match resolves a path against the active table.
func (r *Router) Match(path string) (*Rule, error) {
	return r.table.Load().Match(path)
}
