// Package feed carries the report data published by the vision pipeline.
//
// Data model:
//
//	<root>/<report>/<field> -> []float64
//
// Tree holds the current values and notifies listeners when a report table
// first appears and whenever one of its fields changes. Client feeds the Tree
// from an MQTT broker.
package feed

import (
	"sort"
	"sync"
)

// Table is one report's set of named numeric arrays. It implements
// report.Table and is safe for concurrent use.
type Table struct {
	name   string
	mu     sync.RWMutex
	values map[string][]float64
	// announced closes once the sub-table listeners have seen the table.
	announced chan struct{}
}

func newTable(name string) *Table {
	return &Table{name: name, values: make(map[string][]float64), announced: make(chan struct{})}
}

// Name returns the report key.
func (t *Table) Name() string {
	return t.name
}

// Keys returns the field names currently present, sorted.
func (t *Table) Keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// NumberArray returns the values stored under key. The slice must not be
// modified; updates replace it rather than writing into it.
func (t *Table) NumberArray(key string) ([]float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	return v, ok
}

func (t *Table) set(field string, values []float64) {
	t.mu.Lock()
	t.values[field] = values
	t.mu.Unlock()
}

// SubTableListener is told about each report table once.
type SubTableListener func(key string, table *Table)

// ValueListener is told about every field update.
type ValueListener func(key, field string)

// Tree is the set of report tables under one root.
type Tree struct {
	root string

	mu        sync.RWMutex
	tables    map[string]*Table
	order     []string
	subTables []SubTableListener
	values    []ValueListener
}

// NewTree returns an empty tree for root (for example "GRIP").
func NewTree(root string) *Tree {
	return &Tree{root: root, tables: make(map[string]*Table)}
}

// Root returns the namespace root.
func (tr *Tree) Root() string {
	return tr.root
}

// Keys lists the known report keys in arrival order.
func (tr *Tree) Keys() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return append([]string(nil), tr.order...)
}

// Table returns the table for key.
func (tr *Tree) Table(key string) (*Table, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.tables[key]
	return t, ok
}

// Purpose: Register a listener for new report tables.
// Key aspects: Tables that already exist are replayed to fn so late
// subscribers see everything; fn may therefore see a key twice under races.
// Upstream: main wiring (registry discovery).
// Downstream: fn.
func (tr *Tree) AddSubTableListener(fn SubTableListener) {
	if fn == nil {
		return
	}
	tr.mu.Lock()
	tr.subTables = append(tr.subTables, fn)
	existing := make([]*Table, 0, len(tr.order))
	for _, key := range tr.order {
		existing = append(existing, tr.tables[key])
	}
	tr.mu.Unlock()

	for _, t := range existing {
		fn(t.name, t)
	}
}

// AddValueListener registers fn for every field update.
func (tr *Tree) AddValueListener(fn ValueListener) {
	if fn == nil {
		return
	}
	tr.mu.Lock()
	tr.values = append(tr.values, fn)
	tr.mu.Unlock()
}

// Purpose: Store a field value, creating the report table on first sight.
// Key aspects: Listeners run after the value is visible, outside the lock.
// A writer racing the table's creator waits until the table is announced,
// so value listeners never hear of a key before sub-table listeners do.
// Listeners must not call Put.
// Upstream: Client message handler, tests, simulator.
// Downstream: SubTableListener, ValueListener.
func (tr *Tree) Put(key, field string, values []float64) {
	tr.mu.Lock()
	t, ok := tr.tables[key]
	if !ok {
		t = newTable(key)
		tr.tables[key] = t
		tr.order = append(tr.order, key)
	}
	subTables := tr.subTables
	valueFns := tr.values
	tr.mu.Unlock()

	t.set(field, values)
	if ok {
		<-t.announced
	} else {
		for _, fn := range subTables {
			fn(key, t)
		}
		close(t.announced)
	}
	for _, fn := range valueFns {
		fn(key, field)
	}
}
