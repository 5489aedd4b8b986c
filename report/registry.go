// Package report tracks the named tables published by the vision pipeline.
// Reports are discovered from the data feed, colored from a fixed palette in
// discovery order, and toggled on or off by the user. The list only grows.
package report

import (
	"image/color"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// Table is a live handle to one published table of numeric arrays.
// Implementations must be safe for concurrent use.
type Table interface {
	Keys() []string
	NumberArray(key string) ([]float64, bool)
}

// Swatch is a named palette color.
type Swatch struct {
	Name  string
	Color color.RGBA
}

// Palette is the fixed cyclic report palette.
var Palette = [...]Swatch{
	{Name: "red", Color: color.RGBA{R: 255, A: 255}},
	{Name: "green", Color: color.RGBA{G: 255, A: 255}},
	{Name: "blue", Color: color.RGBA{B: 255, A: 255}},
	{Name: "yellow", Color: color.RGBA{R: 255, G: 255, A: 255}},
	{Name: "cyan", Color: color.RGBA{G: 255, B: 255, A: 255}},
	{Name: "magenta", Color: color.RGBA{R: 255, B: 255, A: 255}},
	{Name: "pink", Color: color.RGBA{R: 255, G: 175, B: 175, A: 255}},
	{Name: "orange", Color: color.RGBA{R: 255, G: 200, A: 255}},
}

// maxMatchDistance bounds fuzzy name lookups in Match.
const maxMatchDistance = 2

// Report is a point-in-time copy of one registry entry. Table stays live.
type Report struct {
	Key     string
	Table   Table
	Color   Swatch
	Visible bool
	Index   int
}

type entry struct {
	key     string
	table   Table
	color   Swatch
	visible bool
}

// Registry is the insertion-ordered, append-only set of discovered reports.
type Registry struct {
	mu       sync.RWMutex
	entries  []*entry
	byKey    map[string]int
	onChange []func()
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]int)}
}

// OnChange registers fn to run after a report is added or toggled. Callbacks
// run on the mutating goroutine, outside the registry lock.
func (r *Registry) OnChange(fn func()) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Purpose: Add a report the first time its key is announced.
// Key aspects: Idempotent per key; color is palette[insertion order mod 8].
// Upstream: feed sub-table listener.
// Downstream: change callbacks.
func (r *Registry) Discover(key string, table Table) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	if _, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return false
	}
	idx := len(r.entries)
	r.entries = append(r.entries, &entry{
		key:     key,
		table:   table,
		color:   Palette[idx%len(Palette)],
		visible: true,
	})
	r.byKey[key] = idx
	callbacks := r.onChange
	r.mu.Unlock()

	notify(callbacks)
	return true
}

// Toggle flips visibility of the report at index. Out-of-range indexes are ignored.
func (r *Registry) Toggle(index int) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	if index < 0 || index >= len(r.entries) {
		r.mu.Unlock()
		return false
	}
	e := r.entries[index]
	e.visible = !e.visible
	callbacks := r.onChange
	r.mu.Unlock()

	notify(callbacks)
	return true
}

// ToggleKey flips visibility of the report with the given key.
func (r *Registry) ToggleKey(key string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	idx, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Toggle(idx)
}

// SetVisible forces visibility for key.
func (r *Registry) SetVisible(key string, visible bool) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	idx, ok := r.byKey[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	changed := r.entries[idx].visible != visible
	r.entries[idx].visible = visible
	callbacks := r.onChange
	r.mu.Unlock()

	if changed {
		notify(callbacks)
	}
	return true
}

// Purpose: Resolve a user-typed report name to an index.
// Key aspects: Exact key, then case-insensitive, then the unique nearest key
// within a small edit distance.
// Upstream: dashboard toggle command, -hide flag.
// Downstream: levenshtein.ComputeDistance.
func (r *Registry) Match(name string) (int, bool) {
	if r == nil {
		return -1, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return -1, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx, ok := r.byKey[name]; ok {
		return idx, true
	}
	lower := strings.ToLower(name)
	for i, e := range r.entries {
		if strings.ToLower(e.key) == lower {
			return i, true
		}
	}
	best, bestDist, tie := -1, maxMatchDistance+1, false
	for i, e := range r.entries {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(e.key))
		switch {
		case d < bestDist:
			best, bestDist, tie = i, d, false
		case d == bestDist:
			tie = true
		}
	}
	if best < 0 || tie {
		return -1, false
	}
	return best, true
}

// Snapshot returns a copy of all reports in discovery order. The returned
// slice is owned by the caller and no lock is held while it is used.
func (r *Registry) Snapshot() []Report {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Report, len(r.entries))
	for i, e := range r.entries {
		out[i] = Report{
			Key:     e.key,
			Table:   e.table,
			Color:   e.color,
			Visible: e.visible,
			Index:   i,
		}
	}
	return out
}

// Len returns the number of discovered reports.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func notify(callbacks []func()) {
	for _, fn := range callbacks {
		fn()
	}
}
