package report

import (
	"fmt"
	"sync"
	"testing"
)

type stubTable map[string][]float64

func (s stubTable) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

func (s stubTable) NumberArray(key string) ([]float64, bool) {
	v, ok := s[key]
	return v, ok
}

func TestDiscoverIsIdempotentAndColorsCyclically(t *testing.T) {
	r := NewRegistry()
	for _, key := range []string{"a", "b", "c", "a"} {
		r.Discover(key, stubTable{})
	}
	reports := r.Snapshot()
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i, key := range []string{"a", "b", "c"} {
		if reports[i].Key != key {
			t.Fatalf("report %d: expected key %q, got %q", i, key, reports[i].Key)
		}
		if reports[i].Color != Palette[i] {
			t.Fatalf("report %d: expected %s, got %s", i, Palette[i].Name, reports[i].Color.Name)
		}
		if !reports[i].Visible {
			t.Fatalf("report %d: expected visible by default", i)
		}
	}
}

func TestPaletteWrapsAfterEightReports(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < len(Palette)+2; i++ {
		r.Discover(fmt.Sprintf("r%d", i), stubTable{})
	}
	reports := r.Snapshot()
	if reports[len(Palette)].Color != Palette[0] || reports[len(Palette)+1].Color != Palette[1] {
		t.Fatalf("expected palette to wrap, got %s and %s", reports[8].Color.Name, reports[9].Color.Name)
	}
}

func TestToggleFlipsVisibilityOnly(t *testing.T) {
	r := NewRegistry()
	r.Discover("lines", stubTable{})
	r.Discover("blobs", stubTable{})

	if !r.Toggle(1) {
		t.Fatalf("expected toggle to succeed")
	}
	reports := r.Snapshot()
	if reports[1].Visible {
		t.Fatalf("expected blobs hidden")
	}
	if reports[1].Key != "blobs" || reports[1].Color != Palette[1] {
		t.Fatalf("toggle changed identity: %+v", reports[1])
	}
	if !reports[0].Visible {
		t.Fatalf("toggle leaked to another report")
	}
}

func TestToggleOutOfRangeIsIgnored(t *testing.T) {
	r := NewRegistry()
	r.Discover("a", stubTable{})
	if r.Toggle(-1) || r.Toggle(1) || r.Toggle(100) {
		t.Fatalf("expected out-of-range toggles to be rejected")
	}
	if !r.Snapshot()[0].Visible {
		t.Fatalf("out-of-range toggle must not change state")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := NewRegistry()
	r.Discover("a", stubTable{})
	snap := r.Snapshot()
	r.Toggle(0)
	r.Discover("b", stubTable{})
	if !snap[0].Visible || len(snap) != 1 {
		t.Fatalf("snapshot changed after registry mutation: %+v", snap)
	}
}

func TestMatchExactCaseAndFuzzy(t *testing.T) {
	r := NewRegistry()
	r.Discover("myContoursReport", stubTable{})
	r.Discover("myBlobsReport", stubTable{})
	r.Discover("lines", stubTable{})

	if idx, ok := r.Match("lines"); !ok || idx != 2 {
		t.Fatalf("exact match failed: %d %v", idx, ok)
	}
	if idx, ok := r.Match("MYBLOBSREPORT"); !ok || idx != 1 {
		t.Fatalf("case-insensitive match failed: %d %v", idx, ok)
	}
	if idx, ok := r.Match("myBlobReport"); !ok || idx != 1 {
		t.Fatalf("fuzzy match failed: %d %v", idx, ok)
	}
	if _, ok := r.Match("somethingElse"); ok {
		t.Fatalf("expected distant name not to match")
	}
}

func TestOnChangeFiresForDiscoveryAndToggle(t *testing.T) {
	r := NewRegistry()
	var calls int
	r.OnChange(func() { calls++ })
	r.Discover("a", stubTable{})
	r.Discover("a", stubTable{})
	r.Toggle(0)
	r.SetVisible("a", false)
	if calls != 2 {
		t.Fatalf("expected 2 change callbacks, got %d", calls)
	}
}

func TestConcurrentDiscoverToggleSnapshot(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Discover(fmt.Sprintf("k%d", i), stubTable{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Toggle(i % 7)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, rep := range r.Snapshot() {
				if rep.Key == "" {
					t.Errorf("observed partially appended report")
					return
				}
			}
		}
	}()
	wg.Wait()
	if r.Len() != 200 {
		t.Fatalf("expected 200 reports, got %d", r.Len())
	}
}
