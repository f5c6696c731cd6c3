package memdom

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
)

// stubLoader serves canned fragments and counts station loads.
type stubLoader struct {
	mu       sync.Mutex
	stations map[string]Fragment
	elements map[string]Spec
	loads    map[string]int
}

func newStubLoader() *stubLoader {
	return &stubLoader{
		stations: make(map[string]Fragment),
		elements: make(map[string]Spec),
		loads:    make(map[string]int),
	}
}

func (l *stubLoader) LoadStation(ctx context.Context, station string) (Fragment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[station]++
	frag, ok := l.stations[station]
	if !ok {
		return nil, errors.New("unknown station")
	}
	return frag, nil
}

func (l *stubLoader) LoadElement(ctx context.Context, id string) (Spec, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	spec, ok := l.elements[id]
	if !ok {
		return Spec{}, errors.New("unknown element")
	}
	return spec, nil
}

func (l *stubLoader) stationLoads(station string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[station]
}

func TestResolveByIDAndClass(t *testing.T) {
	tree := NewTree(nil)
	tree.Materialize("storage", Fragment{
		{ID: "gold-view", Classes: []string{"data-storage-content-gold"}, Text: "9"},
		{ID: "wood-view", Classes: []string{"data-storage-content-wood"}},
	})

	byID := tree.Resolve("#gold-view")
	if len(byID) != 1 || byID[0].ID() != "gold-view" {
		t.Fatalf("resolve by id returned %v", byID)
	}

	byClass := tree.Resolve(".data-storage-content-gold")
	if len(byClass) != 1 || byClass[0].Text() != "9" {
		t.Fatalf("resolve by class returned %v", byClass)
	}

	if got := tree.Resolve(".missing"); len(got) != 0 {
		t.Fatalf("expected empty result for missing class, got %d elements", len(got))
	}
}

func TestRemoveDetachesAndWritesBecomeNoOps(t *testing.T) {
	tree := NewTree(nil)
	els := tree.Materialize("storage", Fragment{{ID: "gold-view", Text: "9"}})
	el := els[0]

	tree.Remove("#gold-view")

	if len(tree.Resolve("#gold-view")) != 0 {
		t.Fatalf("removed element still resolves")
	}
	if !el.Detached() {
		t.Fatalf("held handle should report detached")
	}

	el.SetText("10")
	el.AddClass("shiny")
	el.SetEnabled(false)
	if el.Text() != "9" {
		t.Fatalf("write to detached element mutated text: %q", el.Text())
	}
	if el.HasClass("shiny") {
		t.Fatalf("write to detached element mutated classes")
	}
	if !el.Enabled() {
		t.Fatalf("write to detached element mutated enabled state")
	}
}

func TestReloadStationReplacesSubtreeAndRunsHooks(t *testing.T) {
	loader := newStubLoader()
	loader.stations["storage"] = Fragment{
		{ID: "gold-view", Classes: []string{"data-storage-content-gold"}, Text: "fresh"},
	}
	tree := NewTree(loader)
	old := tree.Materialize("storage", Fragment{{ID: "gold-view", Text: "stale"}})

	var hookStations []string
	var hookElements int
	tree.OnMaterialize(func(station string, elements []dom.Element) {
		hookStations = append(hookStations, station)
		hookElements = len(elements)
	})

	if err := tree.ReloadStation(context.Background(), "storage"); err != nil {
		t.Fatalf("ReloadStation returned error: %v", err)
	}

	if !old[0].Detached() {
		t.Fatalf("old subtree should be detached after reload")
	}
	got := tree.Resolve("#gold-view")
	if len(got) != 1 || got[0].Text() != "fresh" {
		t.Fatalf("reload did not replace subtree: %v", got)
	}
	if len(hookStations) != 1 || hookStations[0] != "storage" || hookElements != 1 {
		t.Fatalf("materialize hook not invoked correctly: %v (%d elements)", hookStations, hookElements)
	}
}

func TestAddStationUsesLoader(t *testing.T) {
	loader := newStubLoader()
	loader.stations["alchemy"] = Fragment{{ID: "alchemy-root"}}
	tree := NewTree(loader)

	if err := tree.AddStation(context.Background(), "alchemy"); err != nil {
		t.Fatalf("AddStation returned error: %v", err)
	}
	if len(tree.Resolve("#alchemy-root")) != 1 {
		t.Fatalf("added station root does not resolve")
	}
	if loader.stationLoads("alchemy") != 1 {
		t.Fatalf("expected exactly one load, got %d", loader.stationLoads("alchemy"))
	}
}

func TestAppendCreatesChildInSameStation(t *testing.T) {
	tree := NewTree(nil)
	tree.Materialize("tavern", Fragment{{ID: "order-list"}})

	created, err := tree.Append("#order-list", "a new order")
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one created element, got %d", len(created))
	}
	if created[0].Text() != "a new order" {
		t.Fatalf("appended content = %q", created[0].Text())
	}
	if created[0].(*Node).Station() != "tavern" {
		t.Fatalf("appended element parented to %q", created[0].(*Node).Station())
	}

	if _, err := tree.Append("#absent", "x"); err == nil {
		t.Fatalf("append to missing target should error")
	}
}

func TestReloadElementReplacesInPlace(t *testing.T) {
	loader := newStubLoader()
	loader.elements["price-tag"] = Spec{ID: "price-tag", Text: "2.50"}
	tree := NewTree(loader)
	tree.Materialize("market", Fragment{{ID: "price-tag", Text: "2.00"}})

	if err := tree.ReloadElement(context.Background(), "price-tag"); err != nil {
		t.Fatalf("ReloadElement returned error: %v", err)
	}
	got := tree.Resolve("#price-tag")
	if len(got) != 1 || got[0].Text() != "2.50" {
		t.Fatalf("element not replaced: %v", got)
	}
	if got[0].(*Node).Station() != "market" {
		t.Fatalf("replacement lost its station: %q", got[0].(*Node).Station())
	}
}
