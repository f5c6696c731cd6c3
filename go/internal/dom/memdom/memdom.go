package memdom

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
)

// Spec describes one element of a server-rendered fragment.
type Spec struct {
	ID      string            `json:"id"`
	Classes []string          `json:"classes"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
}

// Fragment is a server-rendered subtree, flattened to its addressable elements.
type Fragment []Spec

// Loader fetches rendered fragments from the server. The demo client backs
// this with HTTP; tests stub it.
type Loader interface {
	LoadStation(ctx context.Context, station string) (Fragment, error)
	LoadElement(ctx context.Context, id string) (Spec, error)
}

// Tree is an in-memory Renderer for headless clients and tests. All access is
// serialized by one mutex; element handles stay valid after detachment but
// writes to detached elements are no-ops.
type Tree struct {
	mu     sync.Mutex
	loader Loader
	nodes  []*Node
	byID   map[string]*Node
	hooks  []dom.MaterializeHook

	prompts   []string
	refreshes int
	appendSeq int
}

// NewTree returns an empty tree backed by loader. A nil loader is allowed for
// trees that never reload.
func NewTree(loader Loader) *Tree {
	return &Tree{
		loader: loader,
		byID:   make(map[string]*Node),
	}
}

// OnMaterialize registers a hook invoked after every reload/add-station.
func (t *Tree) OnMaterialize(hook dom.MaterializeHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook)
}

// Materialize adds a fragment owned by station directly, bypassing the
// loader. Used for initial bootstrap and by tests.
func (t *Tree) Materialize(station string, frag Fragment) []dom.Element {
	t.mu.Lock()
	elements := t.materializeLocked(station, frag)
	hooks := append([]dom.MaterializeHook(nil), t.hooks...)
	t.mu.Unlock()

	for _, hook := range hooks {
		hook(station, elements)
	}
	return elements
}

func (t *Tree) materializeLocked(station string, frag Fragment) []dom.Element {
	elements := make([]dom.Element, 0, len(frag))
	for _, spec := range frag {
		n := &Node{
			tree:    t,
			id:      spec.ID,
			station: station,
			classes: make(map[string]struct{}, len(spec.Classes)),
			attrs:   make(map[string]string, len(spec.Attrs)),
			text:    spec.Text,
			enabled: true,
		}
		for _, c := range spec.Classes {
			n.classes[c] = struct{}{}
		}
		for k, v := range spec.Attrs {
			n.attrs[k] = v
		}
		if old, ok := t.byID[spec.ID]; ok {
			old.detached = true
		}
		t.nodes = append(t.nodes, n)
		if spec.ID != "" {
			t.byID[spec.ID] = n
		}
		elements = append(elements, n)
	}
	t.compactLocked()
	return elements
}

// Resolve implements dom.Renderer. Selector is "#id" or ".class".
func (t *Tree) Resolve(selector string) []dom.Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	if selector == "" {
		return nil
	}
	var out []dom.Element
	switch selector[0] {
	case '#':
		if n, ok := t.byID[selector[1:]]; ok && !n.detached {
			out = append(out, n)
		}
	case '.':
		class := selector[1:]
		for _, n := range t.nodes {
			if n.detached {
				continue
			}
			if _, ok := n.classes[class]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// Remove implements dom.Renderer.
func (t *Tree) Remove(selector string) {
	for _, el := range t.Resolve(selector) {
		el.(*Node).detach()
	}
	t.mu.Lock()
	t.compactLocked()
	t.mu.Unlock()
}

// Append implements dom.Renderer. The in-memory tree has no markup engine, so
// appended content becomes a text node parented to the target's station.
func (t *Tree) Append(selector, content string) ([]dom.Element, error) {
	targets := t.Resolve(selector)
	if len(targets) == 0 {
		return nil, fmt.Errorf("append target %q not found", selector)
	}
	parent := targets[0].(*Node)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendSeq++
	created := t.materializeLocked(parent.station, Fragment{{
		ID:   fmt.Sprintf("%s-appended-%d", parent.id, t.appendSeq),
		Text: content,
	}})
	return created, nil
}

// Prompt implements dom.Renderer.
func (t *Tree) Prompt(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompts = append(t.prompts, content)
}

// Prompts returns every modal displayed so far.
func (t *Tree) Prompts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.prompts...)
}

// ReloadStation implements dom.Renderer.
func (t *Tree) ReloadStation(ctx context.Context, station string) error {
	if t.loader == nil {
		return fmt.Errorf("no loader configured for station reload %q", station)
	}
	frag, err := t.loader.LoadStation(ctx, station)
	if err != nil {
		return fmt.Errorf("failed to load station %q: %w", station, err)
	}

	t.mu.Lock()
	for _, n := range t.nodes {
		if n.station == station {
			n.detached = true
		}
	}
	elements := t.materializeLocked(station, frag)
	hooks := append([]dom.MaterializeHook(nil), t.hooks...)
	t.mu.Unlock()

	for _, hook := range hooks {
		hook(station, elements)
	}
	log.Debug().Str("station", station).Int("elements", len(frag)).Msg("station reloaded")
	return nil
}

// ReloadElement implements dom.Renderer.
func (t *Tree) ReloadElement(ctx context.Context, id string) error {
	if t.loader == nil {
		return fmt.Errorf("no loader configured for element reload %q", id)
	}
	spec, err := t.loader.LoadElement(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load element %q: %w", id, err)
	}

	t.mu.Lock()
	station := ""
	if old, ok := t.byID[id]; ok {
		station = old.station
		old.detached = true
	}
	elements := t.materializeLocked(station, Fragment{spec})
	hooks := append([]dom.MaterializeHook(nil), t.hooks...)
	t.mu.Unlock()

	for _, hook := range hooks {
		hook(station, elements)
	}
	return nil
}

// AddStation implements dom.Renderer.
func (t *Tree) AddStation(ctx context.Context, station string) error {
	if t.loader == nil {
		return fmt.Errorf("no loader configured for add station %q", station)
	}
	frag, err := t.loader.LoadStation(ctx, station)
	if err != nil {
		return fmt.Errorf("failed to load new station %q: %w", station, err)
	}
	t.Materialize(station, frag)
	log.Info().Str("station", station).Msg("station added")
	return nil
}

// RefreshLayout implements dom.Renderer.
func (t *Tree) RefreshLayout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshes++
}

// LayoutRefreshes reports how many batch-complete signals were received.
func (t *Tree) LayoutRefreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshes
}

// Stats summarizes the tree for the debug endpoint.
func (t *Tree) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	attached := 0
	for _, n := range t.nodes {
		if !n.detached {
			attached++
		}
	}
	return map[string]interface{}{
		"elements":         attached,
		"layout_refreshes": t.refreshes,
		"prompts_shown":    len(t.prompts),
	}
}

// compactLocked drops detached nodes from the scan list. Detached handles held
// by callers stay valid; they just no longer resolve.
func (t *Tree) compactLocked() {
	kept := t.nodes[:0]
	for _, n := range t.nodes {
		if !n.detached {
			kept = append(kept, n)
			continue
		}
		if cur, ok := t.byID[n.id]; ok && cur == n {
			delete(t.byID, n.id)
		}
	}
	t.nodes = kept
}

// Node implements dom.Element.
type Node struct {
	tree     *Tree
	id       string
	station  string
	classes  map[string]struct{}
	attrs    map[string]string
	text     string
	enabled  bool
	detached bool
}

func (n *Node) ID() string { return n.id }

// Station reports which station subtree owns this node.
func (n *Node) Station() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.station
}

func (n *Node) Classes() []string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	out := make([]string, 0, len(n.classes))
	for c := range n.classes {
		out = append(out, c)
	}
	return out
}

func (n *Node) HasClass(name string) bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	_, ok := n.classes[name]
	return ok
}

func (n *Node) AddClass(name string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.detached {
		return
	}
	n.classes[name] = struct{}{}
}

func (n *Node) RemoveClass(name string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.detached {
		return
	}
	delete(n.classes, name)
}

func (n *Node) Attr(name string) string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.attrs[name]
}

func (n *Node) SetAttr(name, value string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.detached {
		return
	}
	n.attrs[name] = value
}

func (n *Node) Text() string {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.text
}

func (n *Node) SetText(text string) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.detached {
		return
	}
	n.text = text
}

func (n *Node) Enabled() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.enabled
}

func (n *Node) SetEnabled(enabled bool) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	if n.detached {
		return
	}
	n.enabled = enabled
}

func (n *Node) Detached() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.detached
}

func (n *Node) detach() {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	n.detached = true
}
