package dom

import (
	"context"
	"strings"
)

// Marker classes shared across components. The server addresses elements by
// these markers too, so they are part of the protocol surface, not styling.
const (
	ClassSelected = "selected"
	ClassPending  = "pending"
	ClassHidden   = "hidden"
)

// Element is one addressable node of the rendered tree. Implementations are
// expected to tolerate writes after detachment: a write to a detached element
// is a no-op, never a fault, because timer ticks and directive handlers can
// race a remove_element for the same target.
type Element interface {
	ID() string
	Classes() []string
	HasClass(name string) bool
	AddClass(name string)
	RemoveClass(name string)
	Attr(name string) string
	SetAttr(name, value string)
	Text() string
	SetText(text string)
	Enabled() bool
	SetEnabled(enabled bool)
	Detached() bool
}

// Renderer is the external collaborator that owns the visual tree. The sync
// layer only ever addresses it through selectors and reload operations; it
// never inspects layout.
type Renderer interface {
	// Resolve returns every attached element matching selector, which is
	// either "#id" or ".class". An empty result is not an error.
	Resolve(selector string) []Element

	// Remove detaches every element matching selector.
	Remove(selector string)

	// Append materializes rendered content under the first element matching
	// selector, returning the created elements.
	Append(selector, content string) ([]Element, error)

	// Prompt displays rendered modal content.
	Prompt(content string)

	// ReloadStation re-fetches and replaces one station subtree. The renderer
	// re-runs per-element initialization hooks on the new subtree.
	ReloadStation(ctx context.Context, station string) error

	// ReloadElement re-fetches and replaces a single element by id.
	ReloadElement(ctx context.Context, id string) error

	// AddStation materializes a newly unlocked station and runs
	// initialization hooks on it.
	AddStation(ctx context.Context, station string) error

	// RefreshLayout signals that a batch of mutations is complete and the
	// layout may be recomputed.
	RefreshLayout()
}

// MaterializeHook runs after a renderer (re-)materializes a subtree so the
// sync layer can re-bind timers and toggles rooted in it. Bindings into the
// replaced subtree are orphaned by a reload, not reparented.
type MaterializeHook func(station string, elements []Element)

// Materializer is implemented by renderers that announce subtree
// materialization.
type Materializer interface {
	OnMaterialize(MaterializeHook)
}

// CSSFriendly converts a dotted game id into its selector-safe form, e.g.
// "data.storage.content.gold" becomes "data-storage-content-gold".
func CSSFriendly(gameID string) string {
	return strings.ReplaceAll(gameID, ".", "-")
}

// KeySelector returns the class selector bound to a dotted state key. Keys
// bind by class rather than id so many keys may address one element and one
// key may address many.
func KeySelector(key string) string {
	return "." + CSSFriendly(key)
}

// StationOf derives the owning station from a dotted state key. Player state
// keys live under "data.<station>.<...>"; anything else is owned by its first
// segment.
func StationOf(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) >= 2 && parts[0] == "data" {
		return parts[1]
	}
	return parts[0]
}

// StationSelector returns the id selector of a station's root element.
func StationSelector(station string) string {
	return "#station-" + CSSFriendly(station)
}
