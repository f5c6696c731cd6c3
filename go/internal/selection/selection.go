package selection

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/gateway"
	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// Element attributes a selectable control carries. PeerAttr names the class
// selector of the control's peer set; ValueAttr carries the selection value
// submitted to the server.
const (
	PeerAttr  = "peer_group"
	ValueAttr = "select_value"
)

// Sync keeps mutually exclusive selection groups and boolean toggles in step
// with the server. Markers are only applied after the server confirms the
// mutation, so the local view never runs ahead of a rejected request.
type Sync struct {
	gw       *gateway.Gateway
	renderer dom.Renderer
}

// New returns a Sync sending through gw.
func New(gw *gateway.Gateway, renderer dom.Renderer) *Sync {
	return &Sync{gw: gw, renderer: renderer}
}

// Select submits element's selection value for the group target and, on
// confirmation, moves the selected marker. Selecting an already-selected
// element clears the group instead: at most one peer ever carries the marker.
func (s *Sync) Select(ctx context.Context, groupTargetID string, element dom.Element) <-chan gateway.Result {
	value := element.Attr(ValueAttr)

	return s.gw.Send(ctx, protocol.Select(groupTargetID, value), element, func(*protocol.Response) {
		wasSelected := element.HasClass(dom.ClassSelected)
		for _, peer := range s.peersOf(element) {
			peer.RemoveClass(dom.ClassSelected)
		}
		if !wasSelected {
			element.AddClass(dom.ClassSelected)
		}
		log.Debug().
			Str("target", groupTargetID).
			Str("value", value).
			Bool("deselected", wasSelected).
			Msg("selection confirmed")
	})
}

// Toggle submits the invert sentinel for a boolean selection. Local markers
// are left alone; the server pushes any resulting state through the feed.
func (s *Sync) Toggle(ctx context.Context, groupTargetID string, element dom.Element) <-chan gateway.Result {
	return s.gw.Send(ctx, protocol.Select(groupTargetID, protocol.SelectInvert), element, nil)
}

// peersOf resolves the element's peer set, which always includes the element
// itself.
func (s *Sync) peersOf(element dom.Element) []dom.Element {
	selector := element.Attr(PeerAttr)
	if selector == "" {
		return []dom.Element{element}
	}
	peers := s.renderer.Resolve(selector)
	if len(peers) == 0 {
		return []dom.Element{element}
	}
	return peers
}
