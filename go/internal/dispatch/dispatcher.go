package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/animation"
	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/format"
	"github.com/mkarlin14/tavernkeep/go/internal/infobox"
	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// Dispatcher applies inbound feed messages to the rendered tree. Messages are
// applied strictly in receipt order; there is no ordering guarantee between a
// request's response and a concurrently pushed update for the same key, so
// the last write observed wins.
type Dispatcher struct {
	renderer dom.Renderer
	formats  *format.Registry
	sched    *animation.Scheduler
	box      *infobox.Box

	mu      sync.Mutex
	values  map[string]float64
	reloads int
	dropped int
}

// New returns a dispatcher writing through renderer.
func New(renderer dom.Renderer, formats *format.Registry, sched *animation.Scheduler, box *infobox.Box) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		formats:  formats,
		sched:    sched,
		box:      box,
		values:   make(map[string]float64),
	}
}

// Apply routes one feed message to its handler. Every message, state update
// or directive, ends with a layout-refresh signal to the renderer.
func (d *Dispatcher) Apply(ctx context.Context, msg protocol.FeedMessage) error {
	defer d.renderer.RefreshLayout()

	if msg.UpdateType != "" {
		upd, err := protocol.ParseStateUpdate(msg)
		if err != nil {
			return err
		}
		return d.applyStateUpdate(ctx, upd)
	}
	return d.applyDirective(ctx, msg)
}

// RecordedValue returns the client-cached value for a state key. The cache,
// not the rendered text, is the source of truth for increment arithmetic.
func (d *Dispatcher) RecordedValue(key string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[key]
	return v, ok
}

// Seed primes the value cache from a bootstrap snapshot.
func (d *Dispatcher) Seed(values map[string]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range values {
		d.values[k] = v
	}
}

func (d *Dispatcher) applyStateUpdate(ctx context.Context, upd protocol.StateUpdate) error {
	if upd.UpdateType == protocol.UpdateChangeAttributes {
		for _, change := range upd.AttributeChange {
			for _, el := range d.renderer.Resolve(change.Selector) {
				el.SetAttr(change.Attr, change.Value)
			}
		}
		return nil
	}

	var errs []error
	reloaded := make(map[string]bool) // at most one reload per station per batch

	for key, elem := range upd.UpdatedElements {
		targets := d.renderer.Resolve(dom.KeySelector(key))
		if len(targets) == 0 {
			targets = d.recoverBinding(ctx, key, reloaded)
			if len(targets) == 0 {
				log.Debug().Str("key", key).Msg("no binding after container reload, skipping key")
				continue
			}
		}

		var value float64
		switch upd.UpdateType {
		case protocol.UpdateInc:
			d.mu.Lock()
			value = d.values[key] + elem.Data
			d.mu.Unlock()
		case protocol.UpdateSet:
			value = elem.Data
		default:
			errs = append(errs, fmt.Errorf("unhandled update type %q", upd.UpdateType))
			continue
		}

		text, err := d.formats.Apply(elem.DisplayFun, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, err))
			continue
		}

		d.mu.Lock()
		d.values[key] = value
		d.mu.Unlock()

		for _, el := range targets {
			el.SetText(text)
		}
	}
	return errors.Join(errs...)
}

// recoverBinding handles the binding-not-found failure mode: the key's owning
// container is reloaded from the server once, then the key is re-resolved.
// Never surfaced to the user.
func (d *Dispatcher) recoverBinding(ctx context.Context, key string, reloaded map[string]bool) []dom.Element {
	station := dom.StationOf(key)
	if !reloaded[station] {
		reloaded[station] = true
		d.mu.Lock()
		d.reloads++
		d.mu.Unlock()

		log.Info().Str("key", key).Str("station", station).Msg("binding not found, reloading container")
		if err := d.renderer.ReloadStation(ctx, station); err != nil {
			log.Warn().Err(err).Str("station", station).Msg("container reload failed")
			return nil
		}
	}
	return d.renderer.Resolve(dom.KeySelector(key))
}

func (d *Dispatcher) applyDirective(ctx context.Context, msg protocol.FeedMessage) error {
	payload, err := protocol.ParseDirectivePayload(msg)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case protocol.SlotPayload:
		return d.sched.AssignSlot(ctx, p)

	case protocol.DuetimePayload:
		d.sched.Rearm(ctx, p.Target, p.Due)
		return nil

	case protocol.ReloadStationPayload:
		return d.renderer.ReloadStation(ctx, p.Station)

	case protocol.ReloadElementPayload:
		return d.renderer.ReloadElement(ctx, p.Element)

	case protocol.RemoveElementPayload:
		// Stop any timer bound to the target before detaching it; a tick
		// against a detached element must be a no-op.
		d.sched.StopTarget(p.Selector)
		d.renderer.Remove(p.Selector)
		return nil

	case protocol.AppendElementPayload:
		_, err := d.renderer.Append(p.Selector, p.HTML)
		return err

	case protocol.PromptPayload:
		d.renderer.Prompt(p.HTML)
		return nil

	case protocol.AddStationPayload:
		return d.renderer.AddStation(ctx, p.Station)

	case protocol.PlayerInfoPayload:
		d.box.Show(p.Target, p.Content, p.Duration)
		return nil

	case protocol.UpdateClassPayload:
		for _, el := range d.renderer.Resolve(p.Target) {
			switch p.Action {
			case protocol.AddClass:
				el.AddClass(p.ClassData)
			case protocol.RemoveClass:
				el.RemoveClass(p.ClassData)
			}
		}
		return nil

	default:
		// Unknown directive tags are dropped, but never silently: the drop
		// is logged and counted.
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		log.Warn().Str("type", string(msg.Type)).Msg("dropping unrecognized directive")
		return nil
	}
}

// Stats summarizes dispatcher activity for the debug endpoint.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]interface{}{
		"cached_keys":       len(d.values),
		"container_reloads": d.reloads,
		"dropped_messages":  d.dropped,
	}
}
