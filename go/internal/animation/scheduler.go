package animation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/clock"
	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/format"
	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// DefaultTickInterval is the coarse repeating cadence for slot and countdown
// rendering. Each tick does O(1) work per active target.
const DefaultTickInterval = 50 * time.Millisecond

// Attribute and class names the scheduler writes on slot elements.
const (
	AttrProgress   = "progress"
	AttrSince      = "since"
	AttrDue        = "due"
	AttrEventID    = "event_id"
	ClassSlot      = "slot"
	ClassOccupied  = "occupied"
	ClassCountdown = "countdown"
)

type runKind int

const (
	kindSlot runKind = iota
	kindCountdown
)

// run is one active repeating tick. A run cancels itself exactly once when it
// reaches its terminal condition; there is no external cancellation token
// beyond directive-driven removal of its target.
type run struct {
	kind    runKind
	target  string // "#id" for slots, any selector for countdowns
	since   time.Time
	due     time.Time
	eventID string

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler drives the per-element Slot and Countdown state machines. It
// shares nothing with other components except the immutable clock offset; the
// rendered tree is the only shared resource, and element writes are
// serialized by the renderer.
type Scheduler struct {
	clk      clockwork.Clock
	offset   clock.Offset
	renderer dom.Renderer
	interval time.Duration

	mu        sync.Mutex
	runs      map[string]*run
	completed int
}

// NewScheduler returns a scheduler rendering through renderer at the given
// tick interval. The offset must come from a completed clock sync.
func NewScheduler(clk clockwork.Clock, offset clock.Offset, renderer dom.Renderer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		clk:      clk,
		offset:   offset,
		renderer: renderer,
		interval: interval,
		runs:     make(map[string]*run),
	}
}

// AssignSlot activates the first free slot on the payload's station,
// transitioning it Free → Occupied with the payload's bounds.
func (s *Scheduler) AssignSlot(ctx context.Context, p protocol.SlotPayload) error {
	slots := s.renderer.Resolve("." + dom.CSSFriendly("station."+p.Station) + "-" + ClassSlot)
	if len(slots) == 0 {
		return fmt.Errorf("station %q has no slot elements", p.Station)
	}

	for _, el := range slots {
		if s.occupied(el.ID()) {
			continue
		}
		s.ResumeSlot(ctx, el.ID(), p.Since, p.Due, p.EventID)
		return nil
	}
	return fmt.Errorf("station %q has no free slot", p.Station)
}

// ResumeSlot starts (or restarts) the slot state machine bound to the element
// with the given id. Used both for fresh slot directives and for re-binding
// timers after a subtree reload.
func (s *Scheduler) ResumeSlot(ctx context.Context, elementID string, since, due time.Time, eventID string) {
	r := &run{
		kind:    kindSlot,
		target:  "#" + elementID,
		since:   since,
		due:     due,
		eventID: eventID,
	}
	s.start(ctx, elementID, r)
}

// Rearm starts the countdown bound to target, or re-arms a running one to a
// new due time. Re-arm cancels the old tick before starting the new one so
// two concurrent timers never write to the same element.
func (s *Scheduler) Rearm(ctx context.Context, target string, due time.Time) {
	r := &run{
		kind:   kindCountdown,
		target: target,
		due:    due,
	}
	s.start(ctx, target, r)
}

// StopTarget defensively cancels any run whose target matches selector.
// Called when a remove directive detaches an element a timer is bound to;
// stopping an absent target is a no-op.
func (s *Scheduler) StopTarget(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[keyFor(selector)]; ok {
		r.cancel()
		delete(s.runs, keyFor(selector))
	}
}

// Stop cancels every active run. Used at session shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.runs {
		r.cancel()
		delete(s.runs, key)
	}
}

// Stats summarizes active animation state for the debug endpoint.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots, countdowns := 0, 0
	for _, r := range s.runs {
		if r.kind == kindSlot {
			slots++
		} else {
			countdowns++
		}
	}
	return map[string]interface{}{
		"active_slots":      slots,
		"active_countdowns": countdowns,
		"completed":         s.completed,
	}
}

func keyFor(target string) string {
	if len(target) > 0 && target[0] == '#' {
		return target[1:]
	}
	return target
}

func (s *Scheduler) occupied(elementID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[elementID]
	return ok
}

// start registers r under key, cancelling any previous run for the same key
// first, and spawns its tick loop.
func (s *Scheduler) start(ctx context.Context, key string, r *run) {
	key = keyFor(key)
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	s.mu.Lock()
	if prev, ok := s.runs[key]; ok {
		prev.cancel()
		log.Debug().Str("target", r.target).Msg("replaced running timer")
	}
	s.runs[key] = r
	s.mu.Unlock()

	// Render immediately so the element does not sit stale for a full
	// interval after activation.
	if s.step(r) {
		s.finish(key, r)
		close(r.done)
		return
	}

	go s.loop(runCtx, key, r)

	log.Debug().
		Str("target", r.target).
		Time("due", r.due).
		Msg("timer started")
}

func (s *Scheduler) loop(ctx context.Context, key string, r *run) {
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if s.step(r) {
				s.finish(key, r)
				return
			}
		}
	}
}

// finish removes a run that reached its terminal condition, unless it was
// already replaced by a newer run for the same key.
func (s *Scheduler) finish(key string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[key]; ok && cur == r {
		delete(s.runs, key)
		s.completed++
	}
}

// step renders one frame of r and reports whether the run is finished. A run
// whose target no longer resolves is finished: operations on a removed target
// must be no-ops, never a fault.
func (s *Scheduler) step(r *run) bool {
	elements := s.renderer.Resolve(r.target)
	if len(elements) == 0 {
		return true
	}

	now := clock.ServerNow(s.clk, s.offset)
	switch r.kind {
	case kindSlot:
		return s.stepSlot(r, elements, now)
	default:
		return s.stepCountdown(r, elements, now)
	}
}

func (s *Scheduler) stepSlot(r *run, elements []dom.Element, now time.Time) bool {
	if !now.Before(r.due) {
		// Occupied → Free, exactly once. No further writes after this.
		for _, el := range elements {
			el.SetAttr(AttrProgress, "0")
			el.SetText("")
			el.SetAttr(AttrEventID, "")
			el.RemoveClass(ClassOccupied)
		}
		return true
	}

	frac := progressFraction(now, r.since, r.due)
	remaining := format.ShortenDuration(r.due.Sub(now))
	for _, el := range elements {
		el.AddClass(ClassOccupied)
		el.SetAttr(AttrProgress, strconv.FormatFloat(frac, 'f', 4, 64))
		el.SetText(remaining)
		if r.eventID != "" {
			el.SetAttr(AttrEventID, r.eventID)
		}
	}
	return false
}

func (s *Scheduler) stepCountdown(r *run, elements []dom.Element, now time.Time) bool {
	if !now.Before(r.due) {
		for _, el := range elements {
			el.SetText("0 s")
		}
		return true
	}
	remaining := format.ShortenDuration(r.due.Sub(now))
	for _, el := range elements {
		el.SetText(remaining)
	}
	return false
}

// progressFraction clamps (now-since)/(due-since) into [0,1].
func progressFraction(now, since, due time.Time) float64 {
	total := due.Sub(since)
	if total <= 0 {
		return 1
	}
	frac := float64(now.Sub(since)) / float64(total)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}
