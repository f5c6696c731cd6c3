package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/animation"
	"github.com/mkarlin14/tavernkeep/go/internal/clock"
	"github.com/mkarlin14/tavernkeep/go/internal/dispatch"
	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/feed"
	"github.com/mkarlin14/tavernkeep/go/internal/format"
	"github.com/mkarlin14/tavernkeep/go/internal/gateway"
	"github.com/mkarlin14/tavernkeep/go/internal/infobox"
	"github.com/mkarlin14/tavernkeep/go/internal/selection"
)

// Session is the explicitly owned client-session context. It replaces any
// ambient globals: the clock offset, formatter table, channel handle and all
// component wiring live here, constructed once and passed down.
type Session struct {
	ID     uuid.UUID
	config Config

	clk      clockwork.Clock
	renderer dom.Renderer
	offset   clock.Offset

	formats    *format.Registry
	box        *infobox.Box
	gw         *gateway.Gateway
	scheduler  *animation.Scheduler
	dispatcher *dispatch.Dispatcher
	selections *selection.Sync
	channel    *feed.Feed

	rootCtx context.Context
	cancel  context.CancelFunc
}

// New boots a session against the configured server: it estimates the clock
// offset (fatal on failure, since no time-dependent rendering may start with
// an unknown offset), wires every component, and connects the feed. The
// session is ready to Run when New returns.
func New(ctx context.Context, config Config, clk clockwork.Clock, renderer dom.Renderer) (*Session, error) {
	rootCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		ID:       uuid.New(),
		config:   config,
		clk:      clk,
		renderer: renderer,
		formats:  format.NewRegistry(),
		rootCtx:  rootCtx,
		cancel:   cancel,
	}

	s.box = infobox.New(clk, renderer, config.FadeTick)
	s.gw = gateway.New(config.ServerURL, config.HTTPTimeout, renderer, s.box)

	offset, err := clock.Estimate(rootCtx, clk, s.gw)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("session boot blocked: %w", err)
	}
	s.offset = offset

	s.scheduler = animation.NewScheduler(clk, offset, renderer, config.TickInterval)
	s.dispatcher = dispatch.New(renderer, s.formats, s.scheduler, s.box)
	s.selections = selection.New(s.gw, renderer)

	if m, ok := renderer.(dom.Materializer); ok {
		m.OnMaterialize(s.initSubtree)
	}

	channel, err := feed.Dial(rootCtx, feed.DefaultConfig(config.FeedURL), s.dispatcher)
	if err != nil {
		cancel()
		return nil, err
	}
	s.channel = channel

	log.Info().
		Str("session_id", s.ID.String()).
		Str("server", config.ServerURL).
		Dur("offset", time.Duration(offset)).
		Msg("session booted")
	return s, nil
}

// Run drives the feed read loop until the context ends or the channel drops.
func (s *Session) Run(ctx context.Context) error {
	return s.channel.Run(ctx)
}

// Close releases every resource owned by the session.
func (s *Session) Close() error {
	s.cancel()
	s.scheduler.Stop()
	return s.channel.Close()
}

// Offset is the immutable clock offset estimated at boot.
func (s *Session) Offset() clock.Offset { return s.offset }

// Gateway exposes the outbound request path.
func (s *Session) Gateway() *gateway.Gateway { return s.gw }

// Selection exposes selection-group synchronization.
func (s *Session) Selection() *selection.Sync { return s.selections }

// Dispatcher exposes the inbound update path, mainly for bootstrap seeding.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Scheduler exposes the animation scheduler.
func (s *Session) Scheduler() *animation.Scheduler { return s.scheduler }

// Formats exposes the formatter registry so callers can register game-module
// specific formatters.
func (s *Session) Formats() *format.Registry { return s.formats }

// initSubtree re-runs per-element initialization on a freshly materialized
// subtree: slot and countdown timers restart from the since/due attributes
// the server renders into the fragment. Replacing a subtree orphans the old
// bindings, so this is the only way live timers survive a container reload.
func (s *Session) initSubtree(station string, elements []dom.Element) {
	for _, el := range elements {
		due, ok := parseStamp(el.Attr(animation.AttrDue))
		if !ok {
			continue
		}

		switch {
		case el.HasClass(animation.ClassSlot):
			since, ok := parseStamp(el.Attr(animation.AttrSince))
			if !ok {
				since = due
			}
			s.scheduler.ResumeSlot(s.rootCtx, el.ID(), since, due, el.Attr(animation.AttrEventID))
		case el.HasClass(animation.ClassCountdown):
			s.scheduler.Rearm(s.rootCtx, "#"+el.ID(), due)
		}
	}
	log.Debug().Str("station", station).Int("elements", len(elements)).Msg("subtree initialized")
}

// Stats aggregates component statistics for the debug endpoint.
func (s *Session) Stats() map[string]interface{} {
	return map[string]interface{}{
		"session_id": s.ID.String(),
		"offset_ms":  time.Duration(s.offset).Milliseconds(),
		"gateway":    s.gw.Stats(),
		"dispatch":   s.dispatcher.Stats(),
		"animation":  s.scheduler.Stats(),
		"feed":       s.channel.Stats(),
	}
}

func parseStamp(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
