package infobox

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
)

// GlobalTarget receives messages that name no target of their own.
const GlobalTarget = "#player-info-global"

// DefaultFadeTick is the wall-time length of one fade tick. Message duration
// on the wire is expressed in these ticks.
const DefaultFadeTick = 250 * time.Millisecond

// Box renders transient, self-expiring info messages. All user-visible
// failures route through here: they are local, transient and non-blocking.
type Box struct {
	clk      clockwork.Clock
	renderer dom.Renderer
	fadeTick time.Duration

	mu    sync.Mutex
	shown int
}

// New returns a Box fading messages at the given tick length.
func New(clk clockwork.Clock, renderer dom.Renderer, fadeTick time.Duration) *Box {
	if fadeTick <= 0 {
		fadeTick = DefaultFadeTick
	}
	return &Box{clk: clk, renderer: renderer, fadeTick: fadeTick}
}

// Show displays content under target for durationTicks fade ticks, then
// removes it. An empty target falls back to the global sink.
func (b *Box) Show(target, content string, durationTicks int) {
	if target == "" {
		target = GlobalTarget
	}
	if durationTicks <= 0 {
		durationTicks = 40
	}

	b.mu.Lock()
	b.shown++
	b.mu.Unlock()

	created, err := b.renderer.Append(target, content)
	if err != nil {
		// Target vanished; the global sink is the fallback of last resort.
		if target != GlobalTarget {
			b.Show(GlobalTarget, content, durationTicks)
			return
		}
		log.Warn().Err(err).Str("content", content).Msg("info message had nowhere to render")
		return
	}
	for _, el := range created {
		el.AddClass("player-info")
	}

	timer := b.clk.NewTimer(time.Duration(durationTicks) * b.fadeTick)
	go func() {
		<-timer.Chan()
		for _, el := range created {
			b.renderer.Remove("#" + el.ID())
		}
	}()
}

// ShowError displays a failure message. Same display path as info, with the
// error marker class on the global sink when no target is given.
func (b *Box) ShowError(target, msg string) {
	log.Warn().Str("target", target).Str("msg", msg).Msg("displaying error to player")
	b.Show(target, msg, 40)
}

// Shown reports how many messages were displayed. Used by the debug endpoint.
func (b *Box) Shown() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown
}
