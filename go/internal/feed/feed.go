package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// Handler consumes inbound feed messages. The feed applies messages strictly
// in receipt order, one at a time.
type Handler interface {
	Apply(ctx context.Context, msg protocol.FeedMessage) error
}

// Config holds connection settings for the persistent channel.
type Config struct {
	URL            string
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the connection settings the game server expects.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Feed is the client end of the persistent bidirectional channel.
type Feed struct {
	conn    *websocket.Conn
	config  Config
	handler Handler

	writeMu sync.Mutex

	mu       sync.Mutex
	received int
	applied  int
	errored  int
}

// Dial connects the feed. The connection is not retried; a failed dial is the
// caller's problem to surface.
func Dial(ctx context.Context, config Config, handler Handler) (*Feed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect feed %s: %w", config.URL, err)
	}

	log.Info().Str("url", config.URL).Msg("feed connected")
	return &Feed{conn: conn, config: config, handler: handler}, nil
}

// Run drives the read loop until the context ends or the connection drops.
// Messages are handed to the handler in receipt order; a handler error is
// logged and the loop continues, since one bad message must not starve the
// feed.
func (f *Feed) Run(ctx context.Context) error {
	go f.pingLoop(ctx)

	f.conn.SetReadLimit(f.config.MaxMessageSize)
	f.conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("feed closed unexpectedly")
			}
			return fmt.Errorf("feed read failed: %w", err)
		}

		f.mu.Lock()
		f.received++
		f.mu.Unlock()

		msg, err := protocol.ParseFeedMessage(data)
		if err != nil {
			f.countError()
			log.Warn().Err(err).Msg("discarding malformed feed message")
			continue
		}
		if err := f.handler.Apply(ctx, msg); err != nil {
			f.countError()
			log.Error().Err(err).
				Str("update_type", string(msg.UpdateType)).
				Str("type", string(msg.Type)).
				Msg("failed to apply feed message")
			continue
		}
		f.mu.Lock()
		f.applied++
		f.mu.Unlock()

		f.conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
	}
}

// Send writes one JSON message to the server side of the channel.
func (f *Feed) Send(v interface{}) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("feed write failed: %w", err)
	}
	return nil
}

// Close shuts the channel down.
func (f *Feed) Close() error {
	f.writeMu.Lock()
	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	f.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	f.writeMu.Unlock()
	return f.conn.Close()
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.writeMu.Lock()
			f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
			err := f.conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
			if err != nil {
				log.Error().Err(err).Msg("failed to ping feed")
				return
			}
		}
	}
}

func (f *Feed) countError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored++
}

// Stats summarizes feed traffic for the debug endpoint.
func (f *Feed) Stats() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]interface{}{
		"messages_received": f.received,
		"messages_applied":  f.applied,
		"messages_errored":  f.errored,
	}
}
