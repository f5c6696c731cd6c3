package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// recordingHandler collects applied messages and can be told to fail on a
// specific directive type.
type recordingHandler struct {
	mu      sync.Mutex
	applied []protocol.FeedMessage
	failOn  protocol.DirectiveType
}

func (h *recordingHandler) Apply(ctx context.Context, msg protocol.FeedMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOn != "" && msg.Type == h.failOn {
		return errors.New("handler rejected message")
	}
	h.applied = append(h.applied, msg)
	return nil
}

func (h *recordingHandler) snapshot() []protocol.FeedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.FeedMessage(nil), h.applied...)
}

var upgrader = websocket.Upgrader{}

// newFeedServer upgrades one connection, pushes each frame, then closes.
func newFeedServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Errorf("server write failed: %v", err)
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialAndRun(t *testing.T, server *httptest.Server, handler Handler) *Feed {
	t.Helper()
	f, err := Dial(context.Background(), DefaultConfig(wsURL(server)), handler)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	if err := f.Run(ctx); err == nil {
		t.Fatalf("Run must return an error once the server closes the channel")
	}
	return f
}

func TestMessagesApplyInReceiptOrder(t *testing.T) {
	handler := &recordingHandler{}
	server := newFeedServer(t, []string{
		`{"update_type":"set","updated_elements":{}}`,
		`{"type":"reload_station","station":"brewery"}`,
		`{"update_type":"inc","updated_elements":{}}`,
	})

	f := dialAndRun(t, server, handler)

	applied := handler.snapshot()
	if len(applied) != 3 {
		t.Fatalf("applied %d messages, want 3", len(applied))
	}
	if applied[0].UpdateType != protocol.UpdateSet ||
		applied[1].Type != protocol.DirectiveReloadStation ||
		applied[2].UpdateType != protocol.UpdateInc {
		t.Fatalf("messages out of order: %+v", applied)
	}
	if got := f.Stats()["messages_applied"]; got != 3 {
		t.Fatalf("messages_applied = %v, want 3", got)
	}
}

func TestHandlerErrorDoesNotStarveTheFeed(t *testing.T) {
	handler := &recordingHandler{failOn: protocol.DirectiveReloadStation}
	server := newFeedServer(t, []string{
		`{"type":"reload_station","station":"brewery"}`,
		`{"update_type":"set","updated_elements":{}}`,
	})

	f := dialAndRun(t, server, handler)

	applied := handler.snapshot()
	if len(applied) != 1 || applied[0].UpdateType != protocol.UpdateSet {
		t.Fatalf("feed did not continue past handler error: %+v", applied)
	}
	stats := f.Stats()
	if stats["messages_errored"] != 1 || stats["messages_applied"] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestMalformedFrameIsDiscarded(t *testing.T) {
	handler := &recordingHandler{}
	server := newFeedServer(t, []string{
		`this is not json`,
		`{"update_type":"set","updated_elements":{}}`,
	})

	f := dialAndRun(t, server, handler)

	if len(handler.snapshot()) != 1 {
		t.Fatalf("malformed frame must be skipped, valid one applied")
	}
	if got := f.Stats()["messages_errored"]; got != 1 {
		t.Fatalf("messages_errored = %v, want 1", got)
	}
}

func TestDialFailureIsNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "no feed here", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	if _, err := Dial(context.Background(), DefaultConfig(wsURL(server)), &recordingHandler{}); err == nil {
		t.Fatalf("expected dial error")
	}
	if attempts != 1 {
		t.Fatalf("dial retried: %d attempts", attempts)
	}
}
