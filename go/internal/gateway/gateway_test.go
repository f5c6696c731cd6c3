package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/dom/memdom"
	"github.com/mkarlin14/tavernkeep/go/internal/infobox"
	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

type nullLoader struct{}

func (nullLoader) LoadStation(ctx context.Context, station string) (memdom.Fragment, error) {
	return memdom.Fragment{{ID: station + "-root"}}, nil
}

func (nullLoader) LoadElement(ctx context.Context, id string) (memdom.Spec, error) {
	return memdom.Spec{ID: id}, nil
}

type harness struct {
	gw      *Gateway
	tree    *memdom.Tree
	control dom.Element
	server  *httptest.Server
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()
	tree := memdom.NewTree(nullLoader{})
	tree.Materialize("tavern", memdom.Fragment{
		{ID: "brew-button", Attrs: map[string]string{"info_target": "#brew-info"}},
		{ID: "brew-info"},
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	box := infobox.New(clockwork.NewFakeClock(), tree, infobox.DefaultFadeTick)
	return &harness{
		gw:      New(server.URL, 5*time.Second, tree, box),
		tree:    tree,
		control: tree.Resolve("#brew-button")[0],
		server:  server,
	}
}

func respond(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(body)); err != nil {
		t.Errorf("write response: %v", err)
	}
}

func TestSendDisablesControlBeforeDispatch(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		respond(t, w, `{"type":"success"}`)
	})

	results := h.gw.Send(context.Background(), protocol.ServeNext("serve"), h.control, nil)

	// Send returns with the request still in flight; the control must
	// already be locked out.
	if h.control.Enabled() {
		t.Fatalf("control still enabled while request is in flight")
	}
	if !h.control.HasClass(dom.ClassPending) {
		t.Fatalf("control missing pending marker while in flight")
	}

	close(release)
	res := <-results
	if res.Err != nil || !res.Response.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !h.control.Enabled() || h.control.HasClass(dom.ClassPending) {
		t.Fatalf("control not restored after completion")
	}
}

func TestOnSuccessRunsBeforeReEnable(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, `{"type":"success"}`)
	})

	enabledDuringCallback := false
	res := <-h.gw.Send(context.Background(), protocol.ServeNext("serve"), h.control, func(resp *protocol.Response) {
		enabledDuringCallback = h.control.Enabled()
	})

	if res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if enabledDuringCallback {
		t.Fatalf("control re-enabled before success callback ran")
	}
	if !h.control.Enabled() {
		t.Fatalf("control not re-enabled after callback")
	}
}

func TestServerFailureReEnablesAndSkipsCallback(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, `{"type":"fail","fail_msg":"not enough gold"}`)
	})

	callbackRan := false
	res := <-h.gw.Send(context.Background(), protocol.MarketBuy("hops", 3), h.control, func(*protocol.Response) {
		callbackRan = true
	})

	if res.Err != nil {
		t.Fatalf("server-reported failure is not a transport error: %v", res.Err)
	}
	if res.Response.OK() {
		t.Fatalf("expected fail response")
	}
	if callbackRan {
		t.Fatalf("success callback must not run on failure")
	}
	if !h.control.Enabled() || h.control.HasClass(dom.ClassPending) {
		t.Fatalf("control not restored after server failure")
	}
	// The failure message lands next to the control's named info target.
	msgs := h.tree.Resolve(".player-info")
	if len(msgs) != 1 || msgs[0].Text() != "not enough gold" {
		t.Fatalf("failure message not rendered: %v", msgs)
	}
}

func TestTransportFailureReEnablesWithoutRetry(t *testing.T) {
	requests := 0
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	})

	res := <-h.gw.Send(context.Background(), protocol.ServeNext("serve"), h.control, nil)
	if res.Err == nil {
		t.Fatalf("expected transport error")
	}
	if requests != 1 {
		t.Fatalf("request was retried: %d attempts", requests)
	}
	if !h.control.Enabled() || h.control.HasClass(dom.ClassPending) {
		t.Fatalf("control not restored after transport failure")
	}
	if got := h.gw.Stats()["requests_failed"]; got != 1 {
		t.Fatalf("requests_failed = %v, want 1", got)
	}
}

func TestSendWithoutControlStillDelivers(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, `{"type":"success"}`)
	})

	res := <-h.gw.Send(context.Background(), protocol.ServeNext("serve"), nil, nil)
	if res.Err != nil || !res.Response.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSetHeaderWhileRequestsInFlight(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, `{"type":"success"}`)
	})

	// Rotate the session cookie while requests are going out. Run with the
	// race detector this fails if header access is unguarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			h.gw.SetHeader("Cookie", "session="+strconv.Itoa(i))
		}
	}()
	for i := 0; i < 20; i++ {
		if res := <-h.gw.Send(context.Background(), protocol.ServeNext("serve"), nil, nil); res.Err != nil {
			t.Fatalf("Send failed: %v", res.Err)
		}
	}
	<-done

	var gotCookie string
	h2 := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		respond(t, w, `{"type":"success"}`)
	})
	h2.gw.SetHeader("Cookie", "session=final")
	if res := <-h2.gw.Send(context.Background(), protocol.ServeNext("serve"), nil, nil); res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if gotCookie != "session=final" {
		t.Fatalf("Cookie header = %q, want session=final", gotCookie)
	}
}

func TestRequestEnvelopeIsFlattened(t *testing.T) {
	var seen map[string]any
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		respond(t, w, `{"type":"success"}`)
	})

	res := <-h.gw.Send(context.Background(), protocol.MarketBuy("hops", 3), nil, nil)
	if res.Err != nil {
		t.Fatalf("Send failed: %v", res.Err)
	}
	if seen["request_type"] != "market_buy" {
		t.Fatalf("request_type = %v, want market_buy", seen["request_type"])
	}
	if seen["item_id"] != "hops" {
		t.Fatalf("item_id = %v, want hops; parameters must be flattened into the envelope", seen["item_id"])
	}
}

func TestPromptStatesToggleHiddenMarkers(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, `{"type":"success","prompt_states":{"#brew-button":false,"#brew-info":true}}`)
	})
	h.tree.Resolve("#brew-info")[0].AddClass(dom.ClassHidden)

	if _, err := h.gw.Do(context.Background(), protocol.ServeNext("serve")); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if !h.tree.Resolve("#brew-button")[0].HasClass(dom.ClassHidden) {
		t.Fatalf("unavailable prompt not hidden")
	}
	if h.tree.Resolve("#brew-info")[0].HasClass(dom.ClassHidden) {
		t.Fatalf("available prompt still hidden")
	}
}

func TestServerTime(t *testing.T) {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body["request_type"] != "time_sync" {
			t.Errorf("request_type = %v, want time_sync", body["request_type"])
		}
		respond(t, w, `{"type":"success","params":{"now":"`+stamp.Format(time.RFC3339)+`"}}`)
	})

	got, err := h.gw.ServerTime(context.Background())
	if err != nil {
		t.Fatalf("ServerTime failed: %v", err)
	}
	if !got.Equal(stamp) {
		t.Fatalf("ServerTime = %v, want %v", got, stamp)
	}
}
