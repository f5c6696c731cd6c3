package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mkarlin14/tavernkeep/go/internal/dom"
	"github.com/mkarlin14/tavernkeep/go/internal/infobox"
	"github.com/mkarlin14/tavernkeep/go/internal/protocol"
)

// RequestPath is the single endpoint every player request posts to.
const RequestPath = "/play/request"

// Result is the tagged outcome of an outbound request. Exactly one Result is
// delivered per Send.
type Result struct {
	Response *protocol.Response
	Err      error
}

// Gateway issues outbound mutation requests and owns the per-control
// pending/disabled discipline. Responses never retry; both transport and
// server-reported failures render through the info-box display path.
type Gateway struct {
	endpoint string
	client   *http.Client
	renderer dom.Renderer
	box      *infobox.Box

	mu       sync.Mutex
	headers  map[string]string
	inflight int
	sent     int
	failed   int
}

// New returns a gateway posting to serverURL's request endpoint.
func New(serverURL string, timeout time.Duration, renderer dom.Renderer, box *infobox.Box) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		endpoint: serverURL + RequestPath,
		client:   &http.Client{Timeout: timeout},
		headers:  make(map[string]string),
		renderer: renderer,
		box:      box,
	}
}

// SetHeader sets a header on every outbound request (session cookie, auth).
// Safe to call while requests are in flight.
func (g *Gateway) SetHeader(key, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.headers[key] = value
}

func (g *Gateway) headerSnapshot() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.headers))
	for k, v := range g.headers {
		out[k] = v
	}
	return out
}

// pendingRequest binds one triggering control to one in-flight request and
// guarantees exactly-once re-enable on every exit path.
type pendingRequest struct {
	id      uuid.UUID
	control dom.Element
	release sync.Once
}

func (p *pendingRequest) begin() {
	if p.control == nil {
		return
	}
	p.control.SetEnabled(false)
	p.control.AddClass(dom.ClassPending)
}

func (p *pendingRequest) end() {
	p.release.Do(func() {
		if p.control == nil {
			return
		}
		p.control.SetEnabled(true)
		p.control.RemoveClass(dom.ClassPending)
	})
}

// Send dispatches req, disabling control synchronously before the request
// leaves so repeated interaction while in flight cannot double-submit. If
// onSuccess is non-nil it runs with the parsed response before the control is
// re-enabled. The returned channel delivers the tagged outcome once.
func (g *Gateway) Send(ctx context.Context, req protocol.Request, control dom.Element, onSuccess func(*protocol.Response)) <-chan Result {
	pending := &pendingRequest{id: uuid.New(), control: control}
	pending.begin()

	results := make(chan Result, 1)
	go func() {
		defer pending.end()

		resp, err := g.Do(ctx, req)
		if err != nil {
			g.showError(control, "The request could not reach the server.")
			g.countFailure()
			results <- Result{Err: err}
			return
		}
		if !resp.OK() {
			g.showError(control, resp.FailMsg)
			g.countFailure()
			results <- Result{Response: resp}
			return
		}

		if onSuccess != nil {
			onSuccess(resp)
		}
		results <- Result{Response: resp}
	}()
	return results
}

// Do performs one request synchronously and handles the envelope-level side
// effects every response can carry (prompt state markers, server log lines).
func (g *Gateway) Do(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.RequestType, err)
	}

	g.trackStart()
	defer g.trackEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range g.headerSnapshot() {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		payload, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", httpResp.StatusCode, payload)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	g.applyEnvelope(&resp, req.RequestType)
	return &resp, nil
}

// ServerTime implements clock.TimeSource via a time_sync request.
func (g *Gateway) ServerTime(ctx context.Context) (time.Time, error) {
	resp, err := g.Do(ctx, protocol.TimeSync())
	if err != nil {
		return time.Time{}, err
	}
	if !resp.OK() {
		return time.Time{}, fmt.Errorf("time_sync rejected: %s", resp.FailMsg)
	}
	ts, ok := resp.ServerTime()
	if !ok {
		return time.Time{}, fmt.Errorf("time_sync response carried no timestamp")
	}
	return ts, nil
}

// applyEnvelope handles response fields that are independent of the request
// that triggered them.
func (g *Gateway) applyEnvelope(resp *protocol.Response, requestType string) {
	if resp.Log != "" {
		log.Info().Str("request_type", requestType).Str("server_log", resp.Log).Msg("server log")
	}
	if g.renderer == nil {
		return
	}
	for selector, available := range resp.PromptStates {
		for _, el := range g.renderer.Resolve(selector) {
			if available {
				el.RemoveClass(dom.ClassHidden)
			} else {
				el.AddClass(dom.ClassHidden)
			}
		}
	}
}

// showError renders a failure next to the triggering control when it names an
// info target, otherwise in the global sink.
func (g *Gateway) showError(control dom.Element, msg string) {
	if msg == "" {
		msg = "Something went wrong."
	}
	target := ""
	if control != nil {
		target = control.Attr("info_target")
	}
	if g.box != nil {
		g.box.ShowError(target, msg)
	}
}

func (g *Gateway) trackStart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight++
	g.sent++
}

func (g *Gateway) trackEnd() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
}

func (g *Gateway) countFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed++
}

// Stats summarizes gateway traffic for the debug endpoint.
func (g *Gateway) Stats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"requests_sent":     g.sent,
		"requests_inflight": g.inflight,
		"requests_failed":   g.failed,
	}
}
