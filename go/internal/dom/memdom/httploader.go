package memdom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPLoader fetches rendered fragments from the game server's fragment
// endpoints. Station subtrees live under /play/html/station/<name>, single
// elements under /play/html/element/<id>.
type HTTPLoader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLoader returns a loader against the server's base URL.
func NewHTTPLoader(baseURL string, timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPLoader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// LoadStation implements Loader.
func (l *HTTPLoader) LoadStation(ctx context.Context, station string) (Fragment, error) {
	var frag Fragment
	if err := l.get(ctx, "/play/html/station/"+station, &frag); err != nil {
		return nil, err
	}
	return frag, nil
}

// LoadElement implements Loader.
func (l *HTTPLoader) LoadElement(ctx context.Context, id string) (Spec, error) {
	var spec Spec
	if err := l.get(ctx, "/play/html/element/"+id, &spec); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (l *HTTPLoader) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create fragment request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch fragment %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fragment %s returned status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode fragment %s: %w", path, err)
	}
	return nil
}
