package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPProvider fetches snapshots from the checklist service over HTTP.
// Expects GET {base}/entities/{id}/snapshot returning a Snapshot document.
type HTTPProvider struct {
	base   string
	client *http.Client
}

// NewHTTPProvider builds a provider against the given base URL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		base:   baseURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProvider) Snapshot(ctx context.Context, entityID string) (Snapshot, error) {
	endpoint := p.base + "/entities/" + url.PathEscape(entityID) + "/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("snapshot fetch: unexpected status %d", resp.StatusCode)
	}
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot decode: %w", err)
	}
	return s, nil
}

// NullProvider reports an empty snapshot for every entity, so evaluation
// fails closed until a checklist source is attached.
type NullProvider struct{}

func (NullProvider) Snapshot(ctx context.Context, entityID string) (Snapshot, error) {
	return Snapshot{}, nil
}
