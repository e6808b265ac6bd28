package jellyfin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// HTTPDoer décrit le client HTTP utilisé pour parler à Jellyfin.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher déclenche un scan de la bibliothèque Jellyfin.
type Refresher struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

func NewRefresher(baseURL, apiKey string, client HTTPDoer) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Refresher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

// New renvoie nil (pas de refresh) si Jellyfin n'est pas configuré.
func New(enabled bool, baseURL, apiKey string) ports.LibraryRefresher {
	if !enabled || strings.TrimSpace(baseURL) == "" || strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return NewRefresher(baseURL, apiKey, nil)
}

func (r *Refresher) Refresh(ctx context.Context) error {
	if r == nil || r.baseURL == "" || r.apiKey == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/Library/Refresh", nil)
	if err != nil {
		return fmt.Errorf("build jellyfin refresh request: %w", err)
	}
	req.Header.Set("X-Emby-Token", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh jellyfin library: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("jellyfin refresh returned %d", resp.StatusCode)
	}
	return nil
}
