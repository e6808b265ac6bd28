package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Webhook poste les annonces sur un webhook compatible Discord.
// L'abonné est mentionné et seule cette mention est autorisée.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

type allowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

type webhookPayload struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// Message est le texte envoyé pour une annonce.
func Message(subscriberID string, a ports.Announcement) string {
	return fmt.Sprintf("<@%s> Episode %d of **%s** is out!", subscriberID, a.Episode, a.SeriesTitle)
}

func (w *Webhook) Notify(ctx context.Context, subscriberID string, a ports.Announcement) error {
	payload := webhookPayload{
		Content:         Message(subscriberID, a),
		AllowedMentions: allowedMentions{Parse: []string{}, Users: []string{subscriberID}},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Log remplace le webhook quand aucun n'est configuré: l'annonce est seulement journalisée.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, subscriberID string, a ports.Announcement) error {
	l.Logger.Info().
		Str("subscriber", subscriberID).
		Str("series", a.Series.String()).
		Int("episode", a.Episode).
		Msg("announcement (no webhook configured)")
	return nil
}

// New choisit l'implémentation selon la config.
func New(logger zerolog.Logger, url string, timeout time.Duration) ports.Notifier {
	if strings.TrimSpace(url) == "" {
		return Log{Logger: logger}
	}
	return NewWebhook(url, timeout)
}
