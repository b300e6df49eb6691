package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookSender posts replies as JSON to a platform bridge endpoint.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
}

// webhookPayload is the body posted to the bridge.
type webhookPayload struct {
	Platform       models.Platform `json:"platform"`
	PlatformUserID string          `json:"platform_user_id"`
	Text           string          `json:"text"`
}

// NewWebhookSender creates a WebhookSender. token is sent as a bearer token
// when set.
func NewWebhookSender(url, token string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &WebhookSender{url: url, token: token, client: client}
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, platform models.Platform, platformUserID, text string) error {
	body, err := json.Marshal(webhookPayload{Platform: platform, PlatformUserID: platformUserID, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	slog.Debug("WebhookSender.Send: delivered", "platform", platform, "status", resp.StatusCode)
	return nil
}

// LogSender only logs replies. It is used for platforms without a bridge.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, platform models.Platform, platformUserID, text string) error {
	slog.Info("LogSender.Send: outbound message", "platform", platform, "to", platformUserID, "text", text)
	return nil
}
