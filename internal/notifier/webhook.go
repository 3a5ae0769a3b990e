package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/osbits/expira/internal/render"
)

// WebhookConfig represents a generic webhook notifier.
type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Headers  map[string]string `mapstructure:"headers"`
	Template string            `mapstructure:"template"`
}

type webhookNotifier struct {
	id       string
	cfg      WebhookConfig
	secrets  map[string]string
	renderer *render.Engine
	client   *http.Client
}

// NewWebhookNotifier creates a webhook notifier. Without a template the
// alert is posted as JSON.
func NewWebhookNotifier(id string, cfg WebhookConfig, factory Factory) (Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	engine := factory.Render
	if engine == nil {
		engine = render.New()
	}
	return &webhookNotifier{
		id:       id,
		cfg:      cfg,
		secrets:  factory.Secrets,
		renderer: engine,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (w *webhookNotifier) ID() string {
	return w.id
}

func (w *webhookNotifier) Notify(ctx context.Context, alert Alert) error {
	tc := render.TemplateContext{Secrets: w.secrets, Data: alert.data()}
	body, contentType, err := w.payload(tc)
	if err != nil {
		return err
	}
	method := strings.ToUpper(w.cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	headers, err := w.renderer.RenderMap(w.cfg.Headers, tc)
	if err != nil {
		return fmt.Errorf("render headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %s", w.cfg.URL, resp.Status)
	}
	return nil
}

// payload renders the configured template, or the alert fields as JSON.
func (w *webhookNotifier) payload(tc render.TemplateContext) ([]byte, string, error) {
	if w.cfg.Template == "" {
		b, err := json.Marshal(tc.Data)
		if err != nil {
			return nil, "", fmt.Errorf("encode alert: %w", err)
		}
		return b, "application/json", nil
	}
	rendered, err := w.renderer.RenderString(w.cfg.Template, tc)
	if err != nil {
		return nil, "", fmt.Errorf("render template: %w", err)
	}
	contentType := "text/plain"
	if trimmed := strings.TrimSpace(rendered); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		contentType = "application/json"
	}
	return []byte(rendered), contentType, nil
}
