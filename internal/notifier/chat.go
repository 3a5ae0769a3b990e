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
)

// SlackConfig defines Slack webhook integration.
type SlackConfig struct {
	WebhookURLRef string `mapstructure:"webhook_url_ref"`
	Channel       string `mapstructure:"channel"`
	Username      string `mapstructure:"username"`
}

// DiscordConfig configures a Discord webhook.
type DiscordConfig struct {
	WebhookURLRef string `mapstructure:"webhook_url_ref"`
	Username      string `mapstructure:"username"`
}

// TelegramConfig configures Telegram notifications.
type TelegramConfig struct {
	BotTokenRef string `mapstructure:"bot_token_ref"`
	ChatID      string `mapstructure:"chat_id"`
	ParseMode   string `mapstructure:"parse_mode"`
	APIBase     string `mapstructure:"api_base"`
}

// chatNotifier posts a JSON document to a chat service endpoint.
type chatNotifier struct {
	id      string
	kind    string
	url     string
	payload func(Alert) map[string]any
	client  *http.Client
}

// NewSlackNotifier builds a Slack notifier.
func NewSlackNotifier(id string, cfg SlackConfig, factory Factory) (Notifier, error) {
	url, err := factory.secret(cfg.WebhookURLRef)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("slack: webhook_url_ref is required")
	}
	return newChatNotifier(id, "slack", url, func(a Alert) map[string]any {
		payload := map[string]any{"text": fmt.Sprintf("*%s* %s\nStatus: %s", a.ProductName, a.Message, a.Status)}
		if cfg.Channel != "" {
			payload["channel"] = cfg.Channel
		}
		if cfg.Username != "" {
			payload["username"] = cfg.Username
		}
		return payload
	}), nil
}

// NewDiscordNotifier builds a Discord notifier.
func NewDiscordNotifier(id string, cfg DiscordConfig, factory Factory) (Notifier, error) {
	url, err := factory.secret(cfg.WebhookURLRef)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("discord: webhook_url_ref is required")
	}
	return newChatNotifier(id, "discord", url, func(a Alert) map[string]any {
		payload := map[string]any{"content": fmt.Sprintf("**%s** %s\nStatus: %s", a.ProductName, a.Message, a.Status)}
		if cfg.Username != "" {
			payload["username"] = cfg.Username
		}
		return payload
	}), nil
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(id string, cfg TelegramConfig, factory Factory) (Notifier, error) {
	token, err := factory.secret(cfg.BotTokenRef)
	if err != nil {
		return nil, err
	}
	if token == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram: bot_token_ref and chat_id are required")
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	parseMode := cfg.ParseMode
	if parseMode == "" {
		parseMode = "Markdown"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, token)
	return newChatNotifier(id, "telegram", url, func(a Alert) map[string]any {
		return map[string]any{
			"chat_id":    cfg.ChatID,
			"parse_mode": parseMode,
			"text":       fmt.Sprintf("*%s* %s\nStatus: %s", a.ProductName, a.Message, strings.ToUpper(string(a.Status))),
		}
	}), nil
}

func newChatNotifier(id, kind, url string, payload func(Alert) map[string]any) *chatNotifier {
	return &chatNotifier{
		id:      id,
		kind:    kind,
		url:     url,
		payload: payload,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *chatNotifier) ID() string {
	return c.id
}

func (c *chatNotifier) Notify(ctx context.Context, alert Alert) error {
	b, err := json.Marshal(c.payload(alert))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook: %s", c.kind, resp.Status)
	}
	return nil
}
