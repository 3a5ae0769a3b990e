package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/osbits/expira/internal/product"
	"github.com/osbits/expira/internal/render"
)

// Channel is the alert class a notifier is bound to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Alert is a single notification about a product check.
type Alert struct {
	UserID      string
	ProductID   string
	ProductName string
	URL         string
	Channel     Channel
	Title       string
	Message     string
	Status      product.Status
	CheckStatus product.CheckStatus
	OccurredAt  time.Time
}

// Notifier represents a delivery mechanism.
type Notifier interface {
	ID() string
	Notify(ctx context.Context, alert Alert) error
}

// Factory carries shared dependencies for notifier construction.
type Factory struct {
	Secrets map[string]string
	Render  *render.Engine
}

func (f Factory) secret(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	val, ok := f.Secrets[ref]
	if !ok {
		return "", fmt.Errorf("missing secret %q", ref)
	}
	return val, nil
}

func (a Alert) data() map[string]any {
	return map[string]any{
		"user_id":      a.UserID,
		"product_id":   a.ProductID,
		"product_name": a.ProductName,
		"url":          a.URL,
		"channel":      string(a.Channel),
		"title":        a.Title,
		"message":      a.Message,
		"status":       string(a.Status),
		"check_status": string(a.CheckStatus),
		"occurred_at":  a.OccurredAt.UTC().Format(time.RFC3339),
	}
}
