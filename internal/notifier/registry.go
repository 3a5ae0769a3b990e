package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/osbits/expira/internal/config"
	"github.com/osbits/expira/internal/storage"
)

// DeliveryLog records delivery attempts.
type DeliveryLog interface {
	RecordNotification(ctx context.Context, entry storage.NotificationLog) error
}

// Registry stores notifiers by ID and routes alerts by channel.
type Registry struct {
	items    map[string]Notifier
	channels map[Channel][]string
	log      DeliveryLog
	logger   *slog.Logger
}

// NewRegistry creates a registry. log and logger may be nil.
func NewRegistry(log DeliveryLog, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		items:    map[string]Notifier{},
		channels: map[Channel][]string{},
		log:      log,
		logger:   logger,
	}
}

// Add binds a notifier to a channel.
func (r *Registry) Add(channel Channel, n Notifier) error {
	if _, exists := r.items[n.ID()]; exists {
		return fmt.Errorf("duplicate notifier %q", n.ID())
	}
	r.items[n.ID()] = n
	r.channels[channel] = append(r.channels[channel], n.ID())
	return nil
}

// Get returns notifier by id.
func (r *Registry) Get(id string) (Notifier, bool) {
	n, ok := r.items[id]
	return n, ok
}

// Channel returns the notifier ids bound to channel in registration order.
func (r *Registry) Channel(channel Channel) []string {
	return append([]string(nil), r.channels[channel]...)
}

// Dispatch delivers the alert to every notifier bound to its channel and
// records each attempt. A channel with no notifiers is a no-op.
func (r *Registry) Dispatch(ctx context.Context, alert Alert) error {
	if r == nil {
		return nil
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now()
	}
	var errs []error
	for _, id := range r.channels[alert.Channel] {
		n := r.items[id]
		err := n.Notify(ctx, alert)
		entry := storage.NotificationLog{
			NotifierID: id,
			Channel:    string(alert.Channel),
			UserID:     alert.UserID,
			ProductID:  alert.ProductID,
			Title:      alert.Title,
			Message:    alert.Message,
			Status:     "delivered",
			OccurredAt: alert.OccurredAt,
		}
		if err != nil {
			entry.Status = "failed"
			entry.Error = err.Error()
			errs = append(errs, fmt.Errorf("notifier %q: %w", id, err))
			r.logger.Warn("notification failed", "notifier", id, "channel", alert.Channel, "product_id", alert.ProductID, "error", err)
		} else {
			r.logger.Info("notification sent", "notifier", id, "channel", alert.Channel, "product_id", alert.ProductID)
		}
		if r.log != nil {
			if logErr := r.log.RecordNotification(ctx, entry); logErr != nil {
				r.logger.Error("record notification", "notifier", id, "error", logErr)
			}
		}
	}
	return errors.Join(errs...)
}

// Build constructs notifiers from config.
func Build(factory Factory, configs []config.NotifierConfig, log DeliveryLog, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(log, logger)
	for _, cfg := range configs {
		n, err := buildNotifier(factory, cfg)
		if err != nil {
			return nil, fmt.Errorf("notifier %q: %w", cfg.ID, err)
		}
		if err := reg.Add(Channel(cfg.Channel), n); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildNotifier(factory Factory, cfg config.NotifierConfig) (Notifier, error) {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	switch typ {
	case "email":
		var nc EmailConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewEmailNotifier(cfg.ID, nc, factory)
	case "sms", "twilio", "vonage":
		var nc SMSConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		if nc.Provider == "" && typ != "sms" {
			nc.Provider = typ
		}
		return NewSMSNotifier(cfg.ID, nc, factory)
	case "webhook":
		var nc WebhookConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewWebhookNotifier(cfg.ID, nc, factory)
	case "slack":
		var nc SlackConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewSlackNotifier(cfg.ID, nc, factory)
	case "telegram":
		var nc TelegramConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewTelegramNotifier(cfg.ID, nc, factory)
	case "discord":
		var nc DiscordConfig
		if err := decode(cfg.Config, &nc); err != nil {
			return nil, err
		}
		return NewDiscordNotifier(cfg.ID, nc, factory)
	default:
		return nil, fmt.Errorf("unsupported notifier type %q", cfg.Type)
	}
}

func decode(input map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
