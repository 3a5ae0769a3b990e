package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSConfig configures SMS delivery for either provider.
type SMSConfig struct {
	Provider      string   `mapstructure:"provider"`
	AccountSID    string   `mapstructure:"account_sid"`
	AuthTokenRef  string   `mapstructure:"auth_token_ref"`
	APIKey        string   `mapstructure:"api_key"`
	APIKeyRef     string   `mapstructure:"api_key_ref"`
	APISecretRef  string   `mapstructure:"api_secret_ref"`
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	MessagePrefix string   `mapstructure:"message_prefix"`
	Endpoint      string   `mapstructure:"endpoint"`
}

const (
	twilioEndpoint = "https://api.twilio.com/2010-04-01"
	vonageEndpoint = "https://rest.nexmo.com/sms/json"
)

type smsNotifier struct {
	id       string
	cfg      SMSConfig
	username string
	password string
	client   *http.Client
}

// NewSMSNotifier constructs a Twilio or Vonage (Nexmo) SMS notifier.
func NewSMSNotifier(id string, cfg SMSConfig, factory Factory) (Notifier, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "twilio"
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("sms: at least one recipient is required")
	}
	n := &smsNotifier{
		id:     id,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	switch cfg.Provider {
	case "twilio":
		token, err := factory.secret(cfg.AuthTokenRef)
		if err != nil {
			return nil, fmt.Errorf("twilio sms: %w", err)
		}
		if cfg.AccountSID == "" {
			return nil, errors.New("twilio sms: account_sid is required")
		}
		n.username, n.password = cfg.AccountSID, token
		if n.cfg.Endpoint == "" {
			n.cfg.Endpoint = twilioEndpoint
		}
	case "vonage":
		key := cfg.APIKey
		if key == "" {
			v, err := factory.secret(cfg.APIKeyRef)
			if err != nil {
				return nil, fmt.Errorf("vonage sms: %w", err)
			}
			key = v
		}
		if key == "" {
			return nil, errors.New("vonage sms: api_key or api_key_ref required")
		}
		secret, err := factory.secret(cfg.APISecretRef)
		if err != nil {
			return nil, fmt.Errorf("vonage sms: %w", err)
		}
		if secret == "" {
			return nil, errors.New("vonage sms: api_secret_ref required")
		}
		n.username, n.password = key, secret
		if n.cfg.Endpoint == "" {
			n.cfg.Endpoint = vonageEndpoint
		}
	default:
		return nil, fmt.Errorf("unsupported sms provider %q", cfg.Provider)
	}
	return n, nil
}

func (s *smsNotifier) ID() string {
	return s.id
}

func (s *smsNotifier) Notify(ctx context.Context, alert Alert) error {
	body := smsText(alert)
	if s.cfg.MessagePrefix != "" {
		body = s.cfg.MessagePrefix + " " + body
	}
	for _, to := range s.cfg.To {
		if err := s.send(ctx, to, body); err != nil {
			return err
		}
	}
	return nil
}

func (s *smsNotifier) send(ctx context.Context, to, body string) error {
	form := url.Values{}
	var endpoint string
	switch s.cfg.Provider {
	case "vonage":
		endpoint = s.cfg.Endpoint
		form.Set("api_key", s.username)
		form.Set("api_secret", s.password)
		form.Set("from", s.cfg.From)
		form.Set("to", to)
		form.Set("text", body)
	default:
		endpoint = fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.AccountSID)
		form.Set("From", s.cfg.From)
		form.Set("To", to)
		form.Set("Body", body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.cfg.Provider == "twilio" {
		req.SetBasicAuth(s.username, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s sms failed: %s", s.cfg.Provider, resp.Status)
	}
	return nil
}

func smsText(alert Alert) string {
	return fmt.Sprintf("%s: %s (%s)", alert.ProductName, alert.Message, strings.ToUpper(string(alert.Status)))
}
