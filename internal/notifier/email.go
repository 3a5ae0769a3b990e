package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

// EmailConfig contains SMTP configuration.
type EmailConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	Username    string   `mapstructure:"username"`
	PasswordRef string   `mapstructure:"password_ref"`
	From        string   `mapstructure:"from"`
	To          []string `mapstructure:"to"`
	StartTLS    bool     `mapstructure:"starttls"`
}

type emailNotifier struct {
	id       string
	cfg      EmailConfig
	password string
	send     func(em *email.Email, addr string, auth smtp.Auth) error
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(id string, cfg EmailConfig, factory Factory) (Notifier, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 465
	}
	pass, err := factory.secret(cfg.PasswordRef)
	if err != nil {
		return nil, err
	}
	n := &emailNotifier{
		id:       id,
		cfg:      cfg,
		password: pass,
	}
	n.send = n.deliver
	return n, nil
}

func (e *emailNotifier) ID() string {
	return e.id
}

func (e *emailNotifier) Notify(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	em := email.NewEmail()
	em.From = e.cfg.From
	em.To = append([]string{}, e.cfg.To...)
	em.Subject = alert.Title
	em.Text = []byte(emailBody(alert))

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.password, e.cfg.SMTPHost)
	}
	return e.send(em, addr, auth)
}

func (e *emailNotifier) deliver(em *email.Email, addr string, auth smtp.Auth) error {
	tlsConfig := &tls.Config{ServerName: e.cfg.SMTPHost}
	if e.cfg.StartTLS {
		return em.SendWithStartTLS(addr, auth, tlsConfig)
	}
	return em.SendWithTLS(addr, auth, tlsConfig)
}

func emailBody(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Product: %s\n", alert.ProductName)
	fmt.Fprintf(&b, "URL: %s\n", alert.URL)
	fmt.Fprintf(&b, "Status: %s\n", alert.Status)
	fmt.Fprintf(&b, "Check: %s\n", alert.CheckStatus)
	if !alert.OccurredAt.IsZero() {
		fmt.Fprintf(&b, "Checked at: %s\n", alert.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
