// Package email sends retry and failure alerts over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Config holds SMTP settings and the alert switches from the DAG arguments.
type Config struct {
	SMTPAddr  string
	Username  string
	Password  string
	From      string
	To        []string
	OnFailure bool
	OnRetry   bool
}

// SendFunc delivers a composed message; replaced in tests.
type SendFunc func(msg *email.Email, addr string, auth smtp.Auth) error

// Notifier implements pipeline.Notifier for email alerts.
type Notifier struct {
	cfg  Config
	auth smtp.Auth
	send SendFunc
}

// New validates cfg and returns a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.SMTPAddr == "" {
		return nil, errors.New("smtp address is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("from and to addresses are required")
	}
	n := &Notifier{cfg: cfg, send: func(msg *email.Email, addr string, auth smtp.Auth) error {
		return msg.Send(addr, auth)
	}}
	if cfg.Username != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			return nil, fmt.Errorf("parse smtp address: %w", err)
		}
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return n, nil
}

// WithSend overrides how messages are delivered.
func (n *Notifier) WithSend(fn SendFunc) *Notifier {
	n.send = fn
	return n
}

// Notify sends an alert for failures and retries when the matching switch
// is on; other events are ignored.
func (n *Notifier) Notify(ctx context.Context, ev pipeline.Event) error {
	switch {
	case ev.Kind == pipeline.EventFailure && n.cfg.OnFailure:
	case ev.Kind == pipeline.EventRetry && n.cfg.OnRetry:
	default:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Compose(n.cfg.From, n.cfg.To, ev)
	if err := n.send(msg, n.cfg.SMTPAddr, n.auth); err != nil {
		return fmt.Errorf("send %s alert: %w", ev.Kind, err)
	}
	return nil
}

// Compose builds the alert message for ev.
func Compose(from string, to []string, ev pipeline.Event) *email.Email {
	msg := email.NewEmail()
	msg.From = from
	msg.To = append([]string(nil), to...)

	verb := "failed"
	if ev.Kind == pipeline.EventRetry {
		verb = "retrying"
	}
	subject := fmt.Sprintf("[%s] %s", ev.DAGID, verb)
	if ev.Task != "" {
		subject += " at " + ev.Task
	}
	msg.Subject = subject

	var b strings.Builder
	fmt.Fprintf(&b, "DAG: %s\n", ev.DAGID)
	fmt.Fprintf(&b, "Owner: %s\n", ev.Owner)
	fmt.Fprintf(&b, "Run: %s\n", ev.RunID)
	if ev.Task != "" {
		fmt.Fprintf(&b, "Task: %s (attempt %d)\n", ev.Task, ev.Attempt)
	}
	fmt.Fprintf(&b, "Time: %s\n", ev.At.UTC().Format(time.RFC3339))
	if ev.Error != "" {
		fmt.Fprintf(&b, "\n%s\n", ev.Error)
	}
	msg.Text = []byte(b.String())
	return msg
}
