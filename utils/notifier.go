package utils

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"salespulse/config"
)

// Notifier sends operational alert emails. The retry queue uses it to
// surface dead-lettered sync units for manual intervention.
type Notifier interface {
	NotifyDeadLetter(sourceName, unit, lastError string, attempts int) error
}

type mailNotifier struct {
	dialer    *gomail.Dialer
	from      string
	recipient string
}

// NewMailNotifier builds a Notifier from the SMTP config. Returns a no-op
// notifier when no recipient is configured.
func NewMailNotifier() Notifier {
	cfg := config.AppConfig
	if cfg.AlertRecipient == "" || cfg.SMTP.Host == "" {
		return noopNotifier{}
	}
	return &mailNotifier{
		dialer:    gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password),
		from:      cfg.SMTP.From,
		recipient: cfg.AlertRecipient,
	}
}

func (n *mailNotifier) NotifyDeadLetter(sourceName, unit, lastError string, attempts int) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.recipient)
	m.SetHeader("Subject", fmt.Sprintf("[salespulse] sync dead letter: %s/%s", sourceName, unit))
	m.SetBody("text/plain", fmt.Sprintf(
		"A sync unit exhausted its retry budget and needs manual intervention.\n\n"+
			"Source: %s\nUnit: %s\nAttempts: %d\nLast error: %s\n",
		sourceName, unit, attempts, lastError))
	return n.dialer.DialAndSend(m)
}

type noopNotifier struct{}

func (noopNotifier) NotifyDeadLetter(string, string, string, int) error { return nil }
