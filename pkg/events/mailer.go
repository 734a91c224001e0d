package events

import (
	"bytes"
	"fmt"
	"net/smtp"
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// AlertMailer is the Handler that sends a transition as an email to a
// Service's configured recipient list, grounded on original_source's
// mail.c composing one RFC 5322 message per recipient over SMTP.
type AlertMailer struct {
	SMTPAddr string // host:port of the relay
	From     string
	Hostname string // used in the Subject line; the monitored host's name

	// dial is overridable in tests so they do not need a live SMTP relay.
	dial func(addr, from string, to []string, msg []byte) error
}

// NewAlertMailer builds an AlertMailer that sends through the relay at
// smtpAddr.
func NewAlertMailer(smtpAddr, from, hostname string) *AlertMailer {
	return &AlertMailer{
		SMTPAddr: smtpAddr,
		From:     from,
		Hostname: hostname,
		dial:     smtp.SendMail,
	}
}

func (m *AlertMailer) Name() string               { return "alert" }
func (m *AlertMailer) Flag() types.DeliveryHandler { return types.HandlerAlert }

// Deliver sends one message per recipient in s.Mail. It returns the first
// send error encountered; callers treat any error as "retry on next
// cycle" and leave the handler's bit set.
func (m *AlertMailer) Deliver(s *types.Service, ev *types.Event) error {
	if len(s.Mail) == 0 {
		return nil
	}
	body := m.compose(s, ev)
	for _, to := range s.Mail {
		if err := m.dial(m.SMTPAddr, m.From, []string{to}, body); err != nil {
			return fmt.Errorf("events: sending alert mail to %s: %w", to, err)
		}
	}
	return nil
}

func (m *AlertMailer) compose(s *types.Service, ev *types.Event) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "Subject: %s %s %s\r\n", m.Hostname, s.Name, ev.Outcome.String())
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "Service: %s\r\n", s.Name)
	fmt.Fprintf(&buf, "Rule: %s\r\n", ev.Kind.String())
	fmt.Fprintf(&buf, "Outcome: %s\r\n", ev.Outcome.String())
	fmt.Fprintf(&buf, "Date: %s\r\n", ev.CollectedAt.Format(time.RFC1123Z))
	if ev.Message != "" {
		fmt.Fprintf(&buf, "Description: %s\r\n", ev.Message)
	}
	return buf.Bytes()
}
