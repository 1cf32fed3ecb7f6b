package main

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one message to the operator.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// SMTPSender sends plain-text mail with PLAIN auth. smtp.SendMail upgrades to
// TLS when the server offers STARTTLS.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Password string
	To       string
}

func (s *SMTPSender) Send(_ context.Context, subject, body string) error {
	if s.From == "" || s.To == "" {
		return fmt.Errorf("mail sender or receiver not configured")
	}
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	auth := smtp.PlainAuth("", s.From, s.Password, s.Host)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", s.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(addr, auth, s.From, []string{s.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

type NotifyPolicy struct {
	OnFailure          bool
	OnlyWhenAvailable  bool
	UnavailablePhrases []string
}

// NotificationDispatcher turns a run outcome into a message. Delivery errors
// never change the outcome.
type NotificationDispatcher struct {
	sender   Sender
	policy   NotifyPolicy
	link     string
	messages *Locale
	now      func() time.Time
	logger   *zap.Logger
}

func NewNotificationDispatcher(sender Sender, policy NotifyPolicy, link string, messages *Locale, logger *zap.Logger) *NotificationDispatcher {
	if messages == nil {
		messages = DefaultLocale()
	}
	return &NotificationDispatcher{
		sender:   sender,
		policy:   policy,
		link:     link,
		messages: messages,
		now:      time.Now,
		logger:   logger.Named("notify"),
	}
}

// Compose builds the subject and body, and reports whether the policy wants
// this outcome delivered at all.
func (n *NotificationDispatcher) Compose(out RunOutcome) (subject, body string, send bool) {
	stamp := n.now().Format(time.RFC1123)

	if !out.Success {
		if !n.policy.OnFailure {
			return "", "", false
		}
		subject = n.messages.T("notify_subject_failed", out.FinalStage)
		body = n.messages.T("notify_body_failed", out.FinalStage, out.Reason)
		if out.Checkpoint != "" {
			body += n.messages.T("notify_body_checkpoint", out.Checkpoint)
		}
		body += n.messages.T("notify_footer", stamp, n.link)
		return subject, body, true
	}

	unavailable := containsKeyword(out.Message, n.policy.UnavailablePhrases)
	if n.policy.OnlyWhenAvailable && unavailable {
		return "", "", false
	}

	subject = n.messages.T("notify_subject_status")
	if !unavailable {
		subject = n.messages.T("notify_subject_available")
	}
	body = out.Message + "\n" + n.messages.T("notify_footer", stamp, n.link)
	return subject, body, true
}

func (n *NotificationDispatcher) Deliver(ctx context.Context, out RunOutcome) {
	subject, body, send := n.Compose(out)
	if !send {
		n.logger.Info("Notification skipped by policy", zap.Bool("success", out.Success))
		return
	}
	if n.sender == nil {
		n.logger.Warn("No notification channel configured", zap.String("subject", subject))
		return
	}
	if err := n.sender.Send(ctx, subject, body); err != nil {
		n.logger.Error("Notification delivery failed", zap.Error(err))
		return
	}
	n.logger.Info("Notification sent", zap.String("subject", subject))
}
