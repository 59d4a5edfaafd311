// Package notify delivers user-facing email and operator alerts. Both
// channels are best-effort: a failed notification is logged and dropped,
// never allowed to fail a sync job.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/sshz/workbin-syncer/internal/config"
	"github.com/sshz/workbin-syncer/internal/logging"
	"github.com/sshz/workbin-syncer/pkg/version"
)

const subjectPrefix = "Workbin Syncer: "

var signature = fmt.Sprintf(`

This is a system generated email, please do not reply. Contact support@sshz.org if you have any question.

Workbin Syncer %s`, version.Version)

// Notifier is the notification surface the engine depends on.
type Notifier interface {
	User(ctx context.Context, email, subject, body string)
	Operator(ctx context.Context, subject, body string)
}

// Service sends user email over SMTP and operator alerts to an ntfy topic.
// Either channel degrades to a logged no-op when unconfigured.
type Service struct {
	smtp   config.SMTP
	mailer *mail.Client
	ntfy   string
	http   *http.Client
	logger *slog.Logger
}

// NewService builds the notifier from configuration.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	logger = logging.WithComponent(logger, "notify")

	s := &Service{
		smtp:   cfg.SMTP,
		ntfy:   strings.TrimSpace(cfg.Operator.NtfyTopic),
		logger: logger,
	}

	if cfg.SMTP.Host != "" {
		client, err := mail.NewClient(cfg.SMTP.Host,
			mail.WithPort(cfg.SMTP.Port),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTP.Username),
			mail.WithPassword(cfg.SMTP.Password),
			mail.WithSSL(),
		)
		if err != nil {
			logger.Error("smtp client unavailable, user email disabled", slog.String("error", err.Error()))
		} else {
			s.mailer = client
		}
	}

	timeout := time.Duration(cfg.Operator.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.http = &http.Client{Timeout: timeout}

	return s
}

// User emails the user a plain-language message with the standard signature.
func (s *Service) User(ctx context.Context, email, subject, body string) {
	if s.mailer == nil || email == "" {
		s.logger.Info("user notification skipped",
			slog.String("email", email), slog.String("subject", subject))
		return
	}

	msg := mail.NewMsg()
	if err := msg.From(s.smtp.From); err != nil {
		s.logger.Error("bad mail sender", slog.String("error", err.Error()))
		return
	}
	if err := msg.To(email); err != nil {
		s.logger.Error("bad mail recipient",
			slog.String("email", email), slog.String("error", err.Error()))
		return
	}
	msg.Subject(subjectPrefix + subject)
	msg.SetBodyString(mail.TypeTextPlain, body+signature)

	if err := s.mailer.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Error("user notification failed",
			slog.String("email", email), slog.String("subject", subject),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("user notified", slog.String("email", email), slog.String("subject", subject))
}

// Operator posts an alert to the operator ntfy topic.
func (s *Service) Operator(ctx context.Context, subject, body string) {
	if s.ntfy == "" {
		s.logger.Warn("operator alert (no channel configured)",
			slog.String("subject", subject), slog.String("body", body))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ntfy, strings.NewReader(body))
	if err != nil {
		s.logger.Error("build operator alert failed", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Title", subjectPrefix+subject)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Error("operator alert failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		s.logger.Error("operator alert rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("response", strings.TrimSpace(string(snippet))))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

// Nop discards all notifications, for tests and one-shot CLI runs.
type Nop struct{}

func (Nop) User(context.Context, string, string, string) {}

func (Nop) Operator(context.Context, string, string) {}
