package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

// EmailProvider sends a plain-text notification over SMTP. No third-party
// mail library appears anywhere in the example pack (confirmed by searching
// every manifest for gomail/go-mail/smtp), so this is the one provider that
// justifiably uses the standard library instead of an ecosystem dependency
// (recorded in DESIGN.md).
type EmailProvider struct {
	cfg config.EmailConfig
}

func (p *EmailProvider) Send(ctx context.Context, event status.Transition) error {
	if p.cfg.SMTPHost == "" || p.cfg.From == "" || p.cfg.To == "" {
		return fmt.Errorf("email: smtpHost, from or to missing")
	}

	subject := fmt.Sprintf("[%s] %s is %s", event.SourceType, event.Name, event.Type)
	body := fmt.Sprintf("%s %q transitioned to %s at %s", event.SourceType, event.Name, event.Type, event.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if event.GroupInfo != nil {
		body += fmt.Sprintf("\ngroup: %s", event.GroupInfo.GroupName)
	}

	msg := strings.Join([]string{
		"From: " + p.cfg.From,
		"To: " + p.cfg.To,
		"Subject: " + subject,
		"",
		body,
		"",
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", p.cfg.SMTPHost, p.cfg.SMTPPort)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, nil, p.cfg.From, []string{p.cfg.To}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
