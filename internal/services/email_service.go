package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/wneessen/go-mail"
)

// EmailConfig configures merchant e-mail notifications.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// EmailService mails order summaries to the merchant inbox.
type EmailService struct {
	cfg EmailConfig
}

func NewEmailService(cfg EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

func (s *EmailService) Configured() bool {
	return s.cfg.Host != "" && s.cfg.From != "" && s.cfg.To != ""
}

func (s *EmailService) message(summary *OrderSummary) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, errors.Wrap(err, "from address")
	}
	if err := msg.To(s.cfg.To); err != nil {
		return nil, errors.Wrap(err, "to address")
	}
	msg.Subject("Deposit received for order " + summary.OrderNumber)

	body := summary.Text
	if summary.WhatsAppURL != "" {
		body += "\n\nReply on WhatsApp: " + summary.WhatsAppURL
	}
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (s *EmailService) NotifyOrderPaid(ctx context.Context, summary *OrderSummary) error {
	if !s.Configured() {
		return nil
	}
	msg, err := s.message(summary)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	return errors.Wrap(client.DialAndSendWithContext(ctx, msg), "send email")
}
