package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/beatsgarage/beatstore/internal/notify"
)

type Config struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SMTP sends delivery emails over SMTP.
type SMTP struct {
	client *mail.Client
	from   string
}

func NewSMTP(cfg Config) (*SMTP, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Pass),
		)
	} else {
		// local dev relay without auth
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{client: client, from: cfg.From}, nil
}

func (s *SMTP) SendDelivery(ctx context.Context, d notify.Delivery) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(d.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(fmt.Sprintf("Your beat is ready: %s", d.BeatTitle))
	msg.SetBodyString(mail.TypeTextPlain, deliveryBody(d))

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func deliveryBody(d notify.Delivery) string {
	byline := d.BeatTitle
	if d.BeatArtist != "" {
		byline = fmt.Sprintf("%s by %s", d.BeatTitle, d.BeatArtist)
	}
	return fmt.Sprintf(`Thanks for your purchase!

%s is yours. Download it here:

%s

Order reference: %s

Keep this email; the link stays valid for your account.
`, byline, d.DownloadURL, d.OrderID)
}
