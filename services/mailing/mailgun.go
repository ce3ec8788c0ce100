package mailing

import (
	"context"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/mcnijman/go-emailaddress"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Mailgun sends the email copy of a notification to users with no live
// connection. Delivery is best effort; the durable store stays authoritative.
type Mailgun struct {
	client *mailgun.MailgunImpl
	from   string
}

// NewMailgun returns a configured Mailgun sender, or nil when the domain or
// API key is missing so callers can treat email as disabled.
func NewMailgun(domain, apiKey, from string) *Mailgun {
	if domain == "" || apiKey == "" {
		return nil
	}
	return &Mailgun{
		client: mailgun.NewMailgun(domain, apiKey),
		from:   from,
	}
}

// SendNotificationEmail sends a plain-text copy of the notification.
func (m *Mailgun) SendNotificationEmail(to, subject, body string) error {
	if _, err := emailaddress.Parse(to); err != nil {
		return errors.Wrapf(err, "invalid recipient address %q", to)
	}

	message := m.client.NewMessage(m.from, subject, body, to)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, id, err := m.client.Send(ctx, message)
	if err != nil {
		return errors.Wrap(err, "unable to send notification email")
	}
	log.WithFields(log.Fields{"to": to, "message_id": id}).Debug("notification email sent")
	return nil
}
