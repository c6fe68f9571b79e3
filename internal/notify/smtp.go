package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"
)

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// maxSendDuration caps the whole retry sequence of one Send.
const maxSendDuration = 30 * time.Second

// sender is the part of *mail.Client the notifier uses.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier sends mail through an SMTP relay.
//
// RETRIES:
// Dial and send failures are retried with exponential backoff (250ms base,
// four retries, 30s in total). Building the message (a malformed address)
// is not retried.
type SMTPNotifier struct {
	client  sender
	from    string
	backoff func() retry.Backoff
	logger  *slog.Logger
}

// NewSMTPNotifier builds the client. No connection is made until Send.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("SMTP_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return newSMTPNotifier(client, cfg.From, logger), nil
}

func newSMTPNotifier(client sender, from string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		client: client,
		from:   from,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(250 * time.Millisecond)
			b = retry.WithMaxRetries(4, b)
			return retry.WithMaxDuration(maxSendDuration, b)
		},
		logger: logger,
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return oops.Code("MAIL_INVALID_SENDER").With("from", n.from).Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return oops.Code("MAIL_INVALID_RECIPIENT").Wrap(err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}

	attempt := 0
	err := retry.Do(ctx, n.backoff(), func(ctx context.Context) error {
		attempt++
		if err := n.client.DialAndSendWithContext(ctx, m); err != nil {
			n.logger.DebugContext(ctx, "smtp send failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("attempts", attempt).Wrap(err)
	}
	return nil
}
