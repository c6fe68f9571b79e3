// Package notify delivers messages to users. The reset coordinator only
// sees the Notifier interface; which implementation runs is a config choice
// (mail.driver: log | smtp).
package notify

import (
	"context"
	"log/slog"
)

// Message is one outbound e-mail.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Notifier sends a message. Callers treat a failure as non-fatal.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them. It is
// meant for development, where the reset link is read off the console.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Text),
	)
	return nil
}
