package notify

import (
	"context"

	"enterprise-crm-backend/pkg/logger"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers invitation and claim mail. Delivery is fire-and-forget:
// it must never block an HTTP response and a delivery failure must never fail
// the surrounding operation.
type Notifier interface {
	Send(ctx context.Context, msg Message)
}

// LogNotifier logs outbound mail instead of delivering it; the default until
// a real mail backend is configured. Bodies carry bearer links, so only the
// recipient and subject are logged.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the notification asynchronously.
func (n *LogNotifier) Send(ctx context.Context, msg Message) {
	go func() {
		n.log.Infow("notification dispatched", "to", msg.To, "subject", msg.Subject)
	}()
}
