package amqp

import (
	"context"
	"log/slog"

	"tally/internal/changefeed"
)

// ChangePublisher is the part of Client the notifier needs.
type ChangePublisher interface {
	PublishChange(ctx context.Context, c changefeed.Change) error
}

// Notifier publishes store changes to the broker. When the broker is not
// reachable the change goes straight to the local hub so that subscribers in
// this process still see it.
type Notifier struct {
	publisher ChangePublisher
	fallback  *changefeed.Hub
}

var _ changefeed.Notifier = (*Notifier)(nil)

func NewNotifier(publisher ChangePublisher, fallback *changefeed.Hub) *Notifier {
	return &Notifier{publisher: publisher, fallback: fallback}
}

func (n *Notifier) Notify(ctx context.Context, c changefeed.Change) {
	if err := n.publisher.PublishChange(context.WithoutCancel(ctx), c); err != nil {
		slog.WarnContext(ctx, "Failed to publish change, delivering locally",
			"owner", c.Owner,
			"collection", c.Collection,
			"error", err)
		n.fallback.Publish(c)
	}
}
