package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/carenet/carenet/internal/platform/db"
)

// Notifier publishes service events once the surrounding transaction commits.
// A nil Notifier or publisher is a no-op.
type Notifier struct {
	pub    EventPublisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewNotifier(pub EventPublisher, logger zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger, now: time.Now}
}

// Notify queues one event per topic. Publish failures are logged and never
// reach the caller.
func (n *Notifier) Notify(ctx context.Context, eventType, resourceType, resourceID string, data any, topics ...string) {
	if n == nil || n.pub == nil || len(topics) == 0 {
		return
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			n.logger.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		} else {
			raw = b
		}
	}

	db.AfterCommit(ctx, func(ctx context.Context) {
		ts := n.now().UTC()
		for _, topic := range topics {
			evt := Event{
				Type:         eventType,
				Topic:        topic,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Timestamp:    ts,
				Data:         raw,
			}
			if err := n.pub.Publish(ctx, evt); err != nil {
				n.logger.Warn().Err(err).Str("event", eventType).Str("topic", topic).Msg("publish event")
			}
		}
	})
}
