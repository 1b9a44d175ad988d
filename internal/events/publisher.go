package events

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/alerts"
)

// Publisher is the subset of Client used by Notifier.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Notifier forwards every notification to the event exchange.
type Notifier struct {
	pub Publisher
	log *zap.Logger
}

func NewNotifier(pub Publisher, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, log: logger.Named("events")}
}

// Notify publishes note under the routing key for its kind. Failures are logged.
func (n *Notifier) Notify(ctx context.Context, note alerts.Notification) {
	body, err := json.Marshal(note)
	if err != nil {
		n.log.Error("marshal event", zap.String("kind", note.Kind), zap.Error(err))
		return
	}
	key := RoutingKey(note)
	if err := n.pub.Publish(context.WithoutCancel(ctx), key, body); err != nil {
		n.log.Warn("publish event", zap.String("routing_key", key), zap.Error(err))
	}
}

// RoutingKey maps a notification to "<audience>.<kind with dots>", for
// example "driver.escrow.released".
func RoutingKey(n alerts.Notification) string {
	audience := n.Audience
	if audience == "" {
		audience = "all"
	}
	return audience + "." + strings.ReplaceAll(n.Kind, "_", ".")
}
