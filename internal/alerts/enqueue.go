package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Queue hands notifications to the asynq worker for persistence.
type Queue struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewQueue(client *asynq.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, log: logger.Named("alerts")}
}

// Notify enqueues n. Enqueue failures are logged and dropped.
func (q *Queue) Notify(ctx context.Context, n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(n)
	if err != nil {
		q.log.Error("marshal notification", zap.String("kind", n.Kind), zap.Error(err))
		return
	}
	task := asynq.NewTask(TaskNotify, b, asynq.MaxRetry(5))
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(queueNotifications)); err != nil {
		q.log.Warn("enqueue notification",
			zap.String("kind", n.Kind),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err),
		)
	}
}

// Direct writes notifications straight to the inbox store. It serves
// deployments without Redis.
type Direct struct {
	inbox Inbox
	log   *zap.Logger
}

func NewDirect(inbox Inbox, logger *zap.Logger) *Direct {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Direct{inbox: inbox, log: logger.Named("alerts")}
}

func (d *Direct) Notify(ctx context.Context, n Notification) {
	if err := d.inbox.CreateNotification(context.WithoutCancel(ctx), n); err != nil {
		d.log.Warn("store notification", zap.String("kind", n.Kind), zap.Error(err))
	}
}

// Logged writes every notification to the log at debug level.
type Logged struct {
	Log *zap.Logger
}

func (l Logged) Notify(_ context.Context, n Notification) {
	l.Log.Debug("notification",
		zap.String("kind", n.Kind),
		zap.String("recipient_id", n.RecipientID),
		zap.String("audience", n.Audience),
		zap.String("reference", n.Reference),
		zap.Int64("amount", n.Amount),
	)
}
