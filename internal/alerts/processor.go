package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Inbox stores in-app notifications.
type Inbox interface {
	CreateNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]Record, error)
	MarkNotificationRead(ctx context.Context, recipientID, id string) (bool, error)
}

// Processor consumes queued notifications and stores them in the inbox.
type Processor struct {
	server *asynq.Server
	inbox  Inbox
	log    *zap.Logger
}

func NewProcessor(opt asynq.RedisConnOpt, inbox Inbox, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{inbox: inbox, log: logger.Named("alerts")}
	p.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			queueNotifications: 10,
		},
		Logger:   zapAdapter{p.log.Sugar()},
		LogLevel: asynq.WarnLevel,
	})
	return p
}

// Run processes tasks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotify, p.handleNotify)

	if err := p.server.Start(mux); err != nil {
		return fmt.Errorf("start notification processor: %w", err)
	}
	p.log.Info("notification processor started")
	<-ctx.Done()
	p.server.Shutdown()
	p.log.Info("notification processor stopped")
	return nil
}

func (p *Processor) handleNotify(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("decode notification: %w: %w", err, asynq.SkipRetry)
	}
	if err := p.inbox.CreateNotification(ctx, n); err != nil {
		p.log.Warn("store notification", zap.String("kind", n.Kind), zap.Error(err))
		return err
	}
	p.log.Debug("notification stored", zap.String("kind", n.Kind), zap.String("recipient_id", n.RecipientID))
	return nil
}

type zapAdapter struct{ s *zap.SugaredLogger }

func (a zapAdapter) Debug(args ...interface{}) { a.s.Debug(args...) }
func (a zapAdapter) Info(args ...interface{})  { a.s.Info(args...) }
func (a zapAdapter) Warn(args ...interface{})  { a.s.Warn(args...) }
func (a zapAdapter) Error(args ...interface{}) { a.s.Error(args...) }
func (a zapAdapter) Fatal(args ...interface{}) { a.s.Fatal(args...) }
