package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fundflow/internal/events"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

// DeadLetterSink stores every rejected event so an operator can inspect and
// replay it. Storage failures are logged; the transport has already moved on.
func DeadLetterSink(repo repository.OpsRepository, logger *zap.Logger) events.DeadLetterSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, topic, group string, env events.Envelope, cause error) {
		if repo == nil {
			return
		}
		raw, err := json.Marshal(env)
		if err != nil {
			raw = []byte("{}")
		}
		msg := "unknown"
		if cause != nil {
			msg = cause.Error()
		}
		item := &models.DeadLetter{
			Topic:      topic,
			Consumer:   group,
			EventID:    env.ID,
			EventType:  env.Type,
			MessageKey: env.Key,
			Payload:    datatypes.JSON(raw),
			Error:      msg,
			CreatedAt:  time.Now().UTC(),
		}
		// The consumer context may already be cancelled on shutdown.
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := repo.InsertDeadLetter(storeCtx, item); err != nil {
			logger.Error("store dead letter failed",
				zap.String("topic", topic),
				zap.String("event_id", env.ID),
				zap.Error(err),
			)
		}
	}
}
