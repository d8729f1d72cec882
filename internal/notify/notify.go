// Package notify delivers run events (retries and terminal states) to logs,
// Pub/Sub and email.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Log writes every event to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify implements pipeline.Notifier.
func (l *Log) Notify(_ context.Context, ev pipeline.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("run_id", ev.RunID),
		zap.String("dag_id", ev.DAGID),
		zap.String("owner", ev.Owner),
	}
	if ev.Task != "" {
		fields = append(fields, zap.String("task", ev.Task), zap.Int("attempt", ev.Attempt))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	switch ev.Kind {
	case pipeline.EventFailure:
		l.logger.Error("run failed", fields...)
	case pipeline.EventRetry:
		l.logger.Warn("task retry scheduled", fields...)
	default:
		l.logger.Info("run succeeded", fields...)
	}
	return nil
}

// Publish forwards events as JSON to a topic.
type Publish struct {
	publisher pipeline.Publisher
	topic     string
}

// NewPublish returns a notifier publishing to topic.
func NewPublish(publisher pipeline.Publisher, topic string) *Publish {
	return &Publish{publisher: publisher, topic: topic}
}

// Notify implements pipeline.Notifier.
func (p *Publish) Notify(ctx context.Context, ev pipeline.Event) error {
	_, err := p.publisher.Publish(ctx, p.topic, ev)
	return err
}

// Multi fans an event out to every notifier, joining their errors.
type Multi []pipeline.Notifier

// Notify implements pipeline.Notifier.
func (m Multi) Notify(ctx context.Context, ev pipeline.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
