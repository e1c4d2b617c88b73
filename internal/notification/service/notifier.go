package service

import (
	"context"
	"errors"

	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"go.uber.org/zap"
)

// LogSink writes every notification to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification.log")}
}

func (s *LogSink) Notify(ctx context.Context, n notificationdomain.Notification) error {
	s.log.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("org_id", n.OrgID.String()),
		zap.Bool("has_recipient", n.Recipient != ""),
		zap.Any("data", n.Data),
	)
	return nil
}

// Fanout delivers to every sink and joins the failures.
type Fanout struct {
	sinks []notificationdomain.Notifier
}

func NewFanout(sinks ...notificationdomain.Notifier) *Fanout {
	out := make([]notificationdomain.Notifier, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Notify(ctx context.Context, n notificationdomain.Notification) error {
	if n.Kind == "" {
		return notificationdomain.ErrInvalidKind
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Notify(ctx, n); err != nil {
			if errors.Is(err, notificationdomain.ErrMissingRecipient) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
