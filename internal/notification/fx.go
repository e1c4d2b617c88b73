package notification

import (
	"strings"

	"github.com/smallbiznis/settlement/internal/config"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/notification/email"
	"github.com/smallbiznis/settlement/internal/notification/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewFromConfig),
)

// NewFromConfig always logs notifications and adds the email sink when SMTP_HOST is set.
func NewFromConfig(cfg config.Config, log *zap.Logger) (notificationdomain.Notifier, error) {
	sinks := []notificationdomain.Notifier{service.NewLogSink(log)}
	if strings.TrimSpace(cfg.Email.SMTPHost) != "" {
		sink, err := email.NewSink(email.Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.SMTPFrom,
		}, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return service.NewFanout(sinks...), nil
}
