package channel

import (
	"context"

	"go.uber.org/zap"
)

// Log channels print deliveries instead of sending them. Used in local
// development when CHANNELS_MODE=log.

type LogEmail struct{ logger *zap.Logger }

func NewLogEmail(logger *zap.Logger) *LogEmail { return &LogEmail{logger: logger} }

func (l *LogEmail) SendEmail(_ context.Context, msg EmailMessage) error {
	l.logger.Info("email (log only)",
		zap.String("to", msg.To),
		zap.String("from", msg.From),
		zap.String("subject", msg.Subject),
		zap.Int("body_len", len(msg.Text)),
	)
	return nil
}

type LogSMS struct{ logger *zap.Logger }

func NewLogSMS(logger *zap.Logger) *LogSMS { return &LogSMS{logger: logger} }

func (l *LogSMS) SendSMS(_ context.Context, msg SMSMessage, creds SMSCredentials) error {
	l.logger.Info("sms (log only)",
		zap.String("to", msg.To),
		zap.String("from", msg.From),
		zap.String("region", creds.Region),
		zap.String("body", msg.Body),
	)
	return nil
}

type LogPush struct{ logger *zap.Logger }

func NewLogPush(logger *zap.Logger) *LogPush { return &LogPush{logger: logger} }

func (l *LogPush) Push(_ context.Context, event PushEvent) error {
	l.logger.Debug("push (log only)",
		zap.String("user_id", event.UserID.String()),
		zap.String("organization_id", event.OrganizationID.String()),
		zap.String("type", event.EventType),
	)
	return nil
}
