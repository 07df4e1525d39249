package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmail sends email through AWS SES.
type SESEmail struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region string
	// FromEmail is used when a message carries no From of its own.
	FromEmail string
}

func NewSESEmail(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESEmail, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SES: %w", err)
	}
	return newSESEmail(ses.NewFromConfig(awsCfg), cfg.FromEmail, logger), nil
}

func newSESEmail(client sesAPI, from string, logger *zap.Logger) *SESEmail {
	return &SESEmail{client: client, from: from, logger: logger}
}

// SendEmail sends msg. The From address falls back to the configured default.
func (s *SESEmail) SendEmail(ctx context.Context, msg EmailMessage) error {
	from := msg.From
	if from == "" {
		from = s.from
	}
	if from == "" {
		return fmt.Errorf("%w: no sender address", ErrNotConfigured)
	}
	if msg.To == "" {
		return errors.New("email missing recipient")
	}
	if msg.Subject == "" {
		return errors.New("email missing subject")
	}
	if msg.Text == "" && msg.HTML == "" {
		return errors.New("email missing body")
	}

	body := &types.Body{}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
