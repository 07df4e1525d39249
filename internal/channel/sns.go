package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMS sends text messages through AWS SNS. Every organization brings its
// own credentials, so one client is kept per access key.
type SNSSMS struct {
	defaultRegion string
	newClient     func(creds SMSCredentials) snsAPI
	clients       sync.Map // SMSCredentials.Key -> snsAPI
	logger        *zap.Logger
}

type SNSConfig struct {
	// Region is used when the organization has not chosen one.
	Region string
}

func NewSNSSMS(cfg SNSConfig, logger *zap.Logger) *SNSSMS {
	return &SNSSMS{
		defaultRegion: cfg.Region,
		newClient:     newStaticSNSClient,
		logger:        logger,
	}
}

func newStaticSNSClient(creds SMSCredentials) snsAPI {
	return sns.New(sns.Options{
		Region: creds.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	})
}

func (s *SNSSMS) client(creds SMSCredentials) snsAPI {
	key := creds.Key()
	if c, ok := s.clients.Load(key); ok {
		return c.(snsAPI)
	}
	c, _ := s.clients.LoadOrStore(key, s.newClient(creds))
	return c.(snsAPI)
}

// SendSMS publishes msg directly to the recipient's phone number.
func (s *SNSSMS) SendSMS(ctx context.Context, msg SMSMessage, creds SMSCredentials) error {
	if creds.Empty() {
		return fmt.Errorf("%w: missing SMS credentials", ErrNotConfigured)
	}
	if creds.Region == "" {
		creds.Region = s.defaultRegion
	}
	if msg.To == "" {
		return errors.New("sms missing phone number")
	}
	if msg.Body == "" {
		return errors.New("sms missing body")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if msg.From != "" {
		attrs["AWS.MM.SMS.OriginationNumber"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.From),
		}
	}

	out, err := s.client(creds).Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("phone_number", msg.To),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
