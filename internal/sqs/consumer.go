package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/reminders/internal/metrics"
)

type consumerAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one trigger. Returning an error leaves the message on
// the queue for redelivery after its visibility timeout.
type Handler func(ctx context.Context, msg TriggerMessage) error

// Consumer long-polls the trigger queue.
type Consumer struct {
	client   consumerAPI
	queueURL string
	logger   *zap.Logger
	backoff  time.Duration
}

func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", cfg.QueueURL))
	return newConsumer(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger), nil
}

func newConsumer(client consumerAPI, queueURL string, logger *zap.Logger) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, logger: logger, backoff: 5 * time.Second}
}

// Listen receives and handles triggers until ctx is cancelled.
func (c *Consumer) Listen(ctx context.Context, handle Handler) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopping")
			return
		}

		msgs, err := c.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}

		metrics.SetSQSMessagesInFlight(len(msgs))
		for _, m := range msgs {
			c.handle(ctx, m, handle)
		}
		metrics.SetSQSMessagesInFlight(0)
	}
}

func (c *Consumer) receive(ctx context.Context) ([]types.Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}
	return out.Messages, nil
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handle Handler) {
	log := c.logger.With(zap.String("message_id", aws.ToString(m.MessageId)))

	var msg TriggerMessage
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		log.Error("dropping malformed trigger", zap.Error(err))
		c.delete(ctx, m, log)
		return
	}
	if msg.Kind != KindFollowUpRun {
		log.Warn("dropping trigger of unknown kind", zap.String("kind", msg.Kind))
		c.delete(ctx, m, log)
		return
	}

	if err := handle(ctx, msg); err != nil {
		log.Error("trigger handler failed, leaving for redelivery", zap.Error(err))
		return
	}
	c.delete(ctx, m, log)
}

func (c *Consumer) delete(ctx context.Context, m types.Message, log *zap.Logger) {
	_, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		log.Error("sqs delete failed", zap.Error(err))
	}
}
