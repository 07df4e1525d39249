// Package sqs carries follow-up run triggers over AWS SQS, so a daily
// scheduler outside this service can start a run on exactly one replica.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// KindFollowUpRun asks the consumer to run the follow-up dispatcher.
const KindFollowUpRun = "followups.run"

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// TriggerMessage is the body of a trigger on the queue.
type TriggerMessage struct {
	Kind        string    `json:"kind"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type producerAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Producer enqueues triggers.
type Producer struct {
	client   producerAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs producer initialized", zap.String("queue_url", cfg.QueueURL))
	return newProducer(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger), nil
}

func newProducer(client producerAPI, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{client: client, queueURL: queueURL, logger: logger, now: time.Now}
}

// EnqueueFollowUpRun sends a follow-up run trigger and returns its message id.
func (p *Producer) EnqueueFollowUpRun(ctx context.Context, requestedBy string) (string, error) {
	body, err := json.Marshal(TriggerMessage{
		Kind:        KindFollowUpRun,
		RequestedBy: requestedBy,
		RequestedAt: p.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send trigger to sqs", zap.Error(err))
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	id := aws.ToString(result.MessageId)
	p.logger.Info("follow-up run enqueued",
		zap.String("message_id", id),
		zap.String("requested_by", requestedBy),
	)
	return id, nil
}
