package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSConfig configures the underlying client, following the same
// shape pkg/storage.S3Config uses for its own AWS SDK bootstrap.
type SQSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// SQSQueue implements Queue against Amazon SQS. It caches queue URLs
// by name so repeated Send/Receive calls for the same room don't pay
// a GetQueueUrl round trip every time; the Queue Producer and Consumer
// Pool are responsible for the "retry on not-yet-known" lazy
// rediscovery policy described in spec §6/§7, not this client.
type SQSQueue struct {
	client *sqs.Client

	mu      sync.RWMutex
	urlByName map[string]string
}

// NewSQSQueue builds a client, following pkg/storage.NewS3Storage's
// config.LoadDefaultConfig + optional static-credentials + optional
// custom-endpoint bootstrap.
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var sqsOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		sqsOpts = append(sqsOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &SQSQueue{
		client:    sqs.NewFromConfig(awsCfg, sqsOpts...),
		urlByName: make(map[string]string),
	}, nil
}

func (q *SQSQueue) GetURL(ctx context.Context, name string) (string, error) {
	q.mu.RLock()
	if url, ok := q.urlByName[name]; ok {
		q.mu.RUnlock()
		return url, nil
	}
	q.mu.RUnlock()

	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue url for %s: %w", name, err)
	}

	url := aws.ToString(out.QueueUrl)
	q.mu.Lock()
	q.urlByName[name] = url
	q.mu.Unlock()

	return url, nil
}

func (q *SQSQueue) Send(ctx context.Context, url string, entry Entry) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(entry.Body),
	}
	if entry.PartitionKey != "" {
		input.MessageGroupId = aws.String(entry.PartitionKey)
	}
	if entry.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(entry.DeduplicationID)
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) SendBatch(ctx context.Context, url string, entries []Entry) (BatchResult, error) {
	if len(entries) == 0 {
		return BatchResult{}, nil
	}

	batchEntries := make([]types.SendMessageBatchRequestEntry, len(entries))
	for i, e := range entries {
		be := types.SendMessageBatchRequestEntry{
			Id:          aws.String(fmt.Sprintf("%d", i)),
			MessageBody: aws.String(e.Body),
		}
		if e.PartitionKey != "" {
			be.MessageGroupId = aws.String(e.PartitionKey)
		}
		if e.DeduplicationID != "" {
			be.MessageDeduplicationId = aws.String(e.DeduplicationID)
		}
		batchEntries[i] = be
	}

	out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  batchEntries,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to send message batch: %w", err)
	}

	result := BatchResult{Failed: make(map[int]error, len(out.Failed))}
	for _, f := range out.Failed {
		var idx int
		fmt.Sscanf(aws.ToString(f.Id), "%d", &idx)
		result.Failed[idx] = fmt.Errorf("%s: %s", aws.ToString(f.Code), aws.ToString(f.Message))
	}

	return result, nil
}

func (q *SQSQueue) Receive(ctx context.Context, url string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]ReceivedMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(waitTime.Seconds()),
		VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]ReceivedMessage, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = ReceivedMessage{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, url, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (q *SQSQueue) GetAttributes(ctx context.Context, url string) (Attributes, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	return Attributes{
		ApproxMessages:   parseAttr(out.Attributes, string(types.QueueAttributeNameApproximateNumberOfMessages)),
		ApproxNotVisible: parseAttr(out.Attributes, string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)),
		ApproxDelayed:    parseAttr(out.Attributes, string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)),
	}, nil
}

func parseAttr(attrs map[string]string, key string) int64 {
	var v int64
	fmt.Sscanf(attrs[key], "%d", &v)
	return v
}
