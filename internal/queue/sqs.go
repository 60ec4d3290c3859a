package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"qa-pipeline/internal/domain"
)

// sqsAPI is the subset of *sqs.Client used by SQS.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SQS is a work queue backed by an SQS queue whose redrive policy moves
// messages to dlqURL after the configured maximum receive count.
type SQS struct {
	api         sqsAPI
	queueURL    string
	dlqURL      string
	waitSeconds int32
}

// SQSOption configures an SQS queue.
type SQSOption func(*SQS)

// WithDeadLetterQueue sets the dead-letter queue inspected by DeadLetters.
func WithDeadLetterQueue(url string) SQSOption {
	return func(q *SQS) { q.dlqURL = strings.TrimSpace(url) }
}

// WithWaitTime sets the long-poll duration used by Receive.
func WithWaitTime(d time.Duration) SQSOption {
	return func(q *SQS) { q.waitSeconds = int32(d / time.Second) }
}

// NewSQS returns a queue bound to queueURL. Receive long-polls for 20s
// unless WithWaitTime says otherwise.
func NewSQS(api sqsAPI, queueURL string, opts ...SQSOption) (*SQS, error) {
	if api == nil {
		return nil, errors.New("queue: sqs api must not be nil")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("queue: queue url must not be empty")
	}
	q := &SQS{api: api, queueURL: queueURL, waitSeconds: 20}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue sends body and returns the assigned message id.
func (q *SQS) Enqueue(ctx context.Context, body []byte) (string, error) {
	out, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("queue: send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Receive long-polls for up to max messages (capped at 10 by SQS).
func (q *SQS) Receive(ctx context.Context, max int) ([]Message, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         clampBatch(max),
		WaitTimeSeconds:             q.waitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive message: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			ReceiveCount:  receiveCount(m.Attributes),
		})
	}
	return msgs, nil
}

// Delete acknowledges a delivery.
func (q *SQS) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: delete message: %w", err)
	}
	return nil
}

// Nack leaves the message to reappear when its visibility timeout expires.
func (q *SQS) Nack(context.Context, string, error) error { return nil }

// DeadLetters lists up to max dead-lettered messages without consuming
// them. SQS has no peek, so the received messages are made visible again
// straight away. Each listing still counts as a receive on the DLQ.
func (q *SQS) DeadLetters(ctx context.Context, max int) ([]domain.DeadLetter, error) {
	if q.dlqURL == "" {
		return []domain.DeadLetter{}, nil
	}
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.dlqURL),
		MaxNumberOfMessages: clampBatch(max),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: peek dead letters: %w", err)
	}
	if err := q.release(ctx, q.dlqURL, out.Messages); err != nil {
		return nil, err
	}
	letters := make([]domain.DeadLetter, 0, len(out.Messages))
	for _, m := range out.Messages {
		letters = append(letters, domain.DeadLetter{
			MessageID:      aws.ToString(m.MessageId),
			Body:           aws.ToString(m.Body),
			ReceiveCount:   receiveCount(m.Attributes),
			Reason:         "max receive count exceeded",
			DeadLetteredAt: sentTimestamp(m.Attributes),
		})
	}
	return letters, nil
}

// release resets the visibility of msgs to zero. VisibilityTimeout is
// always serialized for batch entries, unlike on ReceiveMessage.
func (q *SQS) release(ctx context.Context, url string, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		entries = append(entries, types.ChangeMessageVisibilityBatchRequestEntry{
			Id:                aws.String(strconv.Itoa(i)),
			ReceiptHandle:     m.ReceiptHandle,
			VisibilityTimeout: 0,
		})
	}
	out, err := q.api.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
		QueueUrl: aws.String(url),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("queue: release dead letters: %w", err)
	}
	if len(out.Failed) > 0 {
		f := out.Failed[0]
		return fmt.Errorf("queue: release dead letters: %d failed, first %s: %s",
			len(out.Failed), aws.ToString(f.Code), aws.ToString(f.Message))
	}
	return nil
}

// Stats reports approximate depth of the work and dead-letter queues.
func (q *SQS) Stats(ctx context.Context) (Stats, error) {
	attrs, err := q.attributes(ctx, q.queueURL)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Visible:  atoi(attrs[string(types.QueueAttributeNameApproximateNumberOfMessages)]),
		InFlight: atoi(attrs[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]),
	}
	if q.dlqURL != "" {
		dlq, err := q.attributes(ctx, q.dlqURL)
		if err != nil {
			return Stats{}, err
		}
		s.DeadLetters = atoi(dlq[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	}
	return s, nil
}

func (q *SQS) attributes(ctx context.Context, url string) (map[string]string, error) {
	out, err := q.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: get queue attributes: %w", err)
	}
	return out.Attributes, nil
}

func clampBatch(n int) int32 {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return int32(n)
}

func receiveCount(attrs map[string]string) int {
	return atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
}

func sentTimestamp(attrs map[string]string) string {
	ms, err := strconv.ParseInt(attrs[string(types.MessageSystemAttributeNameSentTimestamp)], 10, 64)
	if err != nil {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
