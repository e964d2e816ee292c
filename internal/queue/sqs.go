package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"hookrouter/internal/config"
	"hookrouter/internal/types"
)

// SQSAPI abstracts the SQS operations used by the dispatcher.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

var (
	_ SQSAPI         = (*sqs.Client)(nil)
	_ types.Enqueuer = (*SQSDispatcher)(nil)
)

// MaxVisibilityTimeout is the SQS ceiling for ChangeMessageVisibility.
const MaxVisibilityTimeout = 12 * time.Hour

// Message attribute names set on every dispatched message.
const (
	AttrPriority  = "priority"
	AttrMessageID = "messageId"
	AttrRuleID    = "ruleId"
)

// SQSDispatcher is the enqueue side of the SQS boundary. High priority
// messages go to the urgent queue, everything else to the standard queue.
// The dispatch-worker Lambda consumes both.
type SQSDispatcher struct {
	client           SQSAPI
	urgentQueueURL   string
	standardQueueURL string
	logger           types.Logger
}

// NewSQSDispatcher creates a dispatcher using the queue URLs from cfg.
// When no urgent queue is configured everything goes to the standard queue.
func NewSQSDispatcher(client SQSAPI, cfg config.QueueConfig, logger types.Logger) *SQSDispatcher {
	urgent := cfg.SQSUrgentURL
	if urgent == "" {
		urgent = cfg.SQSStandardURL
	}
	return &SQSDispatcher{
		client:           client,
		urgentQueueURL:   urgent,
		standardQueueURL: cfg.SQSStandardURL,
		logger:           logger,
	}
}

// QueueURLFor selects the queue for a priority weight.
func (d *SQSDispatcher) QueueURLFor(priority int) string {
	if priority >= types.PriorityWeightHigh {
		return d.urgentQueueURL
	}
	return d.standardQueueURL
}

// Enqueue serializes msg and sends it. The SQS message ID is the job ID.
func (d *SQSDispatcher) Enqueue(ctx context.Context, msg *types.NotificationMessage, priority int) (string, error) {
	if msg == nil {
		return "", ErrNilMessage
	}
	queueURL := d.QueueURLFor(priority)

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal NotificationMessage: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		AttrPriority: {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(priority)),
		},
		AttrMessageID: {
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.ID),
		},
	}
	if ruleID, ok := msg.Metadata[types.MetaRuleID].(string); ok && ruleID != "" {
		attrs[AttrRuleID] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(ruleID),
		}
	}

	out, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("queue: failed to send NotificationMessage to %s: %w", queueURL, err)
	}

	jobID := aws.ToString(out.MessageId)
	d.logger.Info("notification message dispatched",
		"queue_url", queueURL,
		"job_id", jobID,
		"message_id", msg.ID,
		"priority", priority,
	)
	return jobID, nil
}

// QueueURLForARN maps an event source ARN back to one of the configured
// queue URLs by queue name. It returns "" when neither matches.
func (d *SQSDispatcher) QueueURLForARN(arn string) string {
	name := arn[strings.LastIndex(arn, ":")+1:]
	for _, u := range []string{d.urgentQueueURL, d.standardQueueURL} {
		if u != "" && u[strings.LastIndex(u, "/")+1:] == name {
			return u
		}
	}
	return ""
}

// Delay hides a received message for delay so SQS redelivers it no sooner.
// The delay is clamped to MaxVisibilityTimeout.
func (d *SQSDispatcher) Delay(ctx context.Context, queueURL, receiptHandle string, delay time.Duration) error {
	secs := int32(min(max(delay, 0), MaxVisibilityTimeout) / time.Second)
	_, err := d.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: secs,
	})
	if err != nil {
		return fmt.Errorf("queue: failed to change visibility on %s: %w", queueURL, err)
	}
	return nil
}

// Status sums the approximate counters of both queues. SQS keeps no record of
// finished messages, so Completed and Failed stay zero.
func (d *SQSDispatcher) Status(ctx context.Context) (types.QueueStatus, error) {
	var st types.QueueStatus
	urls := []string{d.standardQueueURL}
	if d.urgentQueueURL != d.standardQueueURL {
		urls = append(urls, d.urgentQueueURL)
	}
	for _, u := range urls {
		out, err := d.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl: aws.String(u),
			AttributeNames: []sqsTypes.QueueAttributeName{
				sqsTypes.QueueAttributeNameApproximateNumberOfMessages,
				sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
				sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
			},
		})
		if err != nil {
			return types.QueueStatus{}, fmt.Errorf("queue: failed to read attributes of %s: %w", u, err)
		}
		st.Waiting += attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessages)
		st.Active += attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)
		st.Delayed += attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed)
	}
	return st, nil
}

func attrInt(attrs map[string]string, name sqsTypes.QueueAttributeName) int64 {
	n, _ := strconv.ParseInt(attrs[string(name)], 10, 64)
	return n
}
