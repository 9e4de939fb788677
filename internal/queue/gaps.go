// Package queue publishes reconciliation gaps to SQS for operator follow-up.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"copyforge/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSGapReporter implements reconciler.GapReporter.
type SQSGapReporter struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

func NewSQSGapReporter(client SQSSender, queueURL string, logger *slog.Logger) *SQSGapReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSGapReporter{client: client, queueURL: queueURL, logger: logger}
}

// ReportGap sends gap as a JSON message. The reason is also set as a message
// attribute so consumers can filter without parsing the body.
func (r *SQSGapReporter) ReportGap(ctx context.Context, gap types.ReconciliationGap) error {
	body, err := json.Marshal(gap)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal gap: %w", err)
	}

	out, err := r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(gap.Reason)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send gap for event %s: %w", gap.EventID, err)
	}

	r.logger.InfoContext(ctx, "reconciliation gap published",
		"event_id", gap.EventID,
		"gap_reason", string(gap.Reason),
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}
