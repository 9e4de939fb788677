package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"copyforge/internal/types"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.SendMessageOutput)
	return out, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSQSGapReporter_ReportGap(t *testing.T) {
	client := &mockSQS{}
	var sent *sqs.SendMessageInput
	client.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*sqs.SendMessageInput) }).
		Return(&sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil)

	r := NewSQSGapReporter(client, "https://sqs.us-east-1.amazonaws.com/123/gaps", discardLogger())
	gap := types.ReconciliationGap{
		EventID:         "evt_1",
		EventType:       "checkout.session.completed",
		Reason:          types.GapUnknownPlan,
		SubscriptionRef: "sub_1",
		PlanRef:         "price_legacy",
		OccurredAt:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.ReportGap(context.Background(), gap))

	require.NotNil(t, sent)
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/gaps", aws.ToString(sent.QueueUrl))
	assert.Equal(t, string(types.GapUnknownPlan), aws.ToString(sent.MessageAttributes["reason"].StringValue))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(sent.MessageBody)), &body))
	assert.Equal(t, "evt_1", body["eventId"])
	assert.Equal(t, "unknown_plan", body["reason"])
	assert.Equal(t, "price_legacy", body["planRef"])
	assert.Equal(t, "2026-05-01T12:00:00Z", body["occurredAt"])
	assert.NotContains(t, body, "userId", "empty fields are omitted")
	client.AssertExpectations(t)
}

func TestSQSGapReporter_SendFailure(t *testing.T) {
	client := &mockSQS{}
	client.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	r := NewSQSGapReporter(client, "q", nil)
	err := r.ReportGap(context.Background(), types.ReconciliationGap{EventID: "evt_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evt_1")
}
