package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"copyforge/internal/types"
)

// Metric names and dimensions emitted to CloudWatch.
const (
	MetricAPIRequestCount = "APIRequestCount"
	MetricAPILatency      = "APILatency"
	MetricReservation     = "CreditReservation"
	MetricBillingEvent    = "BillingEvent"

	DimMethod  = "Method"
	DimRoute   = "Route"
	DimStatus  = "Status"
	DimOutcome = "Outcome"
	DimKind    = "Kind"
)

const putTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch emits each observation with PutMetricData. Failures are logged
// and dropped; metrics never fail a request.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatch) RecordRequest(method, route, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{dim(DimMethod, method), dim(DimRoute, route)}
	m.put(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: append(dims, dim(DimStatus, status)),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatch) RecordReservation(outcome types.ReservationOutcome) {
	m.put(cwtypes.MetricDatum{
		MetricName: aws.String(MetricReservation),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimOutcome, string(outcome))},
	})
}

func (m *CloudWatch) RecordBillingEvent(kind types.BillingEventKind, outcome types.ReconcileOutcome) {
	m.put(cwtypes.MetricDatum{
		MetricName: aws.String(MetricBillingEvent),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimKind, string(kind)),
			dim(DimOutcome, string(outcome)),
		},
	})
}

func (m *CloudWatch) put(data ...cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to put metric data",
			"metric", aws.ToString(data[0].MetricName),
			"error", err,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
