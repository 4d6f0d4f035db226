package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// putMetricTimeout bounds each PutMetricData call so a slow CloudWatch
// endpoint cannot hold up request handling.
const putMetricTimeout = 5 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements MetricsCollector by publishing request count
// and latency metrics to a CloudWatch namespace. Emission is best-effort:
// failures are logged, never surfaced to the request path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ MetricsCollector = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a collector publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest emits APIRequestCount and APILatency with Method, Endpoint
// and Status dimensions.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), putMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("APIRequestCount"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("APILatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to record request metrics",
			"error", err.Error(),
			"method", method,
			"endpoint", endpoint,
		)
	}
}

// SweepMetrics publishes lifecycle sweep outcomes. The sweeper emits one
// datum per pass with the task name as a dimension.
type SweepMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewSweepMetrics creates a collector for the maintenance binary.
func NewSweepMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *SweepMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordSweep emits the processed-record count and duration for one pass.
func (m *SweepMetrics) RecordSweep(ctx context.Context, task string, processed int, duration time.Duration) {
	cctx, cancel := context.WithTimeout(ctx, putMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		{Name: aws.String("Task"), Value: aws.String(task)},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("SweepProcessed"),
				Value:      aws.Float64(float64(processed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("SweepDuration"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(cctx, input); err != nil {
		m.logger.Error("failed to record sweep metrics",
			"error", err.Error(),
			"task", task,
		)
	}
}
