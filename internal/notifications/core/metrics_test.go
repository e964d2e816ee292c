package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hookrouter/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dims(d []cwtypes.Dimension) map[string]string {
	out := make(map[string]string, len(d))
	for _, x := range d {
		out[*x.Name] = *x.Value
	}
	return out
}

func TestCloudWatchRecorder_NotificationProcessed(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchRecorder(cw, "", &mockLogger{})

	m.NotificationProcessed(context.Background(), types.ChannelEmail, types.OutcomeSuccess)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	input := cw.calls[0]
	if *input.Namespace != types.MetricNamespace {
		t.Errorf("expected namespace %q, got %q", types.MetricNamespace, *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != types.MetricNotificationsProcessed {
		t.Errorf("expected metric name %q, got %q", types.MetricNotificationsProcessed, *datum.MetricName)
	}
	if *datum.Value != 1.0 || datum.Unit != cwtypes.StandardUnitCount {
		t.Errorf("expected a count of 1, got %f %s", *datum.Value, datum.Unit)
	}
	got := dims(datum.Dimensions)
	if got[types.DimChannel] != "email" || got[types.DimStatus] != "success" {
		t.Errorf("unexpected dimensions %v", got)
	}
}

func TestCloudWatchRecorder_WebhookAndChannelError(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchRecorder(cw, "Custom", &mockLogger{})

	m.WebhookReceived(context.Background(), "github", types.OutcomeAccepted)
	m.ChannelError(context.Background(), types.ChannelSMS, types.ErrorKindTimeout)

	if len(cw.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(cw.calls))
	}
	if *cw.calls[0].Namespace != "Custom" {
		t.Errorf("namespace not applied: %q", *cw.calls[0].Namespace)
	}
	if got := dims(cw.calls[0].MetricData[0].Dimensions); got[types.DimSource] != "github" || got[types.DimStatus] != "accepted" {
		t.Errorf("webhook dims = %v", got)
	}
	if got := dims(cw.calls[1].MetricData[0].Dimensions); got[types.DimErrorType] != "timeout" {
		t.Errorf("channel error dims = %v", got)
	}
}

func TestCloudWatchRecorder_ObserveDuration(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchRecorder(cw, "", &mockLogger{})

	m.ObserveDuration(context.Background(), types.ChannelSlack, 1500*time.Millisecond)

	datum := cw.calls[0].MetricData[0]
	if *datum.Value != 1.5 {
		t.Errorf("expected 1.5 seconds, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitSeconds {
		t.Errorf("expected unit Seconds, got %s", datum.Unit)
	}
}

func TestCloudWatchRecorder_QueueDepthSingleCall(t *testing.T) {
	cw := &mockCloudWatchClient{}
	m := NewCloudWatchRecorder(cw, "", &mockLogger{})

	m.QueueDepth(context.Background(), types.QueueStatus{Waiting: 4, Active: 2, Failed: 1})

	if len(cw.calls) != 1 {
		t.Fatalf("expected one batched call, got %d", len(cw.calls))
	}
	values := map[string]float64{}
	for _, d := range cw.calls[0].MetricData {
		values[dims(d.Dimensions)[types.DimQueue]] = *d.Value
	}
	if values["waiting"] != 4 || values["active"] != 2 || values["failed"] != 1 || values["delayed"] != 0 {
		t.Errorf("unexpected queue values %v", values)
	}
}

func TestCloudWatchRecorder_ErrorIsLogged(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: fmt.Errorf("throttled")}
	logger := &mockLogger{}
	m := NewCloudWatchRecorder(cw, "", logger)

	m.ObserveDuration(context.Background(), types.ChannelEmail, time.Second)

	if len(logger.errors) != 1 {
		t.Errorf("expected one logged error, got %d", len(logger.errors))
	}
}

func TestMultiRecorder_FansOut(t *testing.T) {
	a, b := &recordingMetrics{}, &recordingMetrics{}
	m := MultiRecorder{a, b, NoopRecorder{}}

	m.WebhookReceived(context.Background(), "s", "accepted")
	m.NotificationProcessed(context.Background(), types.ChannelSlack, "success")
	m.ChannelError(context.Background(), types.ChannelSlack, types.ErrorKindProvider)
	m.ObserveDuration(context.Background(), types.ChannelSlack, time.Second)
	m.QueueDepth(context.Background(), types.QueueStatus{Waiting: 1})

	for _, r := range []*recordingMetrics{a, b} {
		if len(r.webhooks) != 1 || len(r.processed) != 1 || len(r.errs) != 1 || len(r.durations) != 1 || len(r.depths) != 1 {
			t.Errorf("recorder missed calls: %+v", r)
		}
	}
}
