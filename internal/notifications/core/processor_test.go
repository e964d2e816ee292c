package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrouter/internal/types"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type processorFixture struct {
	proc    *Processor
	metrics *recordingMetrics
	tracker *recordingTracker
	logger  *mockLogger
	sleeps  []time.Duration
}

func newProcessorFixture(t *testing.T, timeout time.Duration, channels ...types.Channel) *processorFixture {
	t.Helper()
	reg, err := NewRegistry(channels...)
	require.NoError(t, err)

	f := &processorFixture{
		metrics: &recordingMetrics{},
		tracker: &recordingTracker{},
		logger:  &mockLogger{},
	}
	f.proc = NewProcessor(reg, f.metrics, f.tracker, &mockClock{now: t0}, f.logger, ProcessorConfig{SendTimeout: timeout})
	f.proc.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func message(entries ...types.ChannelEntry) *types.NotificationMessage {
	return &types.NotificationMessage{
		ID:       "msg-1",
		EventID:  "evt-1",
		Priority: types.PriorityMedium,
		Channels: entries,
		Content:  types.MessageContent{Title: "t", Body: "b"},
		Status:   types.MessageStatus{State: types.StatePending},
	}
}

func entry(t types.ChannelType) types.ChannelEntry {
	return types.ChannelEntry{Type: t, Name: string(t), Config: map[string]any{}}
}

func TestProcess_Delivered(t *testing.T) {
	slack := newFakeChannel(types.ChannelSlack)
	slack.results = []*types.DeliveryResult{{Success: true, Provider: "slack", MessageID: "ts-1", Details: map[string]any{"channel": "C1"}}}
	f := newProcessorFixture(t, time.Second, slack)

	msg := message(entry(types.ChannelSlack))
	require.NoError(t, f.proc.Process(context.Background(), msg))

	assert.Equal(t, types.StateDelivered, msg.Status.State)
	assert.Equal(t, 1, msg.Status.Attempts)
	require.NotNil(t, msg.Status.LastAttemptAt)
	assert.Equal(t, t0, *msg.Status.LastAttemptAt)
	assert.Equal(t, map[string]any{"channel": "C1"}, msg.Status.DeliveryInfo)
	require.Len(t, msg.Status.Deliveries, 1)
	assert.Equal(t, "ts-1", msg.Status.Deliveries[0].MessageID)

	assert.Equal(t, []string{"slack:success"}, f.metrics.processed)
	assert.Equal(t, []types.ChannelType{types.ChannelSlack}, f.metrics.durations)
	assert.Empty(t, f.metrics.errs)
	assert.Equal(t, []types.MessageState{types.StateProcessing, types.StateDelivered}, f.tracker.states)
}

func TestProcess_OneFailingOneSucceeding(t *testing.T) {
	email := newFakeChannel(types.ChannelEmail)
	email.errs = []error{errors.New("smtp 421")}
	slack := newFakeChannel(types.ChannelSlack)
	f := newProcessorFixture(t, time.Second, email, slack)

	msg := message(entry(types.ChannelEmail), entry(types.ChannelSlack))
	err := f.proc.Process(context.Background(), msg)

	re, ok := types.AsRetryable(err)
	require.True(t, ok, "expected a retryable error, got %v", err)
	assert.Equal(t, time.Second, re.Delay, "first retry uses the initial delay")

	assert.Equal(t, []types.ChannelType{types.ChannelEmail, types.ChannelSlack}, f.metrics.durations,
		"one duration sample per channel, failing or not")
	assert.Equal(t, []string{"email:provider"}, f.metrics.errs)
	assert.Equal(t, types.StateRetry, msg.Status.State)
	assert.Contains(t, msg.Status.Error, "smtp 421")
	assert.Equal(t, 1, slack.callCount(), "entries after a failure are still attempted")

	require.Len(t, msg.Status.Deliveries, 2)
	assert.False(t, msg.Status.Deliveries[0].Success)
	assert.True(t, msg.Status.Deliveries[1].Success)
}

func TestProcess_FailsOnThirdAttempt(t *testing.T) {
	webhook := newFakeChannel(types.ChannelWebhook)
	webhook.results = []*types.DeliveryResult{{Success: false, Error: "HTTP 503"}}
	f := newProcessorFixture(t, time.Second, webhook)

	e := entry(types.ChannelWebhook)
	e.RetryPolicy = &types.RetryPolicy{MaxAttempts: 3, BackoffMultiplier: 2, InitialDelayMs: 100, MaxDelayMs: 1000}
	msg := message(e)

	wantDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	for i, want := range wantDelays {
		err := f.proc.Process(context.Background(), msg)
		re, ok := types.AsRetryable(err)
		require.True(t, ok, "attempt %d should request a retry", i+1)
		assert.Equal(t, want, re.Delay)
		assert.Equal(t, types.StateRetry, msg.Status.State)
		assert.Empty(t, f.metrics.processed, "no terminal metric before the last attempt")
	}

	err := f.proc.Process(context.Background(), msg)
	require.NoError(t, err, "exhausted messages are not propagated")
	assert.Equal(t, types.StateFailed, msg.Status.State)
	assert.Equal(t, 3, msg.Status.Attempts)
	assert.Equal(t, "webhook: provider: HTTP 503", msg.Status.Error)
	assert.Equal(t, []string{"webhook:failure"}, f.metrics.processed)
	assert.Len(t, f.metrics.errs, 3)
}

func TestProcess_MissingAdapterIsConfigError(t *testing.T) {
	f := newProcessorFixture(t, time.Second)

	e := entry(types.ChannelTelegram)
	e.RetryPolicy = &types.RetryPolicy{MaxAttempts: 1}
	msg := message(e)

	require.NoError(t, f.proc.Process(context.Background(), msg))
	assert.Equal(t, types.StateFailed, msg.Status.State)
	assert.Equal(t, []string{"telegram:config"}, f.metrics.errs)
	assert.Equal(t, []types.ChannelType{types.ChannelTelegram}, f.metrics.durations)
}

func TestProcess_InvalidConfigIsConfigError(t *testing.T) {
	sms := newFakeChannel(types.ChannelSMS)
	sms.valid = false
	f := newProcessorFixture(t, time.Second, sms)

	err := f.proc.Process(context.Background(), message(entry(types.ChannelSMS)))
	_, ok := types.AsRetryable(err)
	assert.True(t, ok, "config errors follow the same retry policy")
	assert.Equal(t, []string{"sms:config"}, f.metrics.errs)
	assert.Zero(t, sms.callCount())
}

func TestProcess_SendTimeout(t *testing.T) {
	slow := newFakeChannel(types.ChannelDiscord)
	slow.block = true
	f := newProcessorFixture(t, 20*time.Millisecond, slow)

	msg := message(entry(types.ChannelDiscord))
	err := f.proc.Process(context.Background(), msg)

	_, ok := types.AsRetryable(err)
	require.True(t, ok)
	assert.Equal(t, []string{"discord:timeout"}, f.metrics.errs)
}

func TestProcess_DelayBeforeEntry(t *testing.T) {
	slack := newFakeChannel(types.ChannelSlack)
	f := newProcessorFixture(t, time.Second, slack)

	e := entry(types.ChannelSlack)
	e.DelayMs = 1500
	require.NoError(t, f.proc.Process(context.Background(), message(e)))
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, f.sleeps)
}

func TestProcess_DelayInterrupted(t *testing.T) {
	slack := newFakeChannel(types.ChannelSlack)
	f := newProcessorFixture(t, time.Second, slack)
	f.proc.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := entry(types.ChannelSlack)
	e.DelayMs = 10_000
	msg := message(e)
	err := f.proc.Process(ctx, msg)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StateRetry, msg.Status.State)
	assert.Zero(t, slack.callCount())
}

func TestProcess_MixedExhaustedAndRetryable(t *testing.T) {
	a := newFakeChannel(types.ChannelEmail)
	a.errs = []error{errors.New("down")}
	b := newFakeChannel(types.ChannelSMS)
	b.errs = []error{errors.New("down")}
	f := newProcessorFixture(t, time.Second, a, b)

	once := entry(types.ChannelEmail)
	once.RetryPolicy = &types.RetryPolicy{MaxAttempts: 1}
	msg := message(once, entry(types.ChannelSMS))

	err := f.proc.Process(context.Background(), msg)
	_, ok := types.AsRetryable(err)
	assert.True(t, ok, "any entry with attempts left retries the whole message")
	assert.Empty(t, f.metrics.processed)
}

func TestProcess_TrackerFailureDoesNotFailDelivery(t *testing.T) {
	slack := newFakeChannel(types.ChannelSlack)
	f := newProcessorFixture(t, time.Second, slack)
	f.tracker.err = errors.New("db down")

	msg := message(entry(types.ChannelSlack))
	require.NoError(t, f.proc.Process(context.Background(), msg))
	assert.Equal(t, types.StateDelivered, msg.Status.State)
	assert.NotEmpty(t, f.logger.warns)
}

func TestProcess_ChannelPanicIsFailure(t *testing.T) {
	f := newProcessorFixture(t, time.Second, panicChannel{})

	e := entry(types.ChannelTeams)
	e.RetryPolicy = &types.RetryPolicy{MaxAttempts: 1}
	msg := message(e)
	require.NoError(t, f.proc.Process(context.Background(), msg))
	assert.Equal(t, types.StateFailed, msg.Status.State)
	assert.Contains(t, msg.Status.Error, "panicked")
}

type panicChannel struct{}

func (panicChannel) Type() types.ChannelType { return types.ChannelTeams }
func (panicChannel) Validate(map[string]any) bool { return true }
func (panicChannel) Send(context.Context, types.MessageContent, map[string]any) (*types.DeliveryResult, error) {
	panic("boom")
}
