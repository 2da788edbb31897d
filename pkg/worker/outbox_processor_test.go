package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelane/booking-api/internal/model"
	"github.com/carelane/booking-api/internal/repository/memory"
	"github.com/carelane/booking-api/pkg/logger"
	"github.com/carelane/booking-api/pkg/metrics"
)

type fakeBroker struct {
	published []string
	failures  int
}

func (b *fakeBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBroker) Close() error { return nil }

func newProcessor(repo *memory.OutboxRepository, broker *fakeBroker, maxRetries int) *OutboxProcessor {
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
		BatchSize:    10,
		PollInterval: time.Second,
		MaxRetries:   maxRetries,
		RetryDelay:   time.Millisecond,
	}, log, metrics.New("test"))
}

func seedEvent(t *testing.T, repo *memory.OutboxRepository, eventType string) *model.OutboxEvent {
	t.Helper()
	event := &model.OutboxEvent{EventType: eventType, Payload: []byte(`{"k":"v"}`)}
	require.NoError(t, repo.Create(context.Background(), event))
	return event
}

func TestProcessEventsPublishesAndMarksProcessed(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{}
	p := newProcessor(repo, broker, 3)

	seedEvent(t, repo, model.EventBookingAdmitted)
	seedEvent(t, repo, model.EventBookingCancelled)

	require.NoError(t, p.processEvents(context.Background()))

	assert.ElementsMatch(t, []string{model.EventBookingAdmitted, model.EventBookingCancelled}, broker.published)

	remaining, err := repo.GetPendingWithLock(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestProcessEventsSchedulesRetryOnFailure(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{failures: 1}
	p := newProcessor(repo, broker, 3)

	event := seedEvent(t, repo, model.EventBookingAdmitted)

	require.NoError(t, p.processEvents(context.Background()))
	assert.Empty(t, broker.published)

	// Retry scheduled, not yet failed.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.processEvents(context.Background()))
	assert.Equal(t, []string{model.EventBookingAdmitted}, broker.published)

	remaining, err := repo.GetPendingWithLock(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "event %s should be processed", event.ID)
}

func TestProcessEventsGivesUpAfterMaxRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{failures: 100}
	p := newProcessor(repo, broker, 2)

	seedEvent(t, repo, model.EventBookingAdmitted)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.processEvents(context.Background()))
		time.Sleep(5 * time.Millisecond)
	}

	// Failed events leave the pending queue for good.
	remaining, err := repo.GetPendingWithLock(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteProcessedBeforePrunes(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{}
	p := newProcessor(repo, broker, 3)

	seedEvent(t, repo, model.EventBookingAdmitted)
	require.NoError(t, p.processEvents(context.Background()))

	deleted, err := repo.DeleteProcessedBefore(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
