package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitFansOut(t *testing.T) {
	first := &captureNotifier{}
	second := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{first, second}}

	payload := map[string]any{"transactionId": "tx-1"}
	event, err := bus.Emit(context.Background(), events.TopicTransactionSubmitted, "tx-1", payload)
	require.NoError(t, err)
	require.NotEqual(t, "", event.ID.String())
	require.False(t, event.OccurredAt.IsZero())
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, event.ID, first.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first.events[0].Payload, &decoded))
	require.Equal(t, "tx-1", decoded["transactionId"])
}

func TestEmitContinuesPastFailingNotifier(t *testing.T) {
	failing := &captureNotifier{err: errors.New("boom")}
	healthy := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{failing, healthy}}

	_, err := bus.Emit(context.Background(), events.TopicScanRejected, "tx-1", nil)
	require.Error(t, err)
	require.Len(t, healthy.events, 1, "healthy notifier should still receive the event")
	require.JSONEq(t, `{}`, string(healthy.events[0].Payload))
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{}

	_, err := bus.Emit(context.Background(), " ", "tx-1", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicSessionOpened, "ses-1", json.RawMessage("{not json"))
	require.Error(t, err)
}
