package messaging

import (
	"context"
	"testing"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/ports"
	contractsv1 "adpilot/contracts/gen/events/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToEveryGroup(t *testing.T) {
	bus, err := NewKafka(nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		bus.Wait()
	}()

	got := make(chan string, 2)
	for _, group := range []string{"a", "b"} {
		require.NoError(t, bus.Subscribe(ctx, "automation.run_requested", group, func(_ context.Context, e ports.EventEnvelope) error {
			got <- group + ":" + e.EventID
			return nil
		}))
	}

	require.NoError(t, bus.Publish(ctx, "automation.run_requested", ports.EventEnvelope{EventID: "evt-1", EventType: "automation.run_requested", SchemaVersion: 1}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	assert.Equal(t, map[string]bool{"a:evt-1": true, "b:evt-1": true}, seen)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus, err := NewKafka(nil, nil)
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), "nobody", ports.EventEnvelope{EventID: "x", EventType: "nobody", SchemaVersion: 1}))
}

func TestPublishRejectsIncompleteEnvelope(t *testing.T) {
	bus, err := NewKafka(nil, nil)
	require.NoError(t, err)
	err = bus.Publish(context.Background(), "automation.run_requested", ports.EventEnvelope{EventID: "evt-1"})
	assert.ErrorIs(t, err, contractsv1.ErrInvalidEnvelope)
}
