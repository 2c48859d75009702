package eventbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func natsURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return "nats://127.0.0.1:4222"
}

func TestJetStreamBus_RoundTrip(t *testing.T) {
	bus, err := NewJetStreamBus(natsURL(), "NAVIGATION_TEST", time.Minute)
	if err != nil {
		t.Skipf("NATS недоступен: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Envelope, 1)
	sub, err := bus.Subscribe(ctx, Filter{Types: []string{TypeBatchConfirmed}}, func(_ context.Context, ev *Envelope) {
		select {
		case received <- ev:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ev, err := NewEnvelope(TypeBatchConfirmed, "agent-test", "nav-test", BatchConfirmed{TxID: "tx-1", Steps: 5})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ev))

	select {
	case got := <-received:
		var p BatchConfirmed
		require.NoError(t, got.Decode(&p))
		assert.Equal(t, "tx-1", p.TxID)
	case <-time.After(5 * time.Second):
		t.Fatal("событие не доставлено")
	}
	assert.GreaterOrEqual(t, bus.Metrics().Published, uint64(1))
}
