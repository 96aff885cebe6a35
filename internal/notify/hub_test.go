package notify

import (
	"testing"
	"time"

	"github.com/dispatchlab/dispatch/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(logger.NewDefault().Logger)
}

func TestHub_BroadcastFiltersByUser(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	subU1 := hub.Subscribe("u1")
	subU2 := hub.Subscribe("u2")

	update := Update{
		JobID:     "job-1",
		UserID:    "u1",
		Status:    "Processing",
		UpdatedAt: time.Now().UTC(),
	}
	hub.Broadcast(update)

	select {
	case got := <-subU1.Updates():
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, "Processing", got.Status)
	case <-time.After(time.Second):
		t.Fatal("subscriber for u1 did not receive the update")
	}

	select {
	case got := <-subU2.Updates():
		t.Fatalf("subscriber for u2 received update for u1: %+v", got)
	default:
	}
}

func TestHub_MultipleSubscribersSameUser(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	a := hub.Subscribe("u1")
	b := hub.Subscribe("u1")
	require.Equal(t, 2, hub.SubscriberCount())

	hub.Broadcast(Update{JobID: "job-1", UserID: "u1", Status: "Complete"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case got := <-sub.Updates():
			assert.Equal(t, "Complete", got.Status)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the update")
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	sub := hub.Subscribe("u1")

	// Overfill the buffer; Broadcast must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Broadcast(Update{JobID: "job-1", UserID: "u1", Status: "Processing"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}

	// The buffered updates are still readable
	received := 0
	for {
		select {
		case <-sub.Updates():
			received++
		default:
			assert.Equal(t, subscriberBuffer, received)
			return
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	sub := hub.Subscribe("u1")
	sub.Close()
	sub.Close() // idempotent

	assert.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-sub.Updates()
	assert.False(t, ok, "updates channel should be closed")

	// Broadcasting after close must not panic
	hub.Broadcast(Update{JobID: "job-1", UserID: "u1", Status: "Error"})
}

func TestHub_Close(t *testing.T) {
	hub := newTestHub()

	sub := hub.Subscribe("u1")
	hub.Close()

	_, ok := <-sub.Updates()
	assert.False(t, ok)

	// Subscribing after close yields an already-closed subscription
	late := hub.Subscribe("u2")
	_, ok = <-late.Updates()
	assert.False(t, ok)

	// Closing a closed-hub subscription must not panic
	late.Close()
}
