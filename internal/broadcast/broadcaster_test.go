// ABOUTME: Tests for the battle event broadcaster
// ABOUTME: Covers both scopes, isolation, slow-subscriber drops, context cleanup

package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentarena/arena/internal/store"
)

func makeEvent(id, battleID string) *store.Event {
	return &store.Event{
		ID:         id,
		BattleID:   battleID,
		Timestamp:  time.Now(),
		Message:    "hello from " + id,
		ReportedBy: "test",
	}
}

func TestBroadcaster_LogSubscriberReceivesEvent(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, _ := b.SubscribeLogs(context.Background(), "battle-1")

	b.PublishLog("battle-1", makeEvent("evt-1", "battle-1"))

	select {
	case received := <-ch:
		assert.Equal(t, "evt-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_BattlesAreIsolated(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch1, _ := b.SubscribeLogs(context.Background(), "battle-1")
	ch2, _ := b.SubscribeLogs(context.Background(), "battle-2")

	b.PublishLog("battle-1", makeEvent("evt-1", "battle-1"))

	select {
	case received := <-ch1:
		assert.Equal(t, "evt-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for battle-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for battle-2 should not receive battle-1 events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleLogSubscribers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch1, _ := b.SubscribeLogs(context.Background(), "battle-1")
	ch2, _ := b.SubscribeLogs(context.Background(), "battle-1")

	b.PublishLog("battle-1", makeEvent("evt-1", "battle-1"))

	for i, ch := range []<-chan *store.Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, "evt-1", received.ID, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowLogSubscriberDropsEvents(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, _ := b.SubscribeLogs(context.Background(), "battle-1")

	// Fill well past the buffer without draining; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.PublishLog("battle-1", makeEvent("evt", "battle-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffer holds at most subscriberBufferSize events.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Equal(t, subscriberBufferSize, count)
			return
		}
	}
}

func TestBroadcaster_ListSnapshotAndDelta(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, _ := b.SubscribeList(context.Background())

	battle := &store.Battle{ID: "battle-1", State: store.BattleQueued}
	b.PublishSnapshot([]*store.Battle{battle})
	b.PublishDelta(battle)

	select {
	case msg := <-ch:
		require.Equal(t, ListSnapshot, msg.Type)
		require.Len(t, msg.Battles, 1)
		assert.Equal(t, "battle-1", msg.Battles[0].ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	select {
	case msg := <-ch:
		require.Equal(t, ListDelta, msg.Type)
		require.NotNil(t, msg.Battle)
		assert.Equal(t, "battle-1", msg.Battle.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.SubscribeLogs(ctx, "battle-1")
	cancel()

	// The channel is closed once cleanup runs.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// Publishing afterwards must not panic.
	b.PublishLog("battle-1", makeEvent("evt-1", "battle-1"))
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, subID := b.SubscribeLogs(context.Background(), "battle-1")
	b.UnsubscribeLogs("battle-1", subID)
	b.UnsubscribeLogs("battle-1", subID)

	_, listID := b.SubscribeList(context.Background())
	b.UnsubscribeList(listID)
	b.UnsubscribeList(listID)
}
