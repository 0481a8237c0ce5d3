// ABOUTME: Tests for the event broadcaster
// ABOUTME: Covers fan-out, slow-watcher drops and concurrent watcher churn

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logicleai/logicle/internal/chat"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, "c1")
	ch2, _ := b.Subscribe(ctx, "c1")
	other, _ := b.Subscribe(ctx, "c2")

	b.Publish("c1", chat.Event{Type: chat.EventTextDelta, TextDelta: "hi"})

	for _, ch := range []<-chan chat.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "hi", ev.TextDelta)
		case <-time.After(time.Second):
			t.Fatal("watcher did not receive event")
		}
	}

	select {
	case ev := <-other:
		t.Fatalf("watcher of other conversation received %v", ev.Type)
	default:
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "c1")
	b.Unsubscribe("c1", subID)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after the last watcher left is a no-op.
	b.Publish("c1", chat.Event{Type: chat.EventTextDelta, TextDelta: "late"})
}

func TestBroadcasterContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "c1")
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestBroadcasterSlowWatcherDropsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "c1")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("c1", chat.Event{Type: chat.EventTextDelta, TextDelta: "x"})
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcasterConcurrentWatcherChurn(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	done := make(chan struct{})
	var publishers, watchers sync.WaitGroup

	// Publishers hammer one conversation while watchers come and go.
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-done:
					return
				default:
					b.Publish("c1", chat.Event{Type: chat.EventTextDelta, TextDelta: "x"})
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			for j := 0; j < 200; j++ {
				ctx, cancel := context.WithCancel(context.Background())
				ch, subID := b.Subscribe(ctx, "c1")
				select {
				case <-ch:
				default:
				}
				if j%2 == 0 {
					b.Unsubscribe("c1", subID)
				}
				cancel()
			}
		}()
	}

	watchers.Wait()
	close(done)
	publishers.Wait()
}
