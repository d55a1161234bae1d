package server

import (
	"context"
	"testing"
	"time"

	"github.com/aerochat/shopsync/internal/content"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "shop-1.myshopify.com")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		ShopDomain: "shop-1.myshopify.com",
		EventType:  RealtimeEventSyncCompleted,
		Kind:       "pages",
		Saved:      2,
		Timestamp:  time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventSyncCompleted {
			t.Fatalf("expected event type %s, got %s", RealtimeEventSyncCompleted, received.EventType)
		}
		if received.Saved != 2 {
			t.Fatalf("expected 2 saved records, got %d", received.Saved)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByShop(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shopStream, cleanup := dispatcher.Subscribe(ctx, "shop-2.myshopify.com")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "shop-3.myshopify.com")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		ShopDomain: "shop-3.myshopify.com",
		EventType:  RealtimeEventSyncCompleted,
		Kind:       "articles",
		Timestamp:  time.Now().UTC(),
	})

	select {
	case <-shopStream:
		t.Fatal("did not expect realtime message for unrelated shop")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.ShopDomain != "shop-3.myshopify.com" {
			t.Fatalf("expected shop-3, received %s", msg.ShopDomain)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed shop")
	}
}

func TestRealtimeDispatcherPassCompletedPublishesResult(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dispatcher.clock = func() time.Time { return fixed }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "shop-4.myshopify.com")
	defer cleanup()

	dispatcher.PassCompleted(content.SyncResult{
		RunID:      "run-1",
		ShopDomain: "shop-4.myshopify.com",
		Kind:       content.KindArticles,
		Saved:      3,
		Deleted:    1,
		TotalCount: 3,
		Truncated:  true,
		Warnings:   []string{"page 2 failed"},
	})

	select {
	case msg := <-stream:
		if msg.Kind != "articles" || msg.RunID != "run-1" || msg.Deleted != 1 || !msg.Truncated {
			t.Fatalf("unexpected message: %#v", msg)
		}
		if len(msg.Warnings) != 1 || msg.Warnings[0] != "page 2 failed" {
			t.Fatalf("unexpected warnings: %v", msg.Warnings)
		}
		if !msg.Timestamp.Equal(fixed) {
			t.Fatalf("unexpected timestamp: %s", msg.Timestamp)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected pass completion message")
	}
}

func TestRealtimeDispatcherUnregistersOnContextCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "shop-5.myshopify.com")
	if count := dispatcher.subscriberCount("shop-5.myshopify.com"); count != 1 {
		t.Fatalf("expected one subscriber, got %d", count)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.subscriberCount("shop-5.myshopify.com") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeDispatcherRejectsEmptyShop(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for empty shop domain")
	}
}
