package server

import (
	"context"
	"sync"
	"time"

	"github.com/aerochat/shopsync/internal/content"
)

const (
	RealtimeEventSyncCompleted = "sync-completed"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "shopsync"
)

// RealtimeMessage describes a completed pass delivered to subscribers of a shop.
type RealtimeMessage struct {
	ShopDomain string
	EventType  string
	Kind       string
	RunID      string
	Saved      int
	Deleted    int
	TotalCount int64
	Truncated  bool
	Warnings   []string
	Timestamp  time.Time
}

// RealtimeDispatcher fans pass completions out to per-shop subscribers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for the shop. The stream is unregistered when ctx ends
// or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, shopDomain string) (<-chan RealtimeMessage, func()) {
	if shopDomain == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(shopDomain, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(shopDomain, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its shop. Slow subscribers drop messages.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.ShopDomain == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.ShopDomain]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PassCompleted publishes a sync-completed event for the pass's shop.
func (d *RealtimeDispatcher) PassCompleted(result content.SyncResult) {
	d.Publish(RealtimeMessage{
		ShopDomain: result.ShopDomain,
		EventType:  RealtimeEventSyncCompleted,
		Kind:       result.Kind.String(),
		RunID:      result.RunID,
		Saved:      result.Saved,
		Deleted:    result.Deleted,
		TotalCount: result.TotalCount,
		Truncated:  result.Truncated,
		Warnings:   append([]string(nil), result.Warnings...),
		Timestamp:  d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) subscriberCount(shopDomain string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[shopDomain])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(shopDomain string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[shopDomain]; !ok {
		d.subscribers[shopDomain] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[shopDomain][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(shopDomain string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[shopDomain]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, shopDomain)
		}
	}
	d.mu.Unlock()
}
