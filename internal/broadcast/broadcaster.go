// ABOUTME: In-memory fan-out broadcaster for battle log events and battle-list updates
// ABOUTME: Non-blocking delivery; slow subscribers drop events instead of stalling battles

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agentarena/arena/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// List message types delivered on the battle-list scope.
const (
	ListSnapshot = "snapshot"
	ListDelta    = "delta"
)

// ListMessage is one battle-list stream message: either a full snapshot of
// all battles or a single-battle delta. Consumers treat a delta as "replace
// this battle_id's record".
type ListMessage struct {
	Type    string          `json:"type"`
	Battles []*store.Battle `json:"battles,omitempty"`
	Battle  *store.Battle   `json:"battle,omitempty"`
}

// Broadcaster provides in-memory pub/sub for battle state. Two scopes are
// supported: per-battle log streams keyed by battle ID, and a single global
// battle-list stream. Battle processing runs off the delivery path; sends
// are non-blocking and events are dropped for subscribers whose channels
// are full.
type Broadcaster struct {
	mu       sync.RWMutex
	logSubs  map[string]map[string]chan *store.Event // battleID -> subID -> ch
	listSubs map[string]chan *ListMessage            // subID -> ch
	logger   *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logSubs:  make(map[string]map[string]chan *store.Event),
		listSubs: make(map[string]chan *ListMessage),
		logger:   logger.With("component", "broadcaster"),
	}
}

// SubscribeLogs registers a subscriber for a battle's log events. Returns a
// channel that receives events and a subscription ID. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) SubscribeLogs(ctx context.Context, battleID string) (<-chan *store.Event, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.logSubs[battleID]; !ok {
		b.logSubs[battleID] = make(map[string]chan *store.Event)
	}
	b.logSubs[battleID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("log subscriber added", "battle_id", battleID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.UnsubscribeLogs(battleID, subID)
	}()

	return ch, subID
}

// PublishLog sends a battle log event to all subscribers of that battle.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) PublishLog(battleID string, event *store.Event) {
	b.mu.RLock()
	subs, ok := b.logSubs[battleID]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan *store.Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped log event for slow subscriber",
				"battle_id", battleID, "event_id", event.ID)
		}
	}
}

// UnsubscribeLogs removes a log subscription and closes its channel.
func (b *Broadcaster) UnsubscribeLogs(battleID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.logSubs[battleID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.logSubs, battleID)
	}

	b.logger.Debug("log subscriber removed", "battle_id", battleID, "sub_id", subID)
}

// SubscribeList registers a subscriber for the global battle-list stream.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) SubscribeList(ctx context.Context) (<-chan *ListMessage, string) {
	subID := uuid.New().String()
	ch := make(chan *ListMessage, subscriberBufferSize)

	b.mu.Lock()
	b.listSubs[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("list subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.UnsubscribeList(subID)
	}()

	return ch, subID
}

// PublishSnapshot sends a full battle-list snapshot to every list subscriber.
// Used on bulk changes such as battle creation.
func (b *Broadcaster) PublishSnapshot(battles []*store.Battle) {
	b.publishList(&ListMessage{Type: ListSnapshot, Battles: battles})
}

// PublishDelta sends a single-battle update to every list subscriber.
func (b *Broadcaster) PublishDelta(battle *store.Battle) {
	b.publishList(&ListMessage{Type: ListDelta, Battle: battle})
}

func (b *Broadcaster) publishList(msg *ListMessage) {
	b.mu.RLock()
	targets := make([]chan *ListMessage, 0, len(b.listSubs))
	for _, ch := range b.listSubs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped list message for slow subscriber", "type", msg.Type)
		}
	}
}

// UnsubscribeList removes a list subscription and closes its channel.
func (b *Broadcaster) UnsubscribeList(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.listSubs[subID]
	if !ok {
		return
	}
	delete(b.listSubs, subID)
	close(ch)

	b.logger.Debug("list subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for battleID, subs := range b.logSubs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.logSubs, battleID)
	}
	for subID, ch := range b.listSubs {
		close(ch)
		delete(b.listSubs, subID)
	}

	b.logger.Debug("broadcaster closed")
}
