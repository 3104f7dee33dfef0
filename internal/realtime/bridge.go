package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach-platform/internal/queue"
)

// defaultDebounce is the trailing window that coalesces rapid update bursts
// for a single entity. The last event in a burst is always delivered.
const defaultDebounce = 150 * time.Millisecond

// Channel is the pub/sub channel carrying change events for one
// campaign-scoped session.
func Channel(workspaceID, campaignID string) string {
	return "cdc:" + workspaceID + ":" + campaignID
}

// Publish pushes one change event onto the campaign channel.
func Publish(ctx context.Context, rdb *redis.Client, workspaceID, campaignID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, Channel(workspaceID, campaignID), payload).Err()
}

// Bridge subscribes to a campaign's change feed and drives updates into the
// queue store and any registered listener. Events for the same entity are
// debounced with a trailing window: a burst collapses to its last event,
// never to nothing.
type Bridge struct {
	rdb         *redis.Client
	workspaceID string
	campaignID  string

	store *queue.Store
	// OnEvent receives every delivered event after local state is updated,
	// for fan-out to connected clients.
	OnEvent func(Event)

	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
}

type pendingEvent struct {
	timer  *time.Timer
	latest Event
}

func NewBridge(rdb *redis.Client, workspaceID, campaignID string, store *queue.Store, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		rdb:         rdb,
		workspaceID: workspaceID,
		campaignID:  campaignID,
		store:       store,
		debounce:    defaultDebounce,
		log:         log,
		pending:     make(map[string]*pendingEvent),
	}
}

// Run consumes the channel until ctx is cancelled. Pending debounced events
// are flushed on the way out.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, Channel(b.workspaceID, b.campaignID))
	defer sub.Close()
	defer b.Flush()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("change event decode failed", "err", err)
				continue
			}
			b.handle(ev)
		}
	}
}

// handle schedules one event for delivery. A burst of events for the same
// entity resets the trailing timer each time and keeps only the newest.
func (b *Bridge) handle(ev Event) {
	switch ev.Table {
	case TableQueue, TableCall, TableAttempt:
	default:
		b.log.Debug("change event for unmirrored table dropped", "table", ev.Table)
		return
	}

	key, err := ev.Key()
	if err != nil {
		b.log.Warn("change event without identity dropped", "table", ev.Table, "err", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if p, ok := b.pending[key]; ok {
		p.latest = ev
		p.timer.Reset(b.debounce)
		return
	}

	p := &pendingEvent{latest: ev}
	p.timer = time.AfterFunc(b.debounce, func() { b.fire(key) })
	b.pending[key] = p
}

func (b *Bridge) fire(key string) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if ok {
		b.deliver(p.latest)
	}
}

// Flush delivers everything still waiting on a timer and stops accepting
// new events. Shutdown must not lose the last event of any burst.
func (b *Bridge) Flush() {
	b.mu.Lock()
	b.closed = true
	rest := make([]Event, 0, len(b.pending))
	for key, p := range b.pending {
		p.timer.Stop()
		rest = append(rest, p.latest)
		delete(b.pending, key)
	}
	b.mu.Unlock()

	for _, ev := range rest {
		b.deliver(ev)
	}
}

func (b *Bridge) deliver(ev Event) {
	if ev.Table == TableQueue && b.store != nil {
		change, err := ev.QueueChange()
		if err != nil {
			b.log.Warn("queue change decode failed", "err", err)
		} else {
			b.store.Apply(change)
		}
	}
	if b.OnEvent != nil {
		b.OnEvent(ev)
	}
}
