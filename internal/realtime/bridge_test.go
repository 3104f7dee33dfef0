package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"outreach-platform/internal/queue"
)

func queueEvent(eventType, id, contactID, status string, attempts int, order int64) Event {
	row, _ := json.Marshal(map[string]any{
		"id":          id,
		"contact_id":  contactID,
		"status":      status,
		"attempts":    attempts,
		"queue_order": order,
	})
	ev := Event{Table: TableQueue, EventType: eventType}
	if eventType == EventDelete {
		ev.Old = row
	} else {
		ev.New = row
	}
	return ev
}

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *eventCollector) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func newTestBridge(store *queue.Store, debounce time.Duration) (*Bridge, *eventCollector) {
	b := NewBridge(nil, "w1", "c1", store, nil)
	b.debounce = debounce
	col := &eventCollector{}
	b.OnEvent = col.add
	return b, col
}

func TestBurstCollapsesToLastEvent(t *testing.T) {
	st := queue.NewStore("c1", "caller-1", queue.DialModePower)
	b, col := newTestBridge(st, 20*time.Millisecond)

	// Three rapid updates for the same row; only the final state matters.
	b.handle(queueEvent(EventInsert, "q1", "ct1", "queued", 0, 1))
	b.handle(queueEvent(EventUpdate, "q1", "ct1", "queued", 1, 1))
	b.handle(queueEvent(EventUpdate, "q1", "ct1", "queued", 2, 1))

	time.Sleep(60 * time.Millisecond)

	if got := col.len(); got != 1 {
		t.Fatalf("burst must collapse to one delivery, got %d", got)
	}
	items := st.Snapshot()
	if len(items) != 1 || items[0].Attempts != 2 {
		t.Fatalf("store must see the last event of the burst: %+v", items)
	}
}

func TestDistinctEntitiesDebounceIndependently(t *testing.T) {
	st := queue.NewStore("c1", "caller-1", queue.DialModePower)
	b, col := newTestBridge(st, 20*time.Millisecond)

	b.handle(queueEvent(EventInsert, "q1", "ct1", "queued", 0, 1))
	b.handle(queueEvent(EventInsert, "q2", "ct2", "queued", 0, 2))

	time.Sleep(60 * time.Millisecond)

	if got := col.len(); got != 2 {
		t.Fatalf("separate rows must each deliver, got %d", got)
	}
	if st.Len() != 2 {
		t.Fatalf("store must hold both rows, got %d", st.Len())
	}
}

func TestFlushDeliversPendingEvents(t *testing.T) {
	st := queue.NewStore("c1", "caller-1", queue.DialModePower)
	b, col := newTestBridge(st, time.Hour)

	b.handle(queueEvent(EventInsert, "q1", "ct1", "queued", 0, 1))
	b.Flush()

	if got := col.len(); got != 1 {
		t.Fatalf("flush must deliver the pending event, got %d", got)
	}
	// After flush the bridge accepts nothing new.
	b.handle(queueEvent(EventInsert, "q2", "ct2", "queued", 0, 2))
	time.Sleep(10 * time.Millisecond)
	if got := col.len(); got != 1 {
		t.Fatalf("closed bridge must drop new events, got %d", got)
	}
}

func TestDeleteEventRemovesFromStore(t *testing.T) {
	st := queue.NewStore("c1", "caller-1", queue.DialModePower)
	st.Replace([]queue.Item{{ID: "q1", CampaignID: "c1", ContactID: "ct1", Status: "queued", QueueOrder: 1}})
	b, _ := newTestBridge(st, 5*time.Millisecond)

	b.handle(queueEvent(EventDelete, "q1", "ct1", "queued", 0, 1))
	time.Sleep(30 * time.Millisecond)

	if st.Len() != 0 {
		t.Fatalf("delete must drop the row, store has %d", st.Len())
	}
}

func TestUnknownTableAndMalformedEventsDropped(t *testing.T) {
	b, col := newTestBridge(nil, time.Millisecond)

	b.handle(Event{Table: "workspace", EventType: EventUpdate, New: json.RawMessage(`{"id":"x"}`)})
	b.handle(Event{Table: TableCall, EventType: EventUpdate, New: json.RawMessage(`{}`)})
	time.Sleep(20 * time.Millisecond)

	if got := col.len(); got != 0 {
		t.Fatalf("unmirrored and identity-less events must be dropped, got %d", got)
	}
}
