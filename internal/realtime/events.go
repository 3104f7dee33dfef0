package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"outreach-platform/internal/queue"
)

// Tables mirrored over the change feed.
const (
	TableQueue   = "campaign_queue"
	TableCall    = "call"
	TableAttempt = "outreach_attempt"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

var ErrUnknownTable = errors.New("realtime: unknown table")

// Event is one change-data-capture record. New carries the row after an
// INSERT/UPDATE; Old carries the row before a DELETE.
type Event struct {
	Table     string          `json:"table"`
	EventType string          `json:"eventType"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// Row returns the payload that describes the row's current identity.
func (e Event) Row() json.RawMessage {
	if e.EventType == EventDelete {
		return e.Old
	}
	return e.New
}

// Key identifies the entity a sequence of events is about, for per-entity
// debouncing. Two events with the same key describe the same row.
func (e Event) Key() (string, error) {
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Row(), &row); err != nil {
		return "", fmt.Errorf("realtime: event row: %w", err)
	}
	if row.ID == "" {
		return "", errors.New("realtime: event row has no id")
	}
	return e.Table + ":" + row.ID, nil
}

// QueueChange decodes a campaign_queue event into the queue store's change
// type. A DELETE is surfaced as a dequeued row so the store drops it.
func (e Event) QueueChange() (queue.ChangeEvent, error) {
	if e.Table != TableQueue {
		return queue.ChangeEvent{}, ErrUnknownTable
	}
	var ev queue.ChangeEvent
	if err := json.Unmarshal(e.Row(), &ev); err != nil {
		return queue.ChangeEvent{}, fmt.Errorf("realtime: queue event: %w", err)
	}
	if e.EventType == EventDelete {
		ev.Status = queue.StatusDequeued
	}
	return ev, nil
}
