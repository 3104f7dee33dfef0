package queue

import "strings"

// Item is one dialable entry in a campaign's queue.
//
// Status is "queued", "dequeued", "completed", "cancelled", or a caller id;
// a caller id means that caller has checked the contact out. At most one
// item per (campaign, contact) is active at a time.
type Item struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	ContactID  string `json:"contact_id" db:"contact_id"`

	Status     string `json:"status" db:"status"`
	Attempts   int    `json:"attempts" db:"attempts"`
	QueueOrder int64  `json:"queue_order" db:"queue_order"`

	ContactName   string `json:"contact_name,omitempty" db:"contact_name"`
	ContactNumber string `json:"contact_number,omitempty" db:"contact_number"`

	// Address is the contact's street address, denormalized onto the queue
	// row for household grouping.
	Address string `json:"address,omitempty" db:"address"`
}

const (
	StatusQueued    = "queued"
	StatusDequeued  = "dequeued"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// HeldBy reports whether the item is checked out to the given caller.
func (i Item) HeldBy(callerID string) bool {
	return callerID != "" && i.Status == callerID
}

// ChangeEvent is the change-feed payload for a campaign_queue row.
type ChangeEvent struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ContactID  string `json:"contact_id"`
	Attempts   int    `json:"attempts"`
	QueueOrder int64  `json:"queue_order"`

	ContactName   string `json:"contact_name,omitempty"`
	ContactNumber string `json:"contact_number,omitempty"`
	Address       string `json:"address,omitempty"`
}

func (ev ChangeEvent) item(campaignID string) Item {
	return Item{
		ID:            ev.ID,
		CampaignID:    campaignID,
		ContactID:     ev.ContactID,
		Status:        ev.Status,
		Attempts:      ev.Attempts,
		QueueOrder:    ev.QueueOrder,
		ContactName:   ev.ContactName,
		ContactNumber: ev.ContactNumber,
		Address:       ev.Address,
	}
}

// NormalizeAddress produces the household grouping key: lowercase with all
// whitespace collapsed out. Empty addresses do not group.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.Join(strings.Fields(addr), ""))
}
