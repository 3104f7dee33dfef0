package attempts

import "time"

// OutreachAttempt is one contact-per-campaign engagement record. Rows are
// append-only history; the tracker mutates disposition and result but never
// deletes.
//
// Invariant: exactly one attempt is current per (campaign, contact, caller)
// engagement, and disposition transitions are monotonic toward a terminal
// state (see CanTransition).
type OutreachAttempt struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`
	CallerID    string `json:"caller_id" db:"caller_id"`
	QueueID     string `json:"queue_id,omitempty" db:"queue_id"`

	Disposition Disposition `json:"disposition" db:"disposition"`

	// Result holds the IVR engine's per-block answers keyed
	// {pageID: {blockTitle: value}}.
	Result map[string]map[string]any `json:"result,omitempty" db:"result"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Disposition is the closed outcome vocabulary for calls and messages.
type Disposition string

const (
	// Voice track.
	DispositionInitiated  Disposition = "initiated"
	DispositionRinging    Disposition = "ringing"
	DispositionInProgress Disposition = "in-progress"
	DispositionIdle       Disposition = "idle"
	DispositionCompleted  Disposition = "completed"
	DispositionFailed     Disposition = "failed"
	DispositionNoAnswer   Disposition = "no-answer"
	DispositionBusy       Disposition = "busy"
	DispositionVoicemail  Disposition = "voicemail"
	DispositionCanceled   Disposition = "canceled"

	// Message track.
	DispositionQueued      Disposition = "queued"
	DispositionSending     Disposition = "sending"
	DispositionSent        Disposition = "sent"
	DispositionDelivered   Disposition = "delivered"
	DispositionUndelivered Disposition = "undelivered"
)

// inFlight lists every non-terminal disposition. An update is applied only
// while the stored disposition is in this set (or empty), which makes
// late/duplicate terminal events no-ops.
var inFlight = map[Disposition]struct{}{
	DispositionInitiated:  {},
	DispositionRinging:    {},
	DispositionInProgress: {},
	DispositionIdle:       {},
	DispositionQueued:     {},
	DispositionSending:    {},
	DispositionSent:       {},
}

var terminal = map[Disposition]struct{}{
	DispositionCompleted:   {},
	DispositionFailed:      {},
	DispositionNoAnswer:    {},
	DispositionBusy:        {},
	DispositionVoicemail:   {},
	DispositionCanceled:    {},
	DispositionDelivered:   {},
	DispositionUndelivered: {},
}

// Known reports whether d belongs to the closed vocabulary.
func (d Disposition) Known() bool {
	_, t := terminal[d]
	_, f := inFlight[d]
	return t || f
}

// Terminal reports whether d ends the attempt.
func (d Disposition) Terminal() bool {
	_, ok := terminal[d]
	return ok
}

// InFlight reports whether d still expects further updates.
func (d Disposition) InFlight() bool {
	_, ok := inFlight[d]
	return ok
}

// Answered reports whether d signals a human (or machine) picked up.
func (d Disposition) Answered() bool {
	return d == DispositionInProgress
}

// CanTransition implements the monotonic-terminal-wins rule: an update
// applies only while the stored disposition is empty or in-flight. A stored
// terminal is never overwritten; a provider-confirmed terminal arriving over
// an in-flight state always applies.
func CanTransition(from, to Disposition) bool {
	if !to.Known() {
		return false
	}
	if from == "" {
		return true
	}
	return from.InFlight()
}
