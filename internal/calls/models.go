package calls

import (
	"time"

	"outreach-platform/internal/attempts"
)

// Call represents one provider call leg, keyed by the provider call id (sid).
//
// Rows are created on placement or on the first webhook for an unknown sid,
// and upserted by every subsequent webhook. Once in a terminal status a row
// is immutable except for recording and billing fields.
type Call struct {
	Sid         string `json:"sid" db:"sid"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty" db:"campaign_id"`

	// AttemptID links the call to its outreach attempt; empty until linked.
	AttemptID string `json:"attempt_id,omitempty" db:"attempt_id"`
	QueueID   string `json:"queue_id,omitempty" db:"queue_id"`
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`
	CallerID  string `json:"caller_id,omitempty" db:"caller_id"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status CallStatus `json:"status" db:"status"`

	// AnsweredBy carries the provider's answering-machine classification
	// ("human", "machine_start", ...); empty when not reported.
	AnsweredBy string `json:"answered_by,omitempty" db:"answered_by"`

	DurationSeconds int `json:"duration" db:"duration"`

	RecordingURL             string `json:"recording_url,omitempty" db:"recording_url"`
	RecordingDurationSeconds int    `json:"recording_duration,omitempty" db:"recording_duration"`

	// IsLast marks the final call of a household batch.
	IsLast bool `json:"is_last" db:"is_last"`

	// Billed guards the exactly-once ledger debit per call.
	Billed bool `json:"billed" db:"billed"`

	// Concluded guards the exactly-once conclusion notification; provider
	// retries of a terminal webhook must not release a dial slot twice.
	Concluded bool `json:"concluded" db:"concluded"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// CallStatus is the provider status vocabulary, normalized.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the status ends the call leg.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	}
	return false
}

// Billable reports whether a terminal status triggers a ledger debit.
func (s CallStatus) Billable() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy:
		return true
	}
	return false
}

// NormalizeCallStatus maps the provider vocabulary onto CallStatus. Unknown
// statuses are reported (ok=false), never applied.
func NormalizeCallStatus(provider string) (CallStatus, bool) {
	switch CallStatus(provider) {
	case CallStatusQueued, CallStatusInitiated, CallStatusRinging, CallStatusInProgress,
		CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return CallStatus(provider), true
	}
	// Some provider event families use underscore spellings.
	switch provider {
	case "in_progress":
		return CallStatusInProgress, true
	case "no_answer":
		return CallStatusNoAnswer, true
	}
	return "", false
}

// Disposition maps a call status to the attempt disposition vocabulary.
func (s CallStatus) Disposition() attempts.Disposition {
	switch s {
	case CallStatusQueued, CallStatusInitiated:
		return attempts.DispositionInitiated
	case CallStatusRinging:
		return attempts.DispositionRinging
	case CallStatusInProgress:
		return attempts.DispositionInProgress
	case CallStatusCompleted:
		return attempts.DispositionCompleted
	case CallStatusFailed:
		return attempts.DispositionFailed
	case CallStatusNoAnswer:
		return attempts.DispositionNoAnswer
	case CallStatusBusy:
		return attempts.DispositionBusy
	case CallStatusCanceled:
		return attempts.DispositionCanceled
	}
	return ""
}

// MessageStatus is the provider vocabulary for outbound messages.
type MessageStatus string

const (
	MessageStatusQueued      MessageStatus = "queued"
	MessageStatusSending     MessageStatus = "sending"
	MessageStatusSent        MessageStatus = "sent"
	MessageStatusDelivered   MessageStatus = "delivered"
	MessageStatusUndelivered MessageStatus = "undelivered"
	MessageStatusFailed      MessageStatus = "failed"
)

// NormalizeMessageStatus maps provider message statuses; unknown values are
// reported, not applied.
func NormalizeMessageStatus(provider string) (MessageStatus, bool) {
	switch MessageStatus(provider) {
	case MessageStatusQueued, MessageStatusSending, MessageStatusSent,
		MessageStatusDelivered, MessageStatusUndelivered, MessageStatusFailed:
		return MessageStatus(provider), true
	}
	return "", false
}

// Terminal reports whether the message status is final.
func (s MessageStatus) Terminal() bool {
	switch s {
	case MessageStatusDelivered, MessageStatusUndelivered, MessageStatusFailed:
		return true
	}
	return false
}

// Billable reports whether the terminal message status debits the ledger.
func (s MessageStatus) Billable() bool {
	return s.Terminal()
}

// Disposition maps a message status onto the attempt vocabulary.
func (s MessageStatus) Disposition() attempts.Disposition {
	switch s {
	case MessageStatusQueued:
		return attempts.DispositionQueued
	case MessageStatusSending:
		return attempts.DispositionSending
	case MessageStatusSent:
		return attempts.DispositionSent
	case MessageStatusDelivered:
		return attempts.DispositionDelivered
	case MessageStatusUndelivered:
		return attempts.DispositionUndelivered
	case MessageStatusFailed:
		return attempts.DispositionFailed
	}
	return ""
}

// AnsweredByMachine reports whether the provider's AMD classification means
// a machine picked up. "human" and "unknown" do not count.
func AnsweredByMachine(answeredBy string) bool {
	switch answeredBy {
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		return true
	}
	return false
}
