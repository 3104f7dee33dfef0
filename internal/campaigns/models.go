package campaigns

import "time"

// Campaign holds the orchestration-relevant campaign settings. Audience
// import and admin CRUD live outside this service; the core only reads.
type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Title       string `json:"title" db:"title"`

	DialMode DialMode `json:"dial_mode" db:"dial_mode"`
	Status   Status   `json:"status" db:"status"`

	// CallerIDNumber is the E.164 number outbound calls present.
	CallerIDNumber string `json:"caller_id_number" db:"caller_id_number"`

	// GroupHouseholdQueue enables don't-call-twice-per-household ordering.
	GroupHouseholdQueue bool `json:"group_household_queue" db:"group_household_queue"`

	// VoicemailAudioURL is played when answering-machine detection fires;
	// empty means a synthesized message is used.
	VoicemailAudioURL string `json:"voicemail_audio_url,omitempty" db:"voicemail_audio_url"`

	// ScriptJSON is the persisted IVR script for automated campaigns,
	// validated at load time.
	ScriptJSON []byte `json:"script,omitempty" db:"script"`

	// DialConcurrency caps simultaneous provider calls in predictive mode.
	DialConcurrency int `json:"dial_concurrency" db:"dial_concurrency"`

	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type DialMode string

const (
	DialModePower      DialMode = "power"
	DialModePredictive DialMode = "predictive"
	DialModeIVR        DialMode = "ivr"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
)

// Active reports whether the campaign may dial right now.
func (c Campaign) Active(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// Ended reports whether the campaign's end date has passed.
func (c Campaign) Ended(now time.Time) bool {
	return c.EndDate != nil && now.After(*c.EndDate)
}
