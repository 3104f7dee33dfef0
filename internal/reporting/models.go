package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Workspace isolation: WorkspaceID is required.

type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
	CampaignID  string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`
	BilledCalls   int `json:"billed_calls"`
}

// CampaignProgressRequest requests the live state of one campaign's queue
// and attempt history.

type CampaignProgressRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	CampaignID  string    `json:"campaign_id"`
	Range       TimeRange `json:"range"`
}

type CampaignProgress struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`

	// Queue depth by status. Checked-out rows count under "checked_out".
	Queued     int `json:"queued"`
	CheckedOut int `json:"checked_out"`
	Dequeued   int `json:"dequeued"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`

	// Attempt outcomes within the range, keyed by disposition.
	Attempts map[string]int `json:"attempts"`

	AnsweredAttempts int `json:"answered_attempts"`
	TotalAttempts    int `json:"total_attempts"`

	AnswerRate float64 `json:"answer_rate"`
}
