package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"outreach-platform/internal/calls"
)

// StatusCallbackForm captures the subset of status webhook fields we care
// about. The provider sends application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only. Business logic lives in the
// lifecycle reconciler, not here.
type StatusCallbackForm struct {
	CallSid    string
	MessageSid string

	From string
	To   string

	CallStatus    string
	MessageStatus string
	AnsweredBy    string

	CallDuration      int
	RecordingURL      string
	RecordingDuration int

	Digits       string
	SpeechResult string

	Timestamp string
}

// Correlation identifies which engagement a callback belongs to. The values
// are appended to the status-callback URL when the call is placed, so every
// webhook carries them back as query parameters.
type Correlation struct {
	WorkspaceID string
	CampaignID  string
	AttemptID   string
	QueueID     string
	ContactID   string
	CallerID    string
}

func ParseCorrelation(r *http.Request) Correlation {
	q := r.URL.Query()
	return Correlation{
		WorkspaceID: q.Get("workspace_id"),
		CampaignID:  q.Get("campaign_id"),
		AttemptID:   q.Get("attempt_id"),
		QueueID:     q.Get("queue_id"),
		ContactID:   q.Get("contact_id"),
		CallerID:    q.Get("caller_id"),
	}
}

func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	f := StatusCallbackForm{
		CallSid:           r.PostFormValue("CallSid"),
		MessageSid:        r.PostFormValue("MessageSid"),
		From:              normalizePhone(r.PostFormValue("From")),
		To:                normalizePhone(r.PostFormValue("To")),
		CallStatus:        r.PostFormValue("CallStatus"),
		MessageStatus:     r.PostFormValue("MessageStatus"),
		AnsweredBy:        r.PostFormValue("AnsweredBy"),
		CallDuration:      formInt(r, "CallDuration"),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: formInt(r, "RecordingDuration"),
		Digits:            r.PostFormValue("Digits"),
		SpeechResult:      r.PostFormValue("SpeechResult"),
		Timestamp:         r.PostFormValue("Timestamp"),
	}
	return f, nil
}

// Input returns whichever caller input the callback carried, DTMF first.
func (f StatusCallbackForm) Input() string {
	if f.Digits != "" {
		return f.Digits
	}
	return f.SpeechResult
}

// StatusEvent maps the form onto the reconciler's event type. For message
// callbacks the message sid and status take the call fields' place.
func (f StatusCallbackForm) StatusEvent(corr Correlation, now time.Time) calls.StatusEvent {
	sid := f.CallSid
	status := f.CallStatus
	if sid == "" {
		sid = f.MessageSid
		status = f.MessageStatus
	}

	occurred := now
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			occurred = t
		}
	}

	return calls.StatusEvent{
		Sid:               sid,
		WorkspaceID:       corr.WorkspaceID,
		CampaignID:        corr.CampaignID,
		AttemptID:         corr.AttemptID,
		QueueID:           corr.QueueID,
		ContactID:         corr.ContactID,
		CallerID:          corr.CallerID,
		From:              f.From,
		To:                f.To,
		Status:            status,
		AnsweredBy:        f.AnsweredBy,
		Duration:          f.CallDuration,
		RecordingURL:      f.RecordingURL,
		RecordingDuration: f.RecordingDuration,
		OccurredAt:        occurred,
	}
}

func formInt(r *http.Request, key string) int {
	v := strings.TrimSpace(r.PostFormValue(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// The provider sometimes sends "anonymous" or empty; keep as-is.
	return s
}
