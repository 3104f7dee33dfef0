package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrInvalidArgument = errors.New("telephony: invalid argument")

// DialRequest asks the external dialer service to place an outbound call.
type DialRequest struct {
	To          string `json:"to"`
	From        string `json:"from"`
	CampaignID  string `json:"campaign_id"`
	WorkspaceID string `json:"workspace_id"`
	ContactID   string `json:"contact_id"`
	QueueID     string `json:"queue_id"`
	CallerID    string `json:"caller_id"`

	// StatusCallback is where the provider should post progress events.
	StatusCallback string `json:"status_callback,omitempty"`
	// VoiceURL drives automated calls through the IVR step endpoint.
	VoiceURL string `json:"voice_url,omitempty"`
	// IsLast marks the final call of a household batch.
	IsLast bool `json:"is_last,omitempty"`
}

// MessageRequest asks the dialer service to send an outbound message.
type MessageRequest struct {
	To          string `json:"to"`
	From        string `json:"from"`
	Body        string `json:"body"`
	CampaignID  string `json:"campaign_id"`
	WorkspaceID string `json:"workspace_id"`
	ContactID   string `json:"contact_id"`
	QueueID     string `json:"queue_id"`
	CallerID    string `json:"caller_id"`

	StatusCallback string `json:"status_callback,omitempty"`
}

// DialResult carries the provider identifier for the placed call or message.
type DialResult struct {
	Sid string `json:"sid"`
}

// Dialer is the JSON-over-HTTP client for the external dialer/messenger
// service. All provider SDK traffic lives on the far side of this boundary.
type Dialer struct {
	baseURL string
	http    *http.Client
}

func NewDialer(baseURL string) *Dialer {
	return &Dialer{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// PlaceCall requests an outbound call. The returned sid keys every later
// status callback for this call.
func (d *Dialer) PlaceCall(ctx context.Context, req DialRequest) (DialResult, error) {
	if req.To == "" || req.From == "" || req.WorkspaceID == "" {
		return DialResult{}, ErrInvalidArgument
	}
	return d.post(ctx, "/calls", req)
}

// SendMessage requests an outbound message.
func (d *Dialer) SendMessage(ctx context.Context, req MessageRequest) (DialResult, error) {
	if req.To == "" || req.From == "" || req.WorkspaceID == "" {
		return DialResult{}, ErrInvalidArgument
	}
	return d.post(ctx, "/messages", req)
}

// EndCall hangs up a live call. A call the provider no longer knows about is
// treated as already disconnected, not an error.
func (d *Dialer) EndCall(ctx context.Context, sid string) error {
	if sid == "" {
		return ErrInvalidArgument
	}
	res, err := d.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(sid)+"/end", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
		return nil
	}
	return checkStatus(res)
}

// Redirect replaces the instructions of a live call with the given TwiML.
func (d *Dialer) Redirect(ctx context.Context, sid, twiml string) error {
	if sid == "" || twiml == "" {
		return ErrInvalidArgument
	}
	body := struct {
		TwiML string `json:"twiml"`
	}{TwiML: twiml}
	res, err := d.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(sid)+"/redirect", body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return checkStatus(res)
}

// RedirectToVoicemail moves a machine-answered call into the voicemail
// branch: the campaign's recorded drop when one is set, a short synthetic
// message otherwise.
func (d *Dialer) RedirectToVoicemail(ctx context.Context, sid, audioURL string) error {
	r := NewResponse().Pause(1)
	if audioURL != "" {
		r.Play(audioURL)
	} else {
		r.Say("Sorry we missed you. We will try to reach you again soon. Goodbye.")
	}
	twiml, err := r.Hangup().Render()
	if err != nil {
		return err
	}
	return d.Redirect(ctx, sid, twiml)
}

func (d *Dialer) post(ctx context.Context, path string, payload any) (DialResult, error) {
	res, err := d.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return DialResult{}, err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return DialResult{}, err
	}
	var out DialResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return DialResult{}, fmt.Errorf("telephony: decode dialer response: %w", err)
	}
	if out.Sid == "" {
		return DialResult{}, errors.New("telephony: dialer returned no sid")
	}
	return out, nil
}

func (d *Dialer) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.http.Do(req)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("telephony: dialer rejected with status %d", res.StatusCode)
	}
	return nil
}
