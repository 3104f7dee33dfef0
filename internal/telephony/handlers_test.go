package telephony

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"outreach-platform/internal/campaigns"

	"github.com/gin-gonic/gin"
)

const ivrScript = `{
  "pages": {
    "p1": {"id": "p1", "title": "Intro", "blocks": ["a", "b"]},
    "p2": {"id": "p2", "title": "Close", "blocks": ["c"]}
  },
  "blocks": {
    "a": {"id": "a", "type": "question", "title": "Interested",
          "content": "Press one if interested.",
          "options": [{"value": "1", "next": "c"}]},
    "b": {"id": "b", "type": "statement", "content": "Thanks for listening."},
    "c": {"id": "c", "type": "statement", "content": "Goodbye."}
  }
}`

type stubCampaignSource struct{ c campaigns.Campaign }

func (s stubCampaignSource) Get(ctx context.Context, campaignID string) (campaigns.Campaign, error) {
	return s.c, nil
}

type stubAnswers struct {
	pages  []string
	keys   []string
	values []any
}

func (s *stubAnswers) RecordAnswer(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error {
	s.pages = append(s.pages, pageID)
	s.keys = append(s.keys, blockTitle)
	s.values = append(s.values, value)
	return nil
}

func newIVRRouter(answers *stubAnswers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := IVRHandler{
		Campaigns: stubCampaignSource{c: campaigns.Campaign{ID: "c1", ScriptJSON: []byte(ivrScript)}},
		Attempts:  answers,
		BaseURL:   "https://core.example.com",
	}
	r := gin.New()
	r.POST("/webhooks/voice/step", h.HandleStep)
	return r
}

func TestIVRStepEntryRendersFirstBlock(t *testing.T) {
	router := newIVRRouter(&stubAnswers{})

	req := httptest.NewRequest("POST", "/webhooks/voice/step?workspace_id=w1&campaign_id=c1&attempt_id=a1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "Press one if interested.") {
		t.Fatalf("entry must render the first block prompt:\n%s", body)
	}
	if !strings.Contains(body, "<Gather") || !strings.Contains(body, "block=a") {
		t.Fatalf("options block must gather back to itself:\n%s", body)
	}
}

func TestIVRStepOptionJumpRecordsAnswer(t *testing.T) {
	answers := &stubAnswers{}
	router := newIVRRouter(answers)

	form := url.Values{}
	form.Set("Digits", "1")
	req := httptest.NewRequest("POST",
		"/webhooks/voice/step?workspace_id=w1&campaign_id=c1&attempt_id=a1&page=p1&block=a",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "Goodbye.") {
		t.Fatalf("option 1 must jump to block c:\n%s", body)
	}
	if len(answers.keys) != 1 || answers.keys[0] != "Interested" || answers.values[0] != "1" {
		t.Fatalf("answer not recorded under block title: %+v %+v", answers.keys, answers.values)
	}
	if answers.pages[0] != "p1" {
		t.Fatalf("answer must be keyed by page, got %q", answers.pages[0])
	}
}

func TestIVRStepLinearAdvanceAndHangup(t *testing.T) {
	router := newIVRRouter(&stubAnswers{})

	// No input at block b, the last block reachable linearly before p2.
	req := httptest.NewRequest("POST",
		"/webhooks/voice/step?campaign_id=c1&page=p1&block=b", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "Goodbye.") {
		t.Fatalf("end of page must advance to next page's first block:\n%s", w.Body.String())
	}

	// Block c is the script's last block; advancing from it hangs up.
	req = httptest.NewRequest("POST",
		"/webhooks/voice/step?campaign_id=c1&page=p2&block=c", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("end of script must hang up:\n%s", w.Body.String())
	}
}

func TestIVRStepBadScriptSpeaksApology(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := IVRHandler{
		Campaigns: stubCampaignSource{c: campaigns.Campaign{ID: "c1", ScriptJSON: []byte(`{"pages": {}}`)}},
		Attempts:  &stubAnswers{},
		BaseURL:   "https://core.example.com",
	}
	r := gin.New()
	r.POST("/webhooks/voice/step", h.HandleStep)

	req := httptest.NewRequest("POST", "/webhooks/voice/step?campaign_id=c1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 || !strings.Contains(w.Body.String(), "sorry") {
		t.Fatalf("engine errors must end with a spoken apology: %d %s", w.Code, w.Body.String())
	}
}
