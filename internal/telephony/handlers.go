package telephony

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"outreach-platform/internal/calls"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/script"
	"outreach-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusHandler converts provider status webhooks to internal events and
// delegates to the lifecycle reconciler. No business logic here.
type StatusHandler struct {
	Reconciler *calls.Reconciler

	Now func() time.Time
}

func (h StatusHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h StatusHandler) HandleCallStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("call status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev := form.StatusEvent(ParseCorrelation(c.Request), h.now())
	if err := h.Reconciler.HandleCallStatus(c.Request.Context(), ev); err != nil {
		log.Error("call status reconciliation failed", "sid", ev.Sid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h StatusHandler) HandleMessageStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("message status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev := form.StatusEvent(ParseCorrelation(c.Request), h.now())
	if err := h.Reconciler.HandleMessageStatus(c.Request.Context(), ev); err != nil {
		log.Error("message status reconciliation failed", "sid", ev.Sid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CampaignSource loads the campaign whose script a live call is walking.
type CampaignSource interface {
	Get(ctx context.Context, campaignID string) (campaigns.Campaign, error)
}

// AnswerRecorder persists one block answer into the attempt result.
type AnswerRecorder interface {
	RecordAnswer(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error
}

// IVRHandler walks an automated call through the campaign script one webhook
// at a time. Each request resolves exactly one step: record the input for
// the block the caller just heard, ask the engine for the next target, and
// render that block as TwiML. No traversal state is held between requests
// beyond the page/block encoded in the action URL.
type IVRHandler struct {
	Campaigns CampaignSource
	Attempts  AnswerRecorder

	// BaseURL is the public prefix for step action URLs.
	BaseURL string
}

func (h IVRHandler) HandleStep(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()
	corr := ParseCorrelation(c.Request)

	form, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("ivr step parse failed", "err", err)
		h.apology(c)
		return
	}

	camp, err := h.Campaigns.Get(ctx, corr.CampaignID)
	if err != nil {
		log.Error("ivr campaign lookup failed", "campaign", corr.CampaignID, "err", err)
		h.apology(c)
		return
	}
	s, err := script.Load(camp.ScriptJSON)
	if err != nil {
		// Validation gates activation, so a bad script here is a defect.
		log.Error("ivr script load failed", "campaign", corr.CampaignID, "err", err)
		h.apology(c)
		return
	}

	q := c.Request.URL.Query()
	pageID, blockID := q.Get("page"), q.Get("block")

	// First webhook of the call: enter at the script's first block.
	if pageID == "" || blockID == "" {
		pid, bid, ok := s.FirstStep()
		if !ok {
			h.apology(c)
			return
		}
		h.renderBlock(c, s, corr, pid, bid)
		return
	}

	input := form.Input()
	if input != "" && corr.AttemptID != "" {
		if b, ok := s.Blocks[blockID]; ok {
			key := b.Title
			if key == "" {
				key = b.ID
			}
			if err := h.Attempts.RecordAnswer(ctx, corr.WorkspaceID, corr.AttemptID, pageID, key, input); err != nil {
				log.Error("ivr answer record failed", "attempt", corr.AttemptID, "block", blockID, "err", err)
			}
		}
	}

	next := script.FindNextStep(s, pageID, blockID, input)
	pid, bid, ok := s.Resolve(pageID, next)
	if !ok {
		h.goodbye(c)
		return
	}
	h.renderBlock(c, s, corr, pid, bid)
}

// renderBlock translates one script block into TwiML. Blocks with options
// gather input and post back to this handler; plain blocks speak and then
// redirect so linear advance continues without input.
func (h IVRHandler) renderBlock(c *gin.Context, s *script.Script, corr Correlation, pageID, blockID string) {
	b, ok := s.Blocks[blockID]
	if !ok {
		h.goodbye(c)
		return
	}

	action := h.stepURL(corr, pageID, blockID)
	r := NewResponse()

	prompt := func(r *Response) {
		if b.AudioURL != "" {
			r.Play(b.AudioURL)
		} else if b.Content != "" {
			r.Say(b.Content)
		}
	}

	if len(b.Options) > 0 {
		r.Gather(Gather{
			Action:        action,
			Input:         "dtmf speech",
			NumDigits:     1,
			Timeout:       5,
			SpeechTimeout: "auto",
		}, prompt)
		// No input within the timeout: fall through to linear advance.
		r.Redirect(action)
	} else {
		prompt(r)
		r.Redirect(action)
	}

	h.respond(c, r)
}

func (h IVRHandler) stepURL(corr Correlation, pageID, blockID string) string {
	v := url.Values{}
	if corr.WorkspaceID != "" {
		v.Set("workspace_id", corr.WorkspaceID)
	}
	if corr.CampaignID != "" {
		v.Set("campaign_id", corr.CampaignID)
	}
	if corr.AttemptID != "" {
		v.Set("attempt_id", corr.AttemptID)
	}
	if corr.QueueID != "" {
		v.Set("queue_id", corr.QueueID)
	}
	if corr.ContactID != "" {
		v.Set("contact_id", corr.ContactID)
	}
	if corr.CallerID != "" {
		v.Set("caller_id", corr.CallerID)
	}
	v.Set("page", pageID)
	v.Set("block", blockID)
	return h.BaseURL + "/webhooks/voice/step?" + v.Encode()
}

// apology ends a live call that hit an engine error with a spoken message
// rather than leaving it hanging.
func (h IVRHandler) apology(c *gin.Context) {
	h.respond(c, NewResponse().
		Say("We are sorry, something went wrong with this call. Goodbye.").
		Hangup())
}

func (h IVRHandler) goodbye(c *gin.Context) {
	h.respond(c, NewResponse().Hangup())
}

func (h IVRHandler) respond(c *gin.Context, r *Response) {
	twiml, err := r.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
