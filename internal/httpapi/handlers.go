package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/auth"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/queue"
	"outreach-platform/internal/realtime"
	"outreach-platform/internal/reporting"
	"outreach-platform/internal/telephony"
	"outreach-platform/pkg/logger"
)

// QueueRepository is the queue persistence surface the session API uses.
type QueueRepository interface {
	queue.ClaimRepository
	ListForSession(ctx context.Context, campaignID, callerID string) ([]queue.Item, error)
	Release(ctx context.Context, queueID, callerID string) error
	MarkDequeued(ctx context.Context, queueID string) error
}

// CampaignReader reads campaign settings and the active flag.
type CampaignReader interface {
	Get(ctx context.Context, campaignID string) (campaigns.Campaign, error)
	IsActive(ctx context.Context, campaignID string) (bool, error)
}

// AttemptService opens attempts and applies dispositions.
type AttemptService interface {
	Begin(ctx context.Context, workspaceID, campaignID, contactID, callerID, queueID string) (attempts.OutreachAttempt, error)
	Apply(ctx context.Context, workspaceID, attemptID string, d attempts.Disposition) (bool, error)
}

// Dial is the outbound call surface for power dialing.
type Dial interface {
	PlaceCall(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error)
	EndCall(ctx context.Context, sid string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Campaigns CampaignReader
	Queue     QueueRepository
	Attempts  AttemptService
	Dialer    Dial
	Reports   *reporting.Service
	Sessions  *Sessions

	// RDB feeds session stores from the change feed; nil disables mirroring.
	RDB *redis.Client

	// CallbackBase is the public URL prefix provider callbacks post to.
	CallbackBase string
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Caller sessions ---

func (h Handlers) identity(c *gin.Context) (workspaceID, callerID string, ok bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", "", false
	}
	callerID, err = auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", "", false
	}
	return workspaceID, callerID, true
}

// StartSession opens a power-dial session: the caller's queue is loaded,
// mirrored from the change feed, and held until the caller leaves.
func (h Handlers) StartSession(c *gin.Context) {
	log := logger.FromGin(c)
	workspaceID, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")

	camp, err := h.Campaigns.Get(c.Request.Context(), campaignID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if camp.WorkspaceID != workspaceID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if camp.DialMode != campaigns.DialModePower {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is not caller-driven"})
		return
	}
	if !camp.Active(time.Now()) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign is not active"})
		return
	}

	items, err := h.Queue.ListForSession(c.Request.Context(), campaignID, callerID)
	if err != nil {
		log.Error("session queue load failed", "campaign", campaignID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue load failed"})
		return
	}

	store := queue.NewStore(campaignID, callerID, queue.DialModePower)
	store.Replace(items)

	sess := &Session{
		WorkspaceID: workspaceID,
		CampaignID:  campaignID,
		CallerID:    callerID,
		Store:       store,
	}
	if h.RDB != nil {
		ctx, cancel := context.WithCancel(context.Background())
		sess.cancel = cancel
		bridge := realtime.NewBridge(h.RDB, workspaceID, campaignID, store, log)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("session bridge stopped", "campaign", campaignID, "err", err)
			}
		}()
	}
	h.Sessions.Put(sess)

	c.JSON(http.StatusOK, gin.H{
		"campaign_id": campaignID,
		"queue":       store.Snapshot(),
	})
}

// GetQueue returns the session's current queue view.
func (h Handlers) GetQueue(c *gin.Context) {
	_, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	sess, ok := h.Sessions.Get(c.Param("campaign_id"), callerID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": sess.Store.Snapshot()})
}

// maxPlaceRetries bounds how many contacts one next-recipient request may
// burn through when call placement keeps failing.
const maxPlaceRetries = 5

// NextRecipient hands the caller their next contact and places the call.
// Household mates of the current contact come first; a lost claim race is
// retried internally, never surfaced.
func (h Handlers) NextRecipient(c *gin.Context) {
	log := logger.FromGin(c)
	workspaceID, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")
	sess, ok := h.Sessions.Get(campaignID, callerID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	camp, err := h.Campaigns.Get(c.Request.Context(), campaignID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}

	currentContact, _, _, _ := sess.Current()
	sel := queue.Selector{
		Repo:           h.Queue,
		Campaigns:      h.Campaigns,
		GroupHousehold: camp.GroupHouseholdQueue,
	}

	// Placement failures advance to the following contact immediately instead
	// of bouncing the error back for the caller to retry. The bound keeps one
	// request from walking the whole queue when the provider is down.
	for try := 0; try < maxPlaceRetries; try++ {
		item, err := sel.NextPower(c.Request.Context(), sess.Store, currentContact)
		if errors.Is(err, queue.ErrCampaignComplete) {
			sess.ClearCurrent()
			c.JSON(http.StatusOK, gin.H{"complete": true})
			return
		}
		if errors.Is(err, queue.ErrNoRecipient) {
			sess.ClearCurrent()
			c.JSON(http.StatusOK, gin.H{"empty": true})
			return
		}
		if err != nil {
			log.Error("next recipient selection failed", "campaign", campaignID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "selection failed"})
			return
		}

		attempt, err := h.Attempts.Begin(c.Request.Context(), workspaceID, campaignID, item.ContactID, callerID, item.ID)
		if err != nil {
			log.Error("attempt begin failed", "campaign", campaignID, "contact", item.ContactID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "attempt failed"})
			return
		}

		sid := ""
		if h.Dialer != nil {
			res, err := h.Dialer.PlaceCall(c.Request.Context(), h.dialRequest(camp, item, attempt, callerID, sess))
			if err != nil {
				// Recorded as failed; the loop selects the following contact.
				log.Warn("power dial placement failed", "campaign", campaignID, "contact", item.ContactID, "err", err)
				if _, aerr := h.Attempts.Apply(c.Request.Context(), workspaceID, attempt.ID, attempts.DispositionFailed); aerr != nil {
					log.Error("failed disposition not recorded", "attempt", attempt.ID, "err", aerr)
				}
				currentContact = ""
				continue
			}
			sid = res.Sid
		}

		sess.SetCurrent(item.ContactID, item.ID, attempt.ID, sid)
		c.JSON(http.StatusOK, gin.H{
			"recipient":  item,
			"attempt_id": attempt.ID,
			"call_sid":   sid,
			"household":  sess.Store.Household(item.ContactID),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call placement failed"})
}

func (h Handlers) dialRequest(camp campaigns.Campaign, item queue.Item, attempt attempts.OutreachAttempt, callerID string, sess *Session) telephony.DialRequest {
	isLast := true
	for _, mate := range sess.Store.Household(item.ContactID) {
		if mate.Attempts == 0 {
			isLast = false
			break
		}
	}

	v := url.Values{}
	v.Set("workspace_id", camp.WorkspaceID)
	v.Set("campaign_id", camp.ID)
	v.Set("attempt_id", attempt.ID)
	v.Set("queue_id", item.ID)
	v.Set("contact_id", item.ContactID)
	v.Set("caller_id", callerID)

	return telephony.DialRequest{
		To:             item.ContactNumber,
		From:           camp.CallerIDNumber,
		CampaignID:     camp.ID,
		WorkspaceID:    camp.WorkspaceID,
		ContactID:      item.ContactID,
		QueueID:        item.ID,
		CallerID:       callerID,
		StatusCallback: h.CallbackBase + "/webhooks/voice/status?" + v.Encode(),
		IsLast:         isLast,
	}
}

// Dequeue skips the caller's current contact without calling it again.
func (h Handlers) Dequeue(c *gin.Context) {
	log := logger.FromGin(c)
	_, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	sess, ok := h.Sessions.Get(c.Param("campaign_id"), callerID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	_, queueID, _, _ := sess.Current()
	if queueID == "" {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no current recipient"})
		return
	}
	if err := h.Queue.MarkDequeued(c.Request.Context(), queueID); err != nil {
		log.Error("dequeue failed", "queue_id", queueID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dequeue failed"})
		return
	}
	sess.ClearCurrent()
	c.Status(http.StatusNoContent)
}

// Hangup ends the caller's live call. The terminal status callback settles
// the attempt disposition.
func (h Handlers) Hangup(c *gin.Context) {
	log := logger.FromGin(c)
	_, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	sess, ok := h.Sessions.Get(c.Param("campaign_id"), callerID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	_, _, _, sid := sess.Current()
	if sid == "" {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no live call"})
		return
	}
	// The local call state is dropped no matter what the provider says: the
	// caller pressed hangup, so the session must not keep a dead sid around.
	// A failed disconnect is retried by the provider's own call timeout.
	if err := h.Dialer.EndCall(c.Request.Context(), sid); err != nil {
		log.Warn("provider disconnect failed", "sid", sid, "err", err)
	}
	sess.ClearCall()
	c.Status(http.StatusNoContent)
}

// LeaveSession releases the caller's held contact back to the queue and
// tears the session down.
func (h Handlers) LeaveSession(c *gin.Context) {
	log := logger.FromGin(c)
	_, callerID, ok := h.identity(c)
	if !ok {
		return
	}
	campaignID := c.Param("campaign_id")
	sess, ok := h.Sessions.Remove(campaignID, callerID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	if _, queueID, _, _ := sess.Current(); queueID != "" {
		if err := h.Queue.Release(c.Request.Context(), queueID, callerID); err != nil {
			log.Warn("queue release failed", "queue_id", queueID, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

// --- Reporting ---

func (h Handlers) CallsSummary(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	req := reporting.CallsSummaryRequest{
		WorkspaceID: workspaceID,
		CampaignID:  c.Query("campaign_id"),
		Range:       rangeFromQuery(c),
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CampaignProgress(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	req := reporting.CampaignProgressRequest{
		WorkspaceID: workspaceID,
		CampaignID:  c.Param("campaign_id"),
		Range:       rangeFromQuery(c),
	}
	out, err := h.Reports.CampaignProgress(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "progress failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func rangeFromQuery(c *gin.Context) reporting.TimeRange {
	var tr reporting.TimeRange
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			tr.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			tr.To = t
		}
	}
	return tr
}
