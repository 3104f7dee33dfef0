package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/campaigns"
	"outreach-platform/internal/queue"
	"outreach-platform/internal/telephony"
	"outreach-platform/pkg/utils"
)

// PredictiveCallerID is the synthetic caller identity predictive and
// automated campaigns claim queue rows under.
const PredictiveCallerID = "predictive-dialer"

// maxPlaceRetries bounds how many contacts a single trigger invocation will
// advance past after placement failures before giving up the slot.
const maxPlaceRetries = 5

// NextClaimer claims the next contact for an unattended campaign.
type NextClaimer interface {
	NextPredictive(ctx context.Context, campaignID, callerID string) (queue.Item, error)
}

// HouseholdCounter reports how many queued household mates a contact still
// has, for the is-last flag on the placed call.
type HouseholdCounter interface {
	CountQueuedHousehold(ctx context.Context, campaignID, address string) (int, error)
}

// AttemptStarter opens an attempt for a claimed contact and records
// placement failures.
type AttemptStarter interface {
	Begin(ctx context.Context, workspaceID, campaignID, contactID, callerID, queueID string) (attempts.OutreachAttempt, error)
	Apply(ctx context.Context, workspaceID, attemptID string, d attempts.Disposition) (bool, error)
}

// CallPlacer is the outbound dialer boundary.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error)
}

// CampaignStore reads campaign settings and closes drained campaigns.
type CampaignStore interface {
	Get(ctx context.Context, campaignID string) (campaigns.Campaign, error)
	SetStatus(ctx context.Context, campaignID string, status campaigns.Status) error
}

// CapGate enforces the per-campaign concurrent-dial cap.
type CapGate interface {
	Acquire(ctx context.Context, campaignID string, limit int) (bool, error)
	Release(ctx context.Context, campaignID string) error
	// InUse returns the number of slots currently held.
	InUse(ctx context.Context, campaignID string) (int, error)
}

// Trigger keeps unattended campaigns dialing: it fills free concurrency
// slots after dequeues and after every concluded attempt, so the queue never
// sits idle while work remains.
type Trigger struct {
	Queue      NextClaimer
	Households HouseholdCounter
	Attempts   AttemptStarter
	Dialer     CallPlacer
	Campaigns  CampaignStore
	Caps       CapGate

	// CallbackBase is the public URL prefix provider callbacks post to.
	CallbackBase string

	Log *slog.Logger
}

func (t *Trigger) log() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

// Fill places calls until the campaign's cap is saturated or the queue runs
// dry.
func (t *Trigger) Fill(ctx context.Context, campaignID string) error {
	for {
		placed, err := t.Next(ctx, campaignID)
		if err != nil {
			return err
		}
		if !placed {
			return nil
		}
	}
}

// OnAttemptConcluded releases the concluded call's slot and immediately
// requests the next contact.
func (t *Trigger) OnAttemptConcluded(ctx context.Context, campaignID string) {
	if err := t.Caps.Release(ctx, campaignID); err != nil {
		t.log().Warn("dial cap release failed", "campaign", campaignID, "err", err)
	}
	if _, err := t.Next(ctx, campaignID); err != nil {
		t.log().Warn("next dial after conclusion failed", "campaign", campaignID, "err", err)
	}
}

// Next claims one contact and places one call. It returns false when no call
// was placed: campaign not running, cap saturated, or queue drained. A
// placement failure marks the attempt failed and advances to the next
// contact rather than stalling the queue.
func (t *Trigger) Next(ctx context.Context, campaignID string) (bool, error) {
	camp, err := t.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if camp.DialMode == campaigns.DialModePower || !camp.Active(time.Now()) {
		return false, nil
	}

	limit := camp.DialConcurrency
	if limit <= 0 {
		limit = 1
	}
	ok, err := t.Caps.Acquire(ctx, campaignID, limit)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	for try := 0; try < maxPlaceRetries; try++ {
		item, err := t.Queue.NextPredictive(ctx, campaignID, PredictiveCallerID)
		if errors.Is(err, queue.ErrNoRecipient) {
			t.releaseSlot(ctx, campaignID)
			t.completeIfDrained(ctx, campaignID)
			return false, nil
		}
		if errors.Is(err, queue.ErrCampaignComplete) {
			t.releaseSlot(ctx, campaignID)
			return false, nil
		}
		if err != nil {
			t.releaseSlot(ctx, campaignID)
			return false, err
		}

		attempt, err := t.Attempts.Begin(ctx, camp.WorkspaceID, campaignID, item.ContactID, PredictiveCallerID, item.ID)
		if err != nil {
			t.releaseSlot(ctx, campaignID)
			return false, err
		}

		if err := t.place(ctx, camp, item, attempt); err != nil {
			t.log().Warn("call placement failed", "campaign", campaignID, "contact", item.ContactID, "err", err)
			if _, aerr := t.Attempts.Apply(ctx, camp.WorkspaceID, attempt.ID, attempts.DispositionFailed); aerr != nil {
				t.log().Error("failed disposition not recorded", "attempt", attempt.ID, "err", aerr)
			}
			continue
		}
		return true, nil
	}

	t.releaseSlot(ctx, campaignID)
	return false, nil
}

func (t *Trigger) place(ctx context.Context, camp campaigns.Campaign, item queue.Item, attempt attempts.OutreachAttempt) error {
	corr := telephony.Correlation{
		WorkspaceID: camp.WorkspaceID,
		CampaignID:  camp.ID,
		AttemptID:   attempt.ID,
		QueueID:     item.ID,
		ContactID:   item.ContactID,
		CallerID:    PredictiveCallerID,
	}

	req := telephony.DialRequest{
		To:             item.ContactNumber,
		From:           camp.CallerIDNumber,
		CampaignID:     camp.ID,
		WorkspaceID:    camp.WorkspaceID,
		ContactID:      item.ContactID,
		QueueID:        item.ID,
		CallerID:       PredictiveCallerID,
		StatusCallback: t.callbackURL("/webhooks/voice/status", corr),
		IsLast:         t.isLast(ctx, camp, item),
	}
	if camp.DialMode == campaigns.DialModeIVR {
		req.VoiceURL = t.callbackURL("/webhooks/voice/step", corr)
	}

	_, err := t.Dialer.PlaceCall(ctx, req)
	return err
}

// isLast reports whether this contact is the final queued member of its
// household batch.
func (t *Trigger) isLast(ctx context.Context, camp campaigns.Campaign, item queue.Item) bool {
	if !camp.GroupHouseholdQueue || t.Households == nil || item.Address == "" {
		return true
	}
	n, err := t.Households.CountQueuedHousehold(ctx, camp.ID, item.Address)
	if err != nil {
		t.log().Warn("household count failed", "campaign", camp.ID, "err", err)
		return true
	}
	return n == 0
}

// completeIfDrained closes the campaign once the queue is empty and no call
// is still in flight.
func (t *Trigger) completeIfDrained(ctx context.Context, campaignID string) {
	inUse, err := t.Caps.InUse(ctx, campaignID)
	if err != nil {
		t.log().Warn("dial cap inspection failed", "campaign", campaignID, "err", err)
		return
	}
	if inUse > 0 {
		return
	}
	if err := t.Campaigns.SetStatus(ctx, campaignID, campaigns.StatusComplete); err != nil {
		t.log().Error("campaign completion failed", "campaign", campaignID, "err", err)
		return
	}
	t.log().Info("campaign drained, marked complete", "campaign", campaignID)
}

func (t *Trigger) releaseSlot(ctx context.Context, campaignID string) {
	if err := t.Caps.Release(ctx, campaignID); err != nil {
		t.log().Warn("dial cap release failed", "campaign", campaignID, "err", err)
	}
}

func (t *Trigger) callbackURL(path string, corr telephony.Correlation) string {
	v := url.Values{}
	v.Set("workspace_id", corr.WorkspaceID)
	v.Set("campaign_id", corr.CampaignID)
	v.Set("attempt_id", corr.AttemptID)
	v.Set("queue_id", corr.QueueID)
	v.Set("contact_id", corr.ContactID)
	v.Set("caller_id", corr.CallerID)
	return t.CallbackBase + path + "?" + v.Encode()
}

// RedisCaps enforces dial caps with the shared atomic acquire/release
// scripts. The TTL bounds slot leakage across process crashes.
type RedisCaps struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *RedisCaps) key(campaignID string) string { return "dialcap:" + campaignID }

func (c *RedisCaps) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return 10 * time.Minute
}

func (c *RedisCaps) Acquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.RDB, c.key(campaignID), limit, c.ttl())
}

func (c *RedisCaps) Release(ctx context.Context, campaignID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.RDB, c.key(campaignID))
}

func (c *RedisCaps) InUse(ctx context.Context, campaignID string) (int, error) {
	n, err := c.RDB.Get(ctx, c.key(campaignID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
