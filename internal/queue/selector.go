package queue

import (
	"context"
	"errors"
)

var (
	// ErrNoRecipient means the queue has nothing claimable right now.
	ErrNoRecipient = errors.New("queue: no recipient available")
	// ErrCampaignComplete means the campaign is no longer active; callers
	// should stop requesting contacts.
	ErrCampaignComplete = errors.New("queue: campaign complete")
	// ErrClaimLost means another caller won the conditional claim.
	ErrClaimLost = errors.New("queue: claim lost")
)

// ClaimRepository is the data-layer conditional-claim protocol. Both dial
// modes go through it: the single conditional update is the only defense
// against two callers claiming the same contact, so it is never skipped for
// manual dialing.
type ClaimRepository interface {
	// ClaimNext atomically claims the highest-priority queued item for the
	// campaign. Returns ErrNoRecipient when nothing is queued.
	ClaimNext(ctx context.Context, campaignID, callerID string) (Item, error)
	// Claim atomically claims a specific queue row iff it is still queued.
	// Returns ErrClaimLost when another caller got there first.
	Claim(ctx context.Context, queueID, callerID string) (Item, error)
}

// CampaignStateReader exposes the single campaign flag the selector needs.
type CampaignStateReader interface {
	IsActive(ctx context.Context, campaignID string) (bool, error)
}

// Selector chooses the next contact for a caller.
type Selector struct {
	Repo      ClaimRepository
	Campaigns CampaignStateReader

	// GroupHousehold enables don't-call-twice-per-household continuation.
	GroupHousehold bool
}

// NextPower picks the next recipient for a manual caller: household mates of
// the current recipient first (when grouping is on), then the head of the
// sorted queue. A lost claim race is retried transparently with the next
// candidate rather than surfaced.
func (s *Selector) NextPower(ctx context.Context, st *Store, currentContactID string) (Item, error) {
	if err := s.gate(ctx, st.CampaignID()); err != nil {
		return Item{}, err
	}

	for _, cand := range s.candidates(st, currentContactID) {
		if cand.HeldBy(st.CallerID()) {
			// Already checked out to this caller (e.g. session resume).
			return cand, nil
		}
		it, err := s.Repo.Claim(ctx, cand.ID, st.CallerID())
		if errors.Is(err, ErrClaimLost) {
			continue
		}
		if err != nil {
			return Item{}, err
		}
		return it, nil
	}
	return Item{}, ErrNoRecipient
}

// NextPredictive asks the data layer for the highest-priority unclaimed item
// across the whole campaign.
func (s *Selector) NextPredictive(ctx context.Context, campaignID, callerID string) (Item, error) {
	if err := s.gate(ctx, campaignID); err != nil {
		return Item{}, err
	}
	return s.Repo.ClaimNext(ctx, campaignID, callerID)
}

func (s *Selector) gate(ctx context.Context, campaignID string) error {
	if s.Campaigns == nil {
		return nil
	}
	active, err := s.Campaigns.IsActive(ctx, campaignID)
	if err != nil {
		return err
	}
	if !active {
		return ErrCampaignComplete
	}
	return nil
}

// candidates orders claim attempts: unattempted household mates of the
// current recipient, then the general queue in sorted order.
func (s *Selector) candidates(st *Store, currentContactID string) []Item {
	var out []Item
	seen := make(map[string]struct{})

	if s.GroupHousehold && currentContactID != "" {
		for _, mate := range st.Household(currentContactID) {
			if mate.Attempts > 0 {
				continue
			}
			out = append(out, mate)
			seen[mate.ID] = struct{}{}
		}
	}
	for _, it := range st.Snapshot() {
		if it.ContactID == currentContactID {
			continue
		}
		if _, ok := seen[it.ID]; ok {
			continue
		}
		out = append(out, it)
	}
	return out
}
