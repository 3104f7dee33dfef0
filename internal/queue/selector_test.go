package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// stubClaims backs the selector with an in-memory claim table; the
// conditional check mirrors the SQL guard (status must still be "queued").
type stubClaims struct {
	mu    sync.Mutex
	items map[string]*Item
	order []string
}

func newStubClaims(items ...Item) *stubClaims {
	s := &stubClaims{items: make(map[string]*Item)}
	for _, it := range items {
		cp := it
		s.items[it.ID] = &cp
		s.order = append(s.order, it.ID)
	}
	return s
}

func (s *stubClaims) ClaimNext(ctx context.Context, campaignID, callerID string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		it := s.items[id]
		if it.CampaignID == campaignID && it.Status == StatusQueued {
			it.Status = callerID
			it.Attempts++
			return *it, nil
		}
	}
	return Item{}, ErrNoRecipient
}

func (s *stubClaims) Claim(ctx context.Context, queueID, callerID string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[queueID]
	if !ok || it.Status != StatusQueued {
		return Item{}, ErrClaimLost
	}
	it.Status = callerID
	it.Attempts++
	return *it, nil
}

type stubCampaignState struct {
	active bool
	err    error
}

func (s stubCampaignState) IsActive(ctx context.Context, campaignID string) (bool, error) {
	return s.active, s.err
}

func TestNextPowerReturnsHead(t *testing.T) {
	items := []Item{
		{ID: "q1", CampaignID: "camp", ContactID: "c1", Status: StatusQueued, QueueOrder: 1},
		{ID: "q2", CampaignID: "camp", ContactID: "c2", Status: StatusQueued, QueueOrder: 2},
	}
	repo := newStubClaims(items...)
	sel := &Selector{Repo: repo, Campaigns: stubCampaignState{active: true}}

	st := NewStore("camp", "caller-1", DialModePower)
	st.Replace(items)

	got, err := sel.NextPower(context.Background(), st, "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ID != "q1" {
		t.Fatalf("expected head q1, got %s", got.ID)
	}
	if !got.HeldBy("caller-1") {
		t.Fatalf("expected claim to caller-1, got status %q", got.Status)
	}
}

func TestNextPowerRetriesLostClaim(t *testing.T) {
	items := []Item{
		{ID: "q1", CampaignID: "camp", ContactID: "c1", Status: StatusQueued, QueueOrder: 1},
		{ID: "q2", CampaignID: "camp", ContactID: "c2", Status: StatusQueued, QueueOrder: 2},
	}
	repo := newStubClaims(items...)
	// Another caller already won q1 at the data layer; the local snapshot is
	// stale and still shows it queued.
	if _, err := repo.Claim(context.Background(), "q1", "caller-2"); err != nil {
		t.Fatalf("setup claim failed: %v", err)
	}

	sel := &Selector{Repo: repo, Campaigns: stubCampaignState{active: true}}
	st := NewStore("camp", "caller-1", DialModePower)
	st.Replace(items)

	got, err := sel.NextPower(context.Background(), st, "")
	if err != nil {
		t.Fatalf("expected transparent retry, got err: %v", err)
	}
	if got.ID != "q2" {
		t.Fatalf("expected fallthrough to q2, got %s", got.ID)
	}
}

func TestNextPowerHouseholdContinuation(t *testing.T) {
	items := []Item{
		{ID: "q1", CampaignID: "camp", ContactID: "c1", Status: StatusQueued, QueueOrder: 1, Address: "12 Oak St"},
		{ID: "q2", CampaignID: "camp", ContactID: "c2", Status: StatusQueued, QueueOrder: 2},
		{ID: "q3", CampaignID: "camp", ContactID: "c3", Status: StatusQueued, QueueOrder: 3, Address: "12 Oak St"},
	}
	repo := newStubClaims(items...)
	sel := &Selector{Repo: repo, Campaigns: stubCampaignState{active: true}, GroupHousehold: true}

	st := NewStore("camp", "caller-1", DialModePower)
	st.Replace(items)

	// After finishing c1, its household mate c3 is offered before q2.
	got, err := sel.NextPower(context.Background(), st, "c1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ContactID != "c3" {
		t.Fatalf("expected household mate c3, got %s", got.ContactID)
	}
}

func TestNextPowerHouseholdSkipsAttemptedMates(t *testing.T) {
	items := []Item{
		{ID: "q1", CampaignID: "camp", ContactID: "c1", Status: StatusQueued, QueueOrder: 1, Address: "12 Oak St"},
		{ID: "q2", CampaignID: "camp", ContactID: "c2", Status: StatusQueued, QueueOrder: 2},
		{ID: "q3", CampaignID: "camp", ContactID: "c3", Status: StatusQueued, QueueOrder: 3, Attempts: 2, Address: "12 Oak St"},
	}
	repo := newStubClaims(items...)
	sel := &Selector{Repo: repo, Campaigns: stubCampaignState{active: true}, GroupHousehold: true}

	st := NewStore("camp", "caller-1", DialModePower)
	st.Replace(items)

	got, err := sel.NextPower(context.Background(), st, "c1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ContactID == "c3" {
		t.Fatalf("attempted household mate must not be offered")
	}
}

func TestNextPowerEmptyQueue(t *testing.T) {
	sel := &Selector{Repo: newStubClaims(), Campaigns: stubCampaignState{active: true}}
	st := NewStore("camp", "caller-1", DialModePower)

	if _, err := sel.NextPower(context.Background(), st, ""); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestSelectorSignalsCampaignComplete(t *testing.T) {
	sel := &Selector{Repo: newStubClaims(), Campaigns: stubCampaignState{active: false}}
	st := NewStore("camp", "caller-1", DialModePower)

	if _, err := sel.NextPower(context.Background(), st, ""); !errors.Is(err, ErrCampaignComplete) {
		t.Fatalf("expected ErrCampaignComplete, got %v", err)
	}
	if _, err := sel.NextPredictive(context.Background(), "camp", "caller-1"); !errors.Is(err, ErrCampaignComplete) {
		t.Fatalf("expected ErrCampaignComplete, got %v", err)
	}
}

func TestConcurrentClaimsNeverShareAContact(t *testing.T) {
	const callers = 8
	const contacts = 5

	var items []Item
	for i := 0; i < contacts; i++ {
		items = append(items, Item{
			ID:         string(rune('a' + i)),
			CampaignID: "camp",
			ContactID:  "c" + string(rune('a'+i)),
			Status:     StatusQueued,
			QueueOrder: int64(i),
		})
	}
	repo := newStubClaims(items...)
	sel := &Selector{Repo: repo, Campaigns: stubCampaignState{active: true}}

	type claim struct {
		caller string
		item   string
	}
	results := make(chan claim, callers*contacts)

	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			for {
				it, err := sel.NextPredictive(context.Background(), "camp", caller)
				if errors.Is(err, ErrNoRecipient) {
					return
				}
				if err != nil {
					t.Errorf("claim error: %v", err)
					return
				}
				results <- claim{caller: caller, item: it.ID}
			}
		}("caller-" + string(rune('0'+c)))
	}
	wg.Wait()
	close(results)

	claimed := make(map[string]string)
	for c := range results {
		if prev, ok := claimed[c.item]; ok {
			t.Fatalf("item %s claimed by both %s and %s", c.item, prev, c.caller)
		}
		claimed[c.item] = c.caller
	}
	if len(claimed) != contacts {
		t.Fatalf("expected all %d contacts claimed exactly once, got %d", contacts, len(claimed))
	}
}
