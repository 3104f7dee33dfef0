package queue

import (
	"sort"
	"sync"
)

// DialMode selects how removal rules treat foreign checkouts.
type DialMode string

const (
	DialModePower      DialMode = "power"
	DialModePredictive DialMode = "predictive"
)

// Store holds the materialized, ordered queue for one (campaign, caller)
// session. All mutation is replace-whole-slice on event: readers get
// immutable snapshots and the only lock is the short swap.
type Store struct {
	campaignID string
	callerID   string
	mode       DialMode

	mu         sync.RWMutex
	items      []Item
	households map[string][]Item
}

func NewStore(campaignID, callerID string, mode DialMode) *Store {
	return &Store{
		campaignID: campaignID,
		callerID:   callerID,
		mode:       mode,
		households: map[string][]Item{},
	}
}

// CampaignID returns the campaign this store mirrors.
func (s *Store) CampaignID() string { return s.campaignID }

// CallerID returns the session owner.
func (s *Store) CallerID() string { return s.callerID }

// Apply merges one change event into the queue:
//   - "dequeued" removes in any mode; in power mode any status that is
//     neither "queued" nor this caller's id also removes (another caller
//     checked it out, or it concluded);
//   - "queued" or this caller's id upserts, then re-sorts by
//     (attempts asc, queue_order asc) keeping insertion order for ties;
//   - a contact already present is never duplicated.
//
// The household index is recomputed in full from the resulting list.
func (s *Store) Apply(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Item, 0, len(s.items)+1)

	if s.removes(ev.Status) {
		for _, it := range s.items {
			if it.ID != ev.ID {
				next = append(next, it)
			}
		}
	} else if ev.Status == StatusQueued || ev.Status == s.callerID {
		replaced := false
		duplicate := false
		for _, it := range s.items {
			switch {
			case it.ID == ev.ID:
				next = append(next, ev.item(s.campaignID))
				replaced = true
			case it.ContactID == ev.ContactID:
				// Same contact under a different queue row: keep the
				// existing entry, drop the incoming one.
				next = append(next, it)
				duplicate = true
			default:
				next = append(next, it)
			}
		}
		if !replaced && !duplicate {
			next = append(next, ev.item(s.campaignID))
		}
		sort.SliceStable(next, func(i, j int) bool {
			if next[i].Attempts != next[j].Attempts {
				return next[i].Attempts < next[j].Attempts
			}
			return next[i].QueueOrder < next[j].QueueOrder
		})
	} else {
		// Status owned by another caller in predictive mode: row is simply
		// no longer ours, drop it if present.
		for _, it := range s.items {
			if it.ID != ev.ID {
				next = append(next, it)
			}
		}
	}

	s.items = next
	s.households = groupHouseholds(next)
}

func (s *Store) removes(status string) bool {
	if status == StatusDequeued {
		return true
	}
	if s.mode != DialModePredictive {
		return status != StatusQueued && status != s.callerID
	}
	return false
}

// Replace swaps the whole queue, e.g. from an initial load.
func (s *Store) Replace(items []Item) {
	cp := make([]Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ContactID]; dup {
			continue
		}
		seen[it.ContactID] = struct{}{}
		cp = append(cp, it)
	}
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].Attempts != cp[j].Attempts {
			return cp[i].Attempts < cp[j].Attempts
		}
		return cp[i].QueueOrder < cp[j].QueueOrder
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cp
	s.households = groupHouseholds(cp)
}

// Snapshot returns the current ordered queue. The returned slice is a copy.
func (s *Store) Snapshot() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Head returns the highest-priority item.
func (s *Store) Head() (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return Item{}, false
	}
	return s.items[0], true
}

// Len returns the number of queued items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Household returns the ordered household-mates sharing the given item's
// address, excluding the item itself. Addressless items never group.
func (s *Store) Household(contactID string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var addr string
	for _, it := range s.items {
		if it.ContactID == contactID {
			addr = NormalizeAddress(it.Address)
			break
		}
	}
	if addr == "" {
		return nil
	}

	var out []Item
	for _, it := range s.households[addr] {
		if it.ContactID != contactID {
			out = append(out, it)
		}
	}
	return out
}

// Households returns the full derived grouping, keyed by normalized address.
func (s *Store) Households() map[string][]Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Item, len(s.households))
	for k, v := range s.households {
		cp := make([]Item, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func groupHouseholds(items []Item) map[string][]Item {
	groups := make(map[string][]Item)
	for _, it := range items {
		key := NormalizeAddress(it.Address)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], it)
	}
	return groups
}
