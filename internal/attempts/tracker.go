package attempts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("attempts: not found")
	ErrInvalidArgument = errors.New("attempts: invalid argument")
)

// Repository abstracts attempt persistence. Implementations must treat the
// table as append-only history: no deletes.
type Repository interface {
	Get(ctx context.Context, workspaceID, attemptID string) (OutreachAttempt, error)
	// Current returns the in-flight attempt for an engagement, if any.
	Current(ctx context.Context, workspaceID, campaignID, contactID, callerID string) (OutreachAttempt, bool, error)
	Insert(ctx context.Context, a OutreachAttempt) error
	// Transition applies a disposition change atomically: the stored
	// disposition is read under lock, checked against CanTransition, and
	// updated in the same transaction. Returns false when the monotonic rule
	// discards the update. answeredAt/endedAt are applied with set-once
	// semantics (COALESCE against the stored value).
	Transition(ctx context.Context, workspaceID, attemptID string, d Disposition, answeredAt, endedAt *time.Time) (bool, error)
	// MergeResult merges {pageID: {blockTitle: value}} into the result
	// document without clobbering other pages.
	MergeResult(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error
}

// Tracker owns the disposition state machine for outreach attempts.
type Tracker struct {
	repo  Repository
	clock func() time.Time
}

func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo, clock: time.Now}
}

// Begin returns the current attempt for the engagement, creating one with
// disposition "initiated" when none is in flight. Creating rather than
// reusing after a terminal attempt is what keeps history append-only.
func (t *Tracker) Begin(ctx context.Context, workspaceID, campaignID, contactID, callerID, queueID string) (OutreachAttempt, error) {
	if workspaceID == "" || campaignID == "" || contactID == "" {
		return OutreachAttempt{}, ErrInvalidArgument
	}

	if cur, ok, err := t.repo.Current(ctx, workspaceID, campaignID, contactID, callerID); err != nil {
		return OutreachAttempt{}, err
	} else if ok {
		return cur, nil
	}

	a := OutreachAttempt{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		CampaignID:  campaignID,
		ContactID:   contactID,
		CallerID:    callerID,
		QueueID:     queueID,
		Disposition: DispositionInitiated,
		CreatedAt:   t.clock().UTC(),
	}
	if err := t.repo.Insert(ctx, a); err != nil {
		return OutreachAttempt{}, err
	}
	return a, nil
}

// Apply transitions an attempt's disposition. It returns false (with no
// error) when the update is discarded by the monotonic rule, so late or
// duplicate terminal events are logged by callers rather than failed. The
// guard itself runs in the repository transaction; two concurrent webhooks
// cannot both win the race into a terminal state.
func (t *Tracker) Apply(ctx context.Context, workspaceID, attemptID string, d Disposition) (bool, error) {
	if attemptID == "" {
		return false, ErrInvalidArgument
	}

	now := t.clock().UTC()
	var answeredAt, endedAt *time.Time
	if d.Answered() {
		answeredAt = &now
	}
	if d.Terminal() {
		endedAt = &now
	}

	return t.repo.Transition(ctx, workspaceID, attemptID, d, answeredAt, endedAt)
}

// RecordAnswer merges one IVR block answer into the attempt result.
func (t *Tracker) RecordAnswer(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error {
	if attemptID == "" || pageID == "" || blockTitle == "" {
		return ErrInvalidArgument
	}
	return t.repo.MergeResult(ctx, workspaceID, attemptID, pageID, blockTitle, value)
}

// Get fetches an attempt row.
func (t *Tracker) Get(ctx context.Context, workspaceID, attemptID string) (OutreachAttempt, error) {
	if attemptID == "" {
		return OutreachAttempt{}, ErrInvalidArgument
	}
	return t.repo.Get(ctx, workspaceID, attemptID)
}
