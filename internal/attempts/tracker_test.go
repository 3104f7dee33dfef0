package attempts

import (
	"context"
	"testing"
	"time"
)

type memRepo struct {
	rows map[string]*OutreachAttempt
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*OutreachAttempt)}
}

func (m *memRepo) Get(ctx context.Context, workspaceID, attemptID string) (OutreachAttempt, error) {
	a, ok := m.rows[attemptID]
	if !ok || a.WorkspaceID != workspaceID {
		return OutreachAttempt{}, ErrNotFound
	}
	return *a, nil
}

func (m *memRepo) Current(ctx context.Context, workspaceID, campaignID, contactID, callerID string) (OutreachAttempt, bool, error) {
	for _, a := range m.rows {
		if a.WorkspaceID == workspaceID && a.CampaignID == campaignID && a.ContactID == contactID && a.CallerID == callerID && a.EndedAt == nil {
			return *a, true, nil
		}
	}
	return OutreachAttempt{}, false, nil
}

func (m *memRepo) Insert(ctx context.Context, a OutreachAttempt) error {
	cp := a
	m.rows[a.ID] = &cp
	return nil
}

func (m *memRepo) Transition(ctx context.Context, workspaceID, attemptID string, d Disposition, answeredAt, endedAt *time.Time) (bool, error) {
	a, ok := m.rows[attemptID]
	if !ok {
		return false, ErrNotFound
	}
	if !CanTransition(a.Disposition, d) {
		return false, nil
	}
	a.Disposition = d
	if a.AnsweredAt == nil && answeredAt != nil {
		a.AnsweredAt = answeredAt
	}
	if a.EndedAt == nil && endedAt != nil {
		a.EndedAt = endedAt
	}
	return true, nil
}

func (m *memRepo) MergeResult(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error {
	a, ok := m.rows[attemptID]
	if !ok {
		return ErrNotFound
	}
	if a.Result == nil {
		a.Result = make(map[string]map[string]any)
	}
	if a.Result[pageID] == nil {
		a.Result[pageID] = make(map[string]any)
	}
	a.Result[pageID][blockTitle] = value
	return nil
}

func newTestTracker(repo *memRepo, now time.Time) *Tracker {
	t := NewTracker(repo)
	t.clock = func() time.Time { return now }
	return t
}

func TestBeginCreatesInitiatedAttempt(t *testing.T) {
	repo := newMemRepo()
	tr := newTestTracker(repo, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	a, err := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "q1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.Disposition != DispositionInitiated {
		t.Fatalf("expected initiated, got %q", a.Disposition)
	}

	// Begin while in flight returns the same attempt.
	b, err := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "q1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if b.ID != a.ID {
		t.Fatalf("expected current attempt reuse, got new id")
	}
}

func TestApplyMonotonicTerminal(t *testing.T) {
	repo := newMemRepo()
	tr := newTestTracker(repo, time.Now().UTC())

	a, _ := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "")

	applied, err := tr.Apply(context.Background(), "w", a.ID, DispositionRinging)
	if err != nil || !applied {
		t.Fatalf("expected ringing applied, got applied=%v err=%v", applied, err)
	}
	applied, err = tr.Apply(context.Background(), "w", a.ID, DispositionCompleted)
	if err != nil || !applied {
		t.Fatalf("expected completed applied, got applied=%v err=%v", applied, err)
	}

	// Late/duplicate terminal is discarded, not an error.
	applied, err = tr.Apply(context.Background(), "w", a.ID, DispositionNoAnswer)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if applied {
		t.Fatalf("terminal must not overwrite terminal")
	}
	got, _ := tr.Get(context.Background(), "w", a.ID)
	if got.Disposition != DispositionCompleted {
		t.Fatalf("expected completed preserved, got %q", got.Disposition)
	}
}

func TestApplyRejectsUnknownDisposition(t *testing.T) {
	repo := newMemRepo()
	tr := newTestTracker(repo, time.Now().UTC())
	a, _ := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "")

	applied, err := tr.Apply(context.Background(), "w", a.ID, Disposition("weird"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if applied {
		t.Fatalf("unknown disposition must not apply")
	}
}

func TestAnsweredAtAndEndedAtSetOnce(t *testing.T) {
	repo := newMemRepo()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(repo, first)

	a, _ := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "")
	if _, err := tr.Apply(context.Background(), "w", a.ID, DispositionInProgress); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got, _ := tr.Get(context.Background(), "w", a.ID)
	if got.AnsweredAt == nil || !got.AnsweredAt.Equal(first) {
		t.Fatalf("expected answered_at %v, got %v", first, got.AnsweredAt)
	}

	// A later in-progress (provider retry) must not move answered_at.
	tr.clock = func() time.Time { return first.Add(time.Minute) }
	if _, err := tr.Apply(context.Background(), "w", a.ID, DispositionInProgress); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, _ = tr.Get(context.Background(), "w", a.ID)
	if !got.AnsweredAt.Equal(first) {
		t.Fatalf("answered_at moved to %v", got.AnsweredAt)
	}

	if _, err := tr.Apply(context.Background(), "w", a.ID, DispositionCompleted); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, _ = tr.Get(context.Background(), "w", a.ID)
	if got.EndedAt == nil || !got.EndedAt.Equal(first.Add(time.Minute)) {
		t.Fatalf("expected ended_at set once, got %v", got.EndedAt)
	}
}

func TestRecordAnswerMergesWithoutClobbering(t *testing.T) {
	repo := newMemRepo()
	tr := newTestTracker(repo, time.Now().UTC())
	a, _ := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "")

	if err := tr.RecordAnswer(context.Background(), "w", a.ID, "p1", "Greeting", "yes"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := tr.RecordAnswer(context.Background(), "w", a.ID, "p2", "Survey", "3"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := tr.RecordAnswer(context.Background(), "w", a.ID, "p1", "Consent", "1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	got, _ := tr.Get(context.Background(), "w", a.ID)
	if got.Result["p1"]["Greeting"] != "yes" || got.Result["p1"]["Consent"] != "1" {
		t.Fatalf("p1 answers clobbered: %v", got.Result)
	}
	if got.Result["p2"]["Survey"] != "3" {
		t.Fatalf("p2 answer missing: %v", got.Result)
	}
}

func TestMessageTrackTransitions(t *testing.T) {
	repo := newMemRepo()
	tr := newTestTracker(repo, time.Now().UTC())
	a, _ := tr.Begin(context.Background(), "w", "camp", "contact", "caller", "")

	for _, d := range []Disposition{DispositionQueued, DispositionSending, DispositionSent, DispositionDelivered} {
		applied, err := tr.Apply(context.Background(), "w", a.ID, d)
		if err != nil || !applied {
			t.Fatalf("expected %q applied, got applied=%v err=%v", d, applied, err)
		}
	}
	applied, _ := tr.Apply(context.Background(), "w", a.ID, DispositionUndelivered)
	if applied {
		t.Fatalf("delivered is terminal; undelivered must be discarded")
	}
}
