package calls

import (
	"context"
	"testing"
	"time"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/campaigns"
)

// memCalls mirrors the repository's upsert semantics in memory: missing
// fields keep stored values, terminal status is sticky.
type memCalls struct {
	rows map[string]*Call
}

func newMemCalls() *memCalls { return &memCalls{rows: make(map[string]*Call)} }

func (m *memCalls) UpsertBySid(ctx context.Context, u Upsert) (Call, error) {
	c, ok := m.rows[u.Sid]
	if !ok {
		c = &Call{Sid: u.Sid, WorkspaceID: u.WorkspaceID, Status: CallStatusQueued}
		m.rows[u.Sid] = c
	}
	if u.CampaignID != nil {
		c.CampaignID = *u.CampaignID
	}
	if u.AttemptID != nil {
		c.AttemptID = *u.AttemptID
	}
	if u.QueueID != nil {
		c.QueueID = *u.QueueID
	}
	if u.ContactID != nil {
		c.ContactID = *u.ContactID
	}
	if u.CallerID != nil {
		c.CallerID = *u.CallerID
	}
	if u.From != nil {
		c.From = *u.From
	}
	if u.To != nil {
		c.To = *u.To
	}
	if u.AnsweredBy != nil {
		c.AnsweredBy = *u.AnsweredBy
	}
	if u.Duration != nil && *u.Duration > c.DurationSeconds {
		c.DurationSeconds = *u.Duration
	}
	if u.RecordingURL != nil {
		c.RecordingURL = *u.RecordingURL
	}
	if u.Status != nil && !c.Status.Terminal() {
		c.Status = *u.Status
	}
	if u.StartedAt != nil && c.StartedAt == nil {
		c.StartedAt = u.StartedAt
	}
	if u.EndedAt != nil && c.EndedAt == nil {
		c.EndedAt = u.EndedAt
	}
	return *c, nil
}

func (m *memCalls) MarkBilled(ctx context.Context, sid string) (bool, error) {
	c, ok := m.rows[sid]
	if !ok || c.Billed {
		return false, nil
	}
	c.Billed = true
	return true, nil
}

func (m *memCalls) MarkConcluded(ctx context.Context, sid string) (bool, error) {
	c, ok := m.rows[sid]
	if !ok || c.Concluded {
		return false, nil
	}
	c.Concluded = true
	return true, nil
}

type memAttempts struct {
	dispositions map[string][]attempts.Disposition
	current      map[string]attempts.Disposition
}

func newMemAttempts() *memAttempts {
	return &memAttempts{
		dispositions: make(map[string][]attempts.Disposition),
		current:      make(map[string]attempts.Disposition),
	}
}

func (m *memAttempts) Apply(ctx context.Context, workspaceID, attemptID string, d attempts.Disposition) (bool, error) {
	if !attempts.CanTransition(m.current[attemptID], d) {
		return false, nil
	}
	m.current[attemptID] = d
	m.dispositions[attemptID] = append(m.dispositions[attemptID], d)
	return true, nil
}

type memQueueCancel struct{ cancelled []string }

func (m *memQueueCancel) CancelPending(ctx context.Context, campaignID string) (int64, error) {
	m.cancelled = append(m.cancelled, campaignID)
	return 3, nil
}

type memCampaigns struct{ c campaigns.Campaign }

func (m memCampaigns) Get(ctx context.Context, campaignID string) (campaigns.Campaign, error) {
	return m.c, nil
}

type memDebits struct{ reqs []billing.DebitRequest }

func (m *memDebits) Debit(ctx context.Context, req billing.DebitRequest) error {
	m.reqs = append(m.reqs, req)
	return nil
}

type memNotifier struct{ concluded []string }

func (m *memNotifier) OnAttemptConcluded(ctx context.Context, campaignID string) {
	m.concluded = append(m.concluded, campaignID)
}

type memControl struct{ redirects []string }

func (m *memControl) RedirectToVoicemail(ctx context.Context, sid, audioURL string) error {
	m.redirects = append(m.redirects, sid)
	return nil
}

func newTestReconciler(callRepo *memCalls, att *memAttempts, q *memQueueCancel, camp campaigns.Campaign, deb *memDebits, ctl *memControl, now time.Time) *Reconciler {
	return &Reconciler{
		Calls:     callRepo,
		Attempts:  att,
		Queue:     q,
		Campaigns: memCampaigns{c: camp},
		Billing:   deb,
		Control:   ctl,
		Now:       func() time.Time { return now },
	}
}

func activeCampaign() campaigns.Campaign {
	return campaigns.Campaign{ID: "camp", WorkspaceID: "w", Status: campaigns.StatusActive}
}

func TestHandleCallStatusUnknownStatusIgnored(t *testing.T) {
	repo := newMemCalls()
	r := newTestReconciler(repo, newMemAttempts(), &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())

	err := r.HandleCallStatus(context.Background(), StatusEvent{Sid: "CA1", WorkspaceID: "w", Status: "mysterious"})
	if err != nil {
		t.Fatalf("unknown status must be reported, not failed: %v", err)
	}
	if len(repo.rows) != 0 {
		t.Fatalf("unknown status must not be applied")
	}
}

func TestHandleCallStatusForwardsDisposition(t *testing.T) {
	repo := newMemCalls()
	att := newMemAttempts()
	r := newTestReconciler(repo, att, &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())

	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1", Status: "ringing"}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := att.current["a1"]; got != attempts.DispositionRinging {
		t.Fatalf("expected ringing forwarded, got %q", got)
	}
}

func TestHandleCallStatusBillsExactlyOnce(t *testing.T) {
	repo := newMemCalls()
	deb := &memDebits{}
	r := newTestReconciler(repo, newMemAttempts(), &memQueueCancel{}, activeCampaign(), deb, &memControl{}, time.Now())

	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1", Status: "completed", Duration: 125}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// Provider retry of the same terminal event.
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if len(deb.reqs) != 1 {
		t.Fatalf("expected exactly one debit, got %d", len(deb.reqs))
	}
	if deb.reqs[0].Amount != 3 {
		t.Fatalf("expected floor(125/60)+1 = 3 units, got %d", deb.reqs[0].Amount)
	}
	if deb.reqs[0].Workspace != "w" {
		t.Fatalf("debit must carry workspace, got %q", deb.reqs[0].Workspace)
	}
}

func TestConclusionNotifiedExactlyOnce(t *testing.T) {
	repo := newMemCalls()
	next := &memNotifier{}
	r := newTestReconciler(repo, newMemAttempts(), &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())
	r.Next = next

	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1", Status: "completed", Duration: 12}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// Provider retry of the identical terminal webhook must not release the
	// campaign's dial slot a second time.
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if len(next.concluded) != 1 {
		t.Fatalf("expected exactly one conclusion notification, got %d", len(next.concluded))
	}
	if next.concluded[0] != "camp" {
		t.Fatalf("notification carries wrong campaign: %q", next.concluded[0])
	}

	// A different terminal status for the same call is still the same
	// conclusion.
	late := ev
	late.Status = "failed"
	if err := r.HandleCallStatus(context.Background(), late); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(next.concluded) != 1 {
		t.Fatalf("late terminal re-fired conclusion: %d", len(next.concluded))
	}
}

func TestMessageConclusionNotifiedExactlyOnce(t *testing.T) {
	repo := newMemCalls()
	next := &memNotifier{}
	r := newTestReconciler(repo, newMemAttempts(), &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())
	r.Next = next

	ev := StatusEvent{Sid: "SM1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1", Status: "delivered"}
	if err := r.HandleMessageStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := r.HandleMessageStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(next.concluded) != 1 {
		t.Fatalf("expected exactly one conclusion notification, got %d", len(next.concluded))
	}
}

func TestHandleCallStatusWithoutNumbers(t *testing.T) {
	repo := newMemCalls()
	r := newTestReconciler(repo, newMemAttempts(), &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())

	// Status-only callbacks omit from/to; the row must still round-trip with
	// empty strings, never nulls.
	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", Status: "ringing"}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	c := repo.rows["CA1"]
	if c.From != "" || c.To != "" {
		t.Fatalf("expected empty numbers, got from=%q to=%q", c.From, c.To)
	}
	if c.Status != CallStatusRinging {
		t.Fatalf("expected ringing, got %q", c.Status)
	}
}

func TestHandleCallStatusLateTerminalDiscarded(t *testing.T) {
	repo := newMemCalls()
	att := newMemAttempts()
	r := newTestReconciler(repo, att, &memQueueCancel{}, activeCampaign(), &memDebits{}, &memControl{}, time.Now())

	base := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1"}
	completed := base
	completed.Status = "completed"
	noAnswer := base
	noAnswer.Status = "no-answer"

	if err := r.HandleCallStatus(context.Background(), completed); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := r.HandleCallStatus(context.Background(), noAnswer); err != nil {
		t.Fatalf("late terminal must not error: %v", err)
	}
	if got := att.current["a1"]; got != attempts.DispositionCompleted {
		t.Fatalf("late terminal overwrote disposition: %q", got)
	}
	if repo.rows["CA1"].Status != CallStatusCompleted {
		t.Fatalf("terminal call status overwritten: %q", repo.rows["CA1"].Status)
	}
}

func TestHandleCallStatusMachineAnswerRedirects(t *testing.T) {
	repo := newMemCalls()
	att := newMemAttempts()
	ctl := &memControl{}
	camp := activeCampaign()
	camp.VoicemailAudioURL = "https://cdn.example.com/vm.mp3"
	r := newTestReconciler(repo, att, &memQueueCancel{}, camp, &memDebits{}, ctl, time.Now())

	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1", Status: "in-progress", AnsweredBy: "machine_start"}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(ctl.redirects) != 1 || ctl.redirects[0] != "CA1" {
		t.Fatalf("expected voicemail redirect for CA1, got %v", ctl.redirects)
	}
	if got := att.current["a1"]; got != attempts.DispositionVoicemail {
		t.Fatalf("expected voicemail disposition, got %q", got)
	}
}

func TestTerminalAfterCampaignEndCancelsQueue(t *testing.T) {
	repo := newMemCalls()
	q := &memQueueCancel{}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ended := now.Add(-24 * time.Hour)
	camp := activeCampaign()
	camp.EndDate = &ended
	r := newTestReconciler(repo, newMemAttempts(), q, camp, &memDebits{}, &memControl{}, now)

	ev := StatusEvent{Sid: "CA1", WorkspaceID: "w", CampaignID: "camp", Status: "completed", Duration: 30}
	if err := r.HandleCallStatus(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != "camp" {
		t.Fatalf("expected pending queue cancellation, got %v", q.cancelled)
	}
}

func TestHandleMessageStatusTrack(t *testing.T) {
	repo := newMemCalls()
	att := newMemAttempts()
	deb := &memDebits{}
	r := newTestReconciler(repo, att, &memQueueCancel{}, activeCampaign(), deb, &memControl{}, time.Now())

	base := StatusEvent{Sid: "SM1", WorkspaceID: "w", CampaignID: "camp", AttemptID: "a1"}
	for _, s := range []string{"queued", "sent", "delivered"} {
		ev := base
		ev.Status = s
		if err := r.HandleMessageStatus(context.Background(), ev); err != nil {
			t.Fatalf("unexpected err on %s: %v", s, err)
		}
	}
	if got := att.current["a1"]; got != attempts.DispositionDelivered {
		t.Fatalf("expected delivered, got %q", got)
	}
	if len(deb.reqs) != 1 || deb.reqs[0].Amount != 1 {
		t.Fatalf("expected one one-unit message debit, got %v", deb.reqs)
	}
}

func TestNormalizeCallStatus(t *testing.T) {
	if s, ok := NormalizeCallStatus("in_progress"); !ok || s != CallStatusInProgress {
		t.Fatalf("underscore spelling must normalize, got %q ok=%v", s, ok)
	}
	if _, ok := NormalizeCallStatus("exploded"); ok {
		t.Fatalf("unknown status must not normalize")
	}
}
