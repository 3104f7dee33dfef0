package calls

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/billing"
	"outreach-platform/internal/campaigns"
)

// StatusEvent is a normalized-for-transport provider status callback. Empty
// fields mean the provider did not report them.
type StatusEvent struct {
	Sid         string
	WorkspaceID string
	CampaignID  string
	AttemptID   string
	QueueID     string
	ContactID   string
	CallerID    string

	From   string
	To     string
	Status string

	AnsweredBy string
	Duration   int

	RecordingURL      string
	RecordingDuration int

	OccurredAt time.Time
}

// CallRepository is the slice of call persistence the reconciler uses.
type CallRepository interface {
	UpsertBySid(ctx context.Context, u Upsert) (Call, error)
	MarkBilled(ctx context.Context, sid string) (bool, error)
	MarkConcluded(ctx context.Context, sid string) (bool, error)
}

// AttemptSink forwards normalized dispositions to the attempt tracker.
type AttemptSink interface {
	Apply(ctx context.Context, workspaceID, attemptID string, d attempts.Disposition) (bool, error)
}

// QueueCanceler cancels still-queued items when the campaign has closed.
type QueueCanceler interface {
	CancelPending(ctx context.Context, campaignID string) (int64, error)
}

// CampaignReader loads campaign settings (end date, voicemail audio).
type CampaignReader interface {
	Get(ctx context.Context, campaignID string) (campaigns.Campaign, error)
}

// Debiter emits ledger debits to the billing collaborator.
type Debiter interface {
	Debit(ctx context.Context, req billing.DebitRequest) error
}

// CallController issues live-call instructions back to the provider.
type CallController interface {
	// RedirectToVoicemail moves a machine-answered call into the voicemail
	// branch (stored audio when set, synthetic message otherwise).
	RedirectToVoicemail(ctx context.Context, sid, audioURL string) error
}

// ConclusionNotifier is poked after every terminal event so automated
// campaigns request their next contact without an idle gap.
type ConclusionNotifier interface {
	OnAttemptConcluded(ctx context.Context, campaignID string)
}

// Reconciler maps asynchronous provider status events onto call rows and
// propagates disposition changes. Every handler is idempotent: events may be
// retried or arrive out of order, and the sid-keyed upsert plus the attempt
// tracker's monotonic rule absorb both.
type Reconciler struct {
	Calls     CallRepository
	Attempts  AttemptSink
	Queue     QueueCanceler
	Campaigns CampaignReader
	Billing   Debiter
	Control   CallController
	Next      ConclusionNotifier

	Now func() time.Time
	Log *slog.Logger
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// HandleCallStatus processes one voice status callback.
func (r *Reconciler) HandleCallStatus(ctx context.Context, ev StatusEvent) error {
	if ev.Sid == "" {
		return fmt.Errorf("calls: sid required")
	}

	status, ok := NormalizeCallStatus(ev.Status)
	if !ok {
		// Unsupported statuses are reported, not applied.
		r.log().Warn("unknown provider call status", "sid", ev.Sid, "status", ev.Status)
		return nil
	}

	machine := AnsweredByMachine(ev.AnsweredBy)

	call, err := r.Calls.UpsertBySid(ctx, r.upsertFor(ev, status))
	if err != nil {
		return err
	}

	// Answering-machine pickup mid-setup: divert the live call into the
	// voicemail branch instead of connecting it to a caller.
	if machine && !status.Terminal() {
		r.redirectVoicemail(ctx, call)
	}

	if call.AttemptID != "" {
		disposition := status.Disposition()
		if machine {
			disposition = attempts.DispositionVoicemail
		}
		applied, err := r.Attempts.Apply(ctx, call.WorkspaceID, call.AttemptID, disposition)
		if err != nil {
			return err
		}
		if !applied {
			// Late or duplicate event; logged, not an error.
			r.log().Debug("disposition update discarded", "sid", ev.Sid, "disposition", disposition)
		}
	}

	if status.Terminal() {
		r.closeCampaignIfEnded(ctx, call)
		if status.Billable() {
			r.debitOnce(ctx, call.Sid, call.WorkspaceID, billing.CallUnits(call.DurationSeconds),
				fmt.Sprintf("call %s campaign %s", call.Sid, call.CampaignID))
		}
		r.notifyConcluded(ctx, call)
	}
	return nil
}

// HandleMessageStatus processes one message status callback. Messages ride
// the same call table keyed by message sid.
func (r *Reconciler) HandleMessageStatus(ctx context.Context, ev StatusEvent) error {
	if ev.Sid == "" {
		return fmt.Errorf("calls: sid required")
	}

	status, ok := NormalizeMessageStatus(ev.Status)
	if !ok {
		r.log().Warn("unknown provider message status", "sid", ev.Sid, "status", ev.Status)
		return nil
	}

	// Message rows reuse the voice vocabulary where it overlaps and only
	// carry timestamps; the attempt disposition is the source of truth.
	u := r.upsertFor(ev, "")
	if status.Terminal() {
		now := r.now()
		u.EndedAt = &now
	}
	call, err := r.Calls.UpsertBySid(ctx, u)
	if err != nil {
		return err
	}

	if call.AttemptID != "" {
		applied, err := r.Attempts.Apply(ctx, call.WorkspaceID, call.AttemptID, status.Disposition())
		if err != nil {
			return err
		}
		if !applied {
			r.log().Debug("message disposition discarded", "sid", ev.Sid, "status", status)
		}
	}

	if status.Terminal() {
		r.closeCampaignIfEnded(ctx, call)
		if status.Billable() {
			r.debitOnce(ctx, call.Sid, call.WorkspaceID, billing.MessageUnits(),
				fmt.Sprintf("message %s campaign %s", call.Sid, call.CampaignID))
		}
		r.notifyConcluded(ctx, call)
	}
	return nil
}

// upsertFor builds an upsert carrying only the fields the event reported.
func (r *Reconciler) upsertFor(ev StatusEvent, status CallStatus) Upsert {
	u := Upsert{Sid: ev.Sid, WorkspaceID: ev.WorkspaceID}
	if status != "" {
		u.Status = &status
	}
	if ev.CampaignID != "" {
		u.CampaignID = &ev.CampaignID
	}
	if ev.AttemptID != "" {
		u.AttemptID = &ev.AttemptID
	}
	if ev.QueueID != "" {
		u.QueueID = &ev.QueueID
	}
	if ev.ContactID != "" {
		u.ContactID = &ev.ContactID
	}
	if ev.CallerID != "" {
		u.CallerID = &ev.CallerID
	}
	if ev.From != "" {
		u.From = &ev.From
	}
	if ev.To != "" {
		u.To = &ev.To
	}
	if ev.AnsweredBy != "" {
		u.AnsweredBy = &ev.AnsweredBy
	}
	if ev.Duration > 0 {
		u.Duration = &ev.Duration
	}
	if ev.RecordingURL != "" {
		u.RecordingURL = &ev.RecordingURL
	}
	if ev.RecordingDuration > 0 {
		u.RecordingDuration = &ev.RecordingDuration
	}

	now := r.now()
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	switch status {
	case CallStatusInProgress:
		u.StartedAt = &occurred
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		u.EndedAt = &occurred
	}
	return u
}

func (r *Reconciler) redirectVoicemail(ctx context.Context, call Call) {
	if r.Control == nil {
		return
	}
	audioURL := ""
	if r.Campaigns != nil && call.CampaignID != "" {
		if c, err := r.Campaigns.Get(ctx, call.CampaignID); err == nil {
			audioURL = c.VoicemailAudioURL
		}
	}
	if err := r.Control.RedirectToVoicemail(ctx, call.Sid, audioURL); err != nil {
		// The provider may have already moved on; the next status callback
		// settles the disposition either way.
		r.log().Warn("voicemail redirect failed", "sid", call.Sid, "err", err)
	}
}

// closeCampaignIfEnded cancels remaining queued items once a terminal event
// lands past the campaign end date, so nothing dials or bills after close.
func (r *Reconciler) closeCampaignIfEnded(ctx context.Context, call Call) {
	if r.Campaigns == nil || r.Queue == nil || call.CampaignID == "" {
		return
	}
	c, err := r.Campaigns.Get(ctx, call.CampaignID)
	if err != nil {
		r.log().Warn("campaign lookup failed", "campaign", call.CampaignID, "err", err)
		return
	}
	if !c.Ended(r.now()) {
		return
	}
	n, err := r.Queue.CancelPending(ctx, call.CampaignID)
	if err != nil {
		r.log().Error("queue cancellation failed", "campaign", call.CampaignID, "err", err)
		return
	}
	if n > 0 {
		r.log().Info("campaign past end date, queue cancelled", "campaign", call.CampaignID, "items", n)
	}
}

// notifyConcluded pokes the conclusion hook, guarded by the concluded flag:
// only the event that first moved the call into a terminal status fires it.
// A retried terminal webhook must not release the campaign's dial slot a
// second time.
func (r *Reconciler) notifyConcluded(ctx context.Context, call Call) {
	if r.Next == nil || call.CampaignID == "" {
		return
	}
	first, err := r.Calls.MarkConcluded(ctx, call.Sid)
	if err != nil {
		r.log().Error("concluded flag update failed", "sid", call.Sid, "err", err)
		return
	}
	if !first {
		return
	}
	r.Next.OnAttemptConcluded(ctx, call.CampaignID)
}

// debitOnce emits the ledger debit guarded by the billed flag. Billing is
// fire-and-forget: failures are logged, never bubbled into webhook handling.
func (r *Reconciler) debitOnce(ctx context.Context, sid, workspaceID string, units int64, note string) {
	if r.Billing == nil {
		return
	}
	first, err := r.Calls.MarkBilled(ctx, sid)
	if err != nil {
		r.log().Error("billed flag update failed", "sid", sid, "err", err)
		return
	}
	if !first {
		return
	}
	if err := r.Billing.Debit(ctx, billing.DebitRequest{Workspace: workspaceID, Amount: units, Note: note}); err != nil {
		r.log().Error("ledger debit failed", "sid", sid, "units", units, "err", err)
	}
}
