package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: not found")

// Upsert carries only the fields a webhook actually reported; nil pointers
// are omitted from the update rather than null-overwriting stored values.
type Upsert struct {
	Sid         string
	WorkspaceID string
	CampaignID  *string
	AttemptID   *string
	QueueID     *string
	ContactID   *string
	CallerID    *string
	From        *string
	To          *string
	Status      *CallStatus
	AnsweredBy  *string
	Duration    *int

	RecordingURL      *string
	RecordingDuration *int

	IsLast    *bool
	StartedAt *time.Time
	EndedAt   *time.Time
}

// PostgresRepository persists call rows keyed by provider sid.
//
// Assumed schema:
//   - call (sid PK, workspace_id, campaign_id, attempt_id, queue_id,
//     contact_id, caller_id, from_number, to_number, status, answered_by,
//     duration, recording_url, recording_duration, is_last, billed,
//     concluded, created_at, updated_at, started_at, ended_at)
type PostgresRepository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, clock: time.Now}
}

// UpsertBySid inserts or updates the row for a sid. COALESCE keeps stored
// values when the event omitted a field, giving webhook retries and
// reordering upsert semantics.
func (r *PostgresRepository) UpsertBySid(ctx context.Context, u Upsert) (Call, error) {
	now := r.clock().UTC()
	const q = `
INSERT INTO call (
  sid, workspace_id, campaign_id, attempt_id, queue_id, contact_id, caller_id,
  from_number, to_number, status, answered_by, duration,
  recording_url, recording_duration, is_last, billed, concluded,
  created_at, updated_at, started_at, ended_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,COALESCE($8,''),COALESCE($9,''),COALESCE($10,'queued'),$11,COALESCE($12,0),
  $13,COALESCE($14,0),COALESCE($15,false),false,false,
  $16,$16,$17,$18
)
ON CONFLICT (sid) DO UPDATE SET
  campaign_id        = COALESCE(EXCLUDED.campaign_id, call.campaign_id),
  attempt_id         = COALESCE(EXCLUDED.attempt_id, call.attempt_id),
  queue_id           = COALESCE(EXCLUDED.queue_id, call.queue_id),
  contact_id         = COALESCE(EXCLUDED.contact_id, call.contact_id),
  caller_id          = COALESCE(EXCLUDED.caller_id, call.caller_id),
  from_number        = COALESCE(EXCLUDED.from_number, call.from_number),
  to_number          = COALESCE(EXCLUDED.to_number, call.to_number),
  answered_by        = COALESCE(EXCLUDED.answered_by, call.answered_by),
  duration           = GREATEST(EXCLUDED.duration, call.duration),
  recording_url      = COALESCE(EXCLUDED.recording_url, call.recording_url),
  recording_duration = GREATEST(EXCLUDED.recording_duration, call.recording_duration),
  is_last            = call.is_last OR EXCLUDED.is_last,
  started_at         = COALESCE(call.started_at, EXCLUDED.started_at),
  ended_at           = COALESCE(call.ended_at, EXCLUDED.ended_at),
  -- terminal rows are immutable except recording/billing fields
  status             = CASE WHEN call.status IN ('completed','failed','no-answer','busy','canceled')
                            THEN call.status
                            ELSE COALESCE($10, call.status) END,
  updated_at         = EXCLUDED.updated_at
RETURNING ` + callColumns + `
`
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	return scanCall(r.db.QueryRowContext(ctx, q,
		u.Sid,
		u.WorkspaceID,
		u.CampaignID,
		u.AttemptID,
		u.QueueID,
		u.ContactID,
		u.CallerID,
		u.From,
		u.To,
		status,
		u.AnsweredBy,
		u.Duration,
		u.RecordingURL,
		u.RecordingDuration,
		u.IsLast,
		now,
		u.StartedAt,
		u.EndedAt,
	))
}

const callColumns = `sid, workspace_id, campaign_id, attempt_id, queue_id, contact_id, caller_id,
from_number, to_number, status, answered_by, duration,
recording_url, recording_duration, is_last, billed, concluded,
created_at, updated_at, started_at, ended_at`

func (r *PostgresRepository) GetBySid(ctx context.Context, sid string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM call
WHERE sid = $1
`
	return scanCall(r.db.QueryRowContext(ctx, q, sid))
}

// MarkBilled flips the billed flag exactly once; the boolean result is the
// one-row-per-event uniqueness guard the ledger debit relies on.
func (r *PostgresRepository) MarkBilled(ctx context.Context, sid string) (bool, error) {
	const q = `
UPDATE call
SET billed = true, updated_at = $2
WHERE sid = $1 AND billed = false
`
	res, err := r.db.ExecContext(ctx, q, sid, r.clock().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkConcluded flips the concluded flag exactly once. Only the event that
// first terminated the call may fire the conclusion hook; webhook retries of
// the same terminal status find the flag already set.
func (r *PostgresRepository) MarkConcluded(ctx context.Context, sid string) (bool, error) {
	const q = `
UPDATE call
SET concluded = true, updated_at = $2
WHERE sid = $1 AND concluded = false
`
	res, err := r.db.ExecContext(ctx, q, sid, r.clock().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanCall(row *sql.Row) (Call, error) {
	var c Call
	var campaignID, attemptID, queueID, contactID, callerID sql.NullString
	var answeredBy, recordingURL sql.NullString
	var status string
	if err := row.Scan(
		&c.Sid,
		&c.WorkspaceID,
		&campaignID,
		&attemptID,
		&queueID,
		&contactID,
		&callerID,
		&c.From,
		&c.To,
		&status,
		&answeredBy,
		&c.DurationSeconds,
		&recordingURL,
		&c.RecordingDurationSeconds,
		&c.IsLast,
		&c.Billed,
		&c.Concluded,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.StartedAt,
		&c.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.CampaignID = campaignID.String
	c.AttemptID = attemptID.String
	c.QueueID = queueID.String
	c.ContactID = contactID.String
	c.CallerID = callerID.String
	c.Status = CallStatus(status)
	c.AnsweredBy = answeredBy.String
	c.RecordingURL = recordingURL.String
	return c, nil
}
