package attempts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"outreach-platform/pkg/utils"
)

// PostgresRepository persists attempts in the outreach_attempt table.
//
// Assumed schema:
//   - outreach_attempt (id, workspace_id, campaign_id, contact_id, caller_id,
//     queue_id, disposition, result JSONB, created_at, answered_at, ended_at)
//
// Rows are never deleted; the disposition column plus the set-once timestamp
// updates implement the monotonic rule at the data layer as well.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const attemptColumns = `id, workspace_id, campaign_id, contact_id, caller_id, queue_id, disposition, result, created_at, answered_at, ended_at`

func (r *PostgresRepository) Get(ctx context.Context, workspaceID, attemptID string) (OutreachAttempt, error) {
	const q = `
SELECT ` + attemptColumns + `
FROM outreach_attempt
WHERE workspace_id = $1 AND id = $2
`
	return scanAttempt(r.db.QueryRowContext(ctx, q, workspaceID, attemptID))
}

func (r *PostgresRepository) Current(ctx context.Context, workspaceID, campaignID, contactID, callerID string) (OutreachAttempt, bool, error) {
	const q = `
SELECT ` + attemptColumns + `
FROM outreach_attempt
WHERE workspace_id = $1 AND campaign_id = $2 AND contact_id = $3 AND caller_id = $4
  AND ended_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`
	a, err := scanAttempt(r.db.QueryRowContext(ctx, q, workspaceID, campaignID, contactID, callerID))
	if errors.Is(err, ErrNotFound) {
		return OutreachAttempt{}, false, nil
	}
	if err != nil {
		return OutreachAttempt{}, false, err
	}
	return a, true, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, a OutreachAttempt) error {
	const q = `
INSERT INTO outreach_attempt (
  id, workspace_id, campaign_id, contact_id, caller_id, queue_id, disposition, result, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,COALESCE($8::jsonb,'{}'::jsonb),$9
)
`
	var result []byte
	if a.Result != nil {
		b, err := json.Marshal(a.Result)
		if err != nil {
			return err
		}
		result = b
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.WorkspaceID,
		a.CampaignID,
		a.ContactID,
		a.CallerID,
		nullString(a.QueueID),
		string(a.Disposition),
		nullBytes(result),
		a.CreatedAt,
	)
	return err
}

// Transition locks the row, re-checks the monotonic rule against the stored
// disposition, and updates inside one transaction. Two webhooks racing into a
// terminal state serialize on the row lock; the loser is discarded, never
// overwrites.
func (r *PostgresRepository) Transition(ctx context.Context, workspaceID, attemptID string, d Disposition, answeredAt, endedAt *time.Time) (bool, error) {
	var applied bool
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const lock = `
SELECT disposition
FROM outreach_attempt
WHERE workspace_id = $1 AND id = $2
FOR UPDATE
`
		var stored string
		if err := tx.QueryRowContext(ctx, lock, workspaceID, attemptID).Scan(&stored); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !CanTransition(Disposition(stored), d) {
			return nil
		}

		// COALESCE keeps answered_at/ended_at set-once even under concurrent
		// webhook retries.
		const q = `
UPDATE outreach_attempt
SET disposition = $3,
    answered_at = COALESCE(answered_at, $4),
    ended_at    = COALESCE(ended_at, $5)
WHERE workspace_id = $1 AND id = $2
`
		if _, err := tx.ExecContext(ctx, q, workspaceID, attemptID, string(d), answeredAt, endedAt); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *PostgresRepository) MergeResult(ctx context.Context, workspaceID, attemptID, pageID, blockTitle string, value any) error {
	entry, err := json.Marshal(map[string]any{blockTitle: value})
	if err != nil {
		return err
	}
	// Merge one page's answers without clobbering others: the page object is
	// read back, unioned with the new entry, and written in one statement.
	const q = `
UPDATE outreach_attempt
SET result = jsonb_set(
      COALESCE(result, '{}'::jsonb),
      ARRAY[$3],
      COALESCE(result -> $3, '{}'::jsonb) || $4::jsonb,
      true
    )
WHERE workspace_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, workspaceID, attemptID, pageID, string(entry))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAttempt(row *sql.Row) (OutreachAttempt, error) {
	var a OutreachAttempt
	var queueID sql.NullString
	var result []byte
	var disposition string
	if err := row.Scan(
		&a.ID,
		&a.WorkspaceID,
		&a.CampaignID,
		&a.ContactID,
		&a.CallerID,
		&queueID,
		&disposition,
		&result,
		&a.CreatedAt,
		&a.AnsweredAt,
		&a.EndedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OutreachAttempt{}, ErrNotFound
		}
		return OutreachAttempt{}, err
	}
	a.QueueID = queueID.String
	a.Disposition = Disposition(disposition)
	if len(result) > 0 {
		if err := json.Unmarshal(result, &a.Result); err != nil {
			return OutreachAttempt{}, err
		}
	}
	return a, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
