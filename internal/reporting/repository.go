package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/calls"
	"outreach-platform/internal/queue"
)

// PostgresRepository reads reporting aggregates straight from the call,
// outreach_attempt, and campaign_queue tables.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListCalls(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error) {
	const q = `
SELECT sid, status, duration, recording_url, billed
FROM call
WHERE workspace_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR campaign_id = $4)
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		var c calls.Call
		var recording sql.NullString
		if err := rows.Scan(&c.Sid, &c.Status, &c.DurationSeconds, &recording, &c.Billed); err != nil {
			return nil, err
		}
		c.WorkspaceID = workspaceID
		c.RecordingURL = recording.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListAttempts(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]attempts.OutreachAttempt, error) {
	const q = `
SELECT id, contact_id, disposition, result, created_at, answered_at, ended_at
FROM outreach_attempt
WHERE workspace_id = $1
  AND created_at >= $2 AND created_at < $3
  AND ($4 = '' OR campaign_id = $4)
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, from, to, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []attempts.OutreachAttempt
	for rows.Next() {
		var a attempts.OutreachAttempt
		var disposition string
		var result []byte
		if err := rows.Scan(&a.ID, &a.ContactID, &disposition, &result, &a.CreatedAt, &a.AnsweredAt, &a.EndedAt); err != nil {
			return nil, err
		}
		a.WorkspaceID = workspaceID
		a.CampaignID = campaignID
		a.Disposition = attempts.Disposition(disposition)
		if len(result) > 0 {
			if err := json.Unmarshal(result, &a.Result); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListQueue(ctx context.Context, workspaceID, campaignID string) ([]queue.Item, error) {
	const q = `
SELECT cq.id, cq.contact_id, cq.status, cq.attempts, cq.queue_order
FROM campaign_queue cq
JOIN campaign c ON c.id = cq.campaign_id
WHERE c.workspace_id = $1 AND cq.campaign_id = $2
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Item
	for rows.Next() {
		var it queue.Item
		if err := rows.Scan(&it.ID, &it.ContactID, &it.Status, &it.Attempts, &it.QueueOrder); err != nil {
			return nil, err
		}
		it.CampaignID = campaignID
		out = append(out, it)
	}
	return out, rows.Err()
}
