package queue

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepository implements the conditional-claim protocol against the
// campaign_queue table.
//
// Assumed schema:
//   - campaign_queue (id, campaign_id, contact_id, status, attempts,
//     queue_order, contact_name, contact_number, address)
//
// The claim is a single conditional UPDATE guarded by status = 'queued';
// FOR UPDATE SKIP LOCKED keeps concurrent predictive claims from serializing
// on the same head row.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const queueColumns = `id, campaign_id, contact_id, status, attempts, queue_order, contact_name, contact_number, address`

func (r *PostgresRepository) ClaimNext(ctx context.Context, campaignID, callerID string) (Item, error) {
	const q = `
UPDATE campaign_queue
SET status = $2, attempts = attempts + 1
WHERE id = (
  SELECT id FROM campaign_queue
  WHERE campaign_id = $1 AND status = 'queued'
  ORDER BY attempts ASC, queue_order ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + queueColumns + `
`
	it, err := scanItem(r.db.QueryRowContext(ctx, q, campaignID, callerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNoRecipient
	}
	return it, err
}

func (r *PostgresRepository) Claim(ctx context.Context, queueID, callerID string) (Item, error) {
	const q = `
UPDATE campaign_queue
SET status = $2, attempts = attempts + 1
WHERE id = $1 AND status = 'queued'
RETURNING ` + queueColumns + `
`
	it, err := scanItem(r.db.QueryRowContext(ctx, q, queueID, callerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrClaimLost
	}
	return it, err
}

// Release puts a claimed item back in the queue, e.g. when call placement
// fails before any attempt concluded.
func (r *PostgresRepository) Release(ctx context.Context, queueID, callerID string) error {
	const q = `
UPDATE campaign_queue
SET status = 'queued'
WHERE id = $1 AND status = $2
`
	_, err := r.db.ExecContext(ctx, q, queueID, callerID)
	return err
}

// MarkDequeued removes an item from every caller's visible queue.
func (r *PostgresRepository) MarkDequeued(ctx context.Context, queueID string) error {
	const q = `
UPDATE campaign_queue
SET status = 'dequeued'
WHERE id = $1
`
	_, err := r.db.ExecContext(ctx, q, queueID)
	return err
}

// Complete marks an item's engagement concluded.
func (r *PostgresRepository) Complete(ctx context.Context, queueID string) error {
	const q = `
UPDATE campaign_queue
SET status = 'completed'
WHERE id = $1
`
	_, err := r.db.ExecContext(ctx, q, queueID)
	return err
}

// CancelPending cancels every still-queued item for a campaign. Used when a
// terminal event lands after the campaign end date, so nothing keeps dialing
// or billing past campaign close. Returns the number of items cancelled.
func (r *PostgresRepository) CancelPending(ctx context.Context, campaignID string) (int64, error) {
	const q = `
UPDATE campaign_queue
SET status = 'cancelled'
WHERE campaign_id = $1 AND status = 'queued'
`
	res, err := r.db.ExecContext(ctx, q, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountQueued returns the remaining queued depth for a campaign.
func (r *PostgresRepository) CountQueued(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM campaign_queue
WHERE campaign_id = $1 AND status = 'queued'
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountQueuedHousehold returns how many queued items share a normalized
// address within a campaign; the reconciler uses it to mark the last call of
// a household batch.
func (r *PostgresRepository) CountQueuedHousehold(ctx context.Context, campaignID, address string) (int, error) {
	const q = `
SELECT COUNT(*) FROM campaign_queue
WHERE campaign_id = $1 AND status = 'queued'
  AND lower(regexp_replace(address, '\s', '', 'g')) = $2
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID, NormalizeAddress(address)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListForSession loads the visible queue for a caller session: queued items
// plus this caller's checkouts.
func (r *PostgresRepository) ListForSession(ctx context.Context, campaignID, callerID string) ([]Item, error) {
	const q = `
SELECT ` + queueColumns + `
FROM campaign_queue
WHERE campaign_id = $1 AND status IN ('queued', $2)
ORDER BY attempts ASC, queue_order ASC
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, callerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var name, number, address sql.NullString
		if err := rows.Scan(
			&it.ID,
			&it.CampaignID,
			&it.ContactID,
			&it.Status,
			&it.Attempts,
			&it.QueueOrder,
			&name,
			&number,
			&address,
		); err != nil {
			return nil, err
		}
		it.ContactName = name.String
		it.ContactNumber = number.String
		it.Address = address.String
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanItem(row *sql.Row) (Item, error) {
	var it Item
	var name, number, address sql.NullString
	if err := row.Scan(
		&it.ID,
		&it.CampaignID,
		&it.ContactID,
		&it.Status,
		&it.Attempts,
		&it.QueueOrder,
		&name,
		&number,
		&address,
	); err != nil {
		return Item{}, err
	}
	it.ContactName = name.String
	it.ContactNumber = number.String
	it.Address = address.String
	return it, nil
}
