package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("campaigns: not found")

// PostgresRepository reads/updates the campaign table.
//
// Assumed schema:
//   - campaign (id, workspace_id, title, dial_mode, status, caller_id_number,
//     group_household_queue, voicemail_audio_url, script JSONB,
//     dial_concurrency, start_date, end_date, created_at, updated_at)
type PostgresRepository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, clock: time.Now}
}

const campaignColumns = `id, workspace_id, title, dial_mode, status, caller_id_number,
group_household_queue, voicemail_audio_url, script, dial_concurrency,
start_date, end_date, created_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, campaignID string) (Campaign, error) {
	const q = `
SELECT ` + campaignColumns + `
FROM campaign
WHERE id = $1
`
	return scanCampaign(r.db.QueryRowContext(ctx, q, campaignID))
}

// IsActive implements queue.CampaignStateReader.
func (r *PostgresRepository) IsActive(ctx context.Context, campaignID string) (bool, error) {
	c, err := r.Get(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return c.Active(r.clock().UTC()), nil
}

// SetStatus transitions the campaign lifecycle flag. The queue drain marks a
// campaign complete through this.
func (r *PostgresRepository) SetStatus(ctx context.Context, campaignID string, status Status) error {
	const q = `
UPDATE campaign
SET status = $2, updated_at = $3
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, campaignID, string(status), r.clock().UTC())
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

func scanCampaign(row *sql.Row) (Campaign, error) {
	var c Campaign
	var dialMode, status string
	var voicemail sql.NullString
	var script []byte
	if err := row.Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Title,
		&dialMode,
		&status,
		&c.CallerIDNumber,
		&c.GroupHouseholdQueue,
		&voicemail,
		&script,
		&c.DialConcurrency,
		&c.StartDate,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	c.DialMode = DialMode(dialMode)
	c.Status = Status(status)
	c.VoicemailAudioURL = voicemail.String
	c.ScriptJSON = script
	return c, nil
}
