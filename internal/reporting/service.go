package reporting

import (
	"context"
	"errors"
	"time"

	"outreach-platform/internal/attempts"
	"outreach-platform/internal/calls"
	"outreach-platform/internal/queue"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations must enforce workspace filtering and should query the
// immutable sources (call rows, append-only attempt history).
type Repository interface {
	ListCalls(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]calls.Call, error)
	ListAttempts(ctx context.Context, workspaceID string, from, to time.Time, campaignID string) ([]attempts.OutreachAttempt, error)
	ListQueue(ctx context.Context, workspaceID, campaignID string) ([]queue.Item, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.Billed {
			out.BilledCalls++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusRinging, calls.CallStatusQueued:
			// not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) CampaignProgress(ctx context.Context, req CampaignProgressRequest) (CampaignProgress, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" {
		return CampaignProgress{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignProgress{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignProgress{}, errors.New("reporting: repository not configured")
	}

	items, err := s.repo.ListQueue(ctx, req.WorkspaceID, req.CampaignID)
	if err != nil {
		return CampaignProgress{}, err
	}
	atts, err := s.repo.ListAttempts(ctx, req.WorkspaceID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CampaignProgress{}, err
	}

	out := CampaignProgress{
		WorkspaceID: req.WorkspaceID,
		CampaignID:  req.CampaignID,
		Attempts:    map[string]int{},
	}
	for _, it := range items {
		switch it.Status {
		case queue.StatusQueued:
			out.Queued++
		case queue.StatusDequeued:
			out.Dequeued++
		case queue.StatusCompleted:
			out.Completed++
		case queue.StatusCancelled:
			out.Cancelled++
		default:
			// Any other status is a caller id holding the row.
			out.CheckedOut++
		}
	}
	for _, a := range atts {
		out.TotalAttempts++
		out.Attempts[string(a.Disposition)]++
		if a.AnsweredAt != nil {
			out.AnsweredAttempts++
		}
	}
	if out.TotalAttempts > 0 {
		out.AnswerRate = float64(out.AnsweredAttempts) / float64(out.TotalAttempts)
	}
	return out, nil
}
