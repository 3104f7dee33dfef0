package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DebitRequest is the outbound ledger-debit contract.
type DebitRequest struct {
	Workspace string `json:"workspace"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note"`
}

var ErrInvalidArgument = errors.New("billing: invalid argument")

// Client posts ledger debits to the external billing collaborator. Debits
// are fire-and-forget from the core's perspective: callers log failures but
// do not fail call reconciliation on them.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Debit(ctx context.Context, req DebitRequest) error {
	if req.Workspace == "" || req.Amount <= 0 {
		return ErrInvalidArgument
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ledger/debit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("billing: debit rejected with status %d", res.StatusCode)
	}
	return nil
}
