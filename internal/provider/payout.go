package provider

import (
	"context"
	"net/http"
)

// PayoutClient implements PayoutProcessor over HTTP.
//
//	POST /payouts  Idempotency-Key: <reference_id>  -> {"tx_hash": "..."}
//
// A 409 means the processor already holds the reference. The hash then
// arrives later through the payout result callback.
type PayoutClient struct {
	*Client
}

// NewPayoutClient creates a payout processor client.
func NewPayoutClient(baseURL string, opts ...ClientOption) *PayoutClient {
	return &PayoutClient{Client: NewClient("payout", baseURL, opts...)}
}

type payoutResponse struct {
	TxHash string `json:"tx_hash"`
}

// Submit sends req. Retries reuse the same Idempotency-Key.
func (c *PayoutClient) Submit(ctx context.Context, req PayoutRequest) (string, error) {
	headers := map[string]string{"Idempotency-Key": req.ReferenceID}

	var resp payoutResponse
	err := c.do(ctx, "submit", http.MethodPost, "/payouts", headers, req, &resp)
	if err != nil {
		if IsStatus(err, http.StatusConflict) {
			return "", nil
		}
		return "", err
	}
	return resp.TxHash, nil
}

var _ PayoutProcessor = (*PayoutClient)(nil)
