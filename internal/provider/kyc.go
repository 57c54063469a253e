package provider

import (
	"context"
	"net/http"
	"net/url"

	"custody-ledger/internal/domain"
)

// KYCClient implements KYCProvider over HTTP.
//
//	GET /users/{id}/kyc -> {"tier": 1, "status": "approved"}
type KYCClient struct {
	*Client
}

// NewKYCClient creates a KYC provider client.
func NewKYCClient(baseURL string, opts ...ClientOption) *KYCClient {
	return &KYCClient{Client: NewClient("kyc", baseURL, opts...)}
}

// Status returns the user's KYC status. Unknown users are tier 0.
func (c *KYCClient) Status(ctx context.Context, userID string) (domain.KYCStatus, error) {
	var st domain.KYCStatus
	err := c.do(ctx, "status", http.MethodGet, "/users/"+url.PathEscape(userID)+"/kyc", nil, nil, &st)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return domain.KYCStatus{Tier: 0, Status: domain.KYCNotSubmitted}, nil
		}
		return domain.KYCStatus{}, err
	}
	return st, nil
}

var _ KYCProvider = (*KYCClient)(nil)
