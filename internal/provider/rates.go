package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
)

// RateClient implements RateOracle over HTTP.
//
//	GET /rates?from=BTC&to=USD -> {"rate": "60000.12"}
type RateClient struct {
	*Client
}

// NewRateClient creates a rate oracle client.
func NewRateClient(baseURL string, opts ...ClientOption) *RateClient {
	return &RateClient{Client: NewClient("rate_oracle", baseURL, opts...)}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// Rate returns the price of one whole unit of from in to.
func (c *RateClient) Rate(ctx context.Context, from, to domain.AssetCode) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("from", string(from))
	q.Set("to", string(to))

	var resp rateResponse
	if err := c.do(ctx, "rate", "GET", "/rates?"+q.Encode(), nil, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s for %s/%s",
			domain.ErrExternalServiceUnavailable, resp.Rate, from, to)
	}
	return resp.Rate, nil
}

var _ RateOracle = (*RateClient)(nil)
