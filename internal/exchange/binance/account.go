package binance

import (
	"context"
	"net/http"
)

// Ping is the connectivity gate: an unsigned hit on /api/v3/ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/api/v3/ping", nil, false, nil)
}

// ValidateBalance reports whether the free balance of asset covers the
// required amount. Insufficient funds is an ok=false result, not an error.
func (c *Client) ValidateBalance(ctx context.Context, asset string, required float64) (bool, float64, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true, &resp); err != nil {
		return false, 0, err
	}

	for _, bal := range resp.Balances {
		if bal.Asset != asset {
			continue
		}
		free := parseFloatOrZero(bal.Free)
		return free >= required, free, nil
	}
	return false, 0, nil
}
