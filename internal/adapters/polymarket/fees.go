package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// feeRateKeys son las variantes que ha usado el endpoint /fee-rate.
var feeRateKeys = []string{"fee_rate_bps", "feeRateBps", "feeRate", "base_fee"}

// FeeRateBps implementa ports.FeeRateProvider vía GET /fee-rate?token_id=.
func (c *Client) FeeRateBps(ctx context.Context, tokenID string) (float64, error) {
	u := fmt.Sprintf("%s/fee-rate?token_id=%s", c.clobBase, url.QueryEscape(tokenID))

	var raw map[string]json.RawMessage
	if err := c.get(ctx, c.clobLimiter, u, &raw); err != nil {
		return 0, fmt.Errorf("clob.FeeRateBps %s: %w", tokenID, err)
	}
	return parseFeeRate(raw)
}

func parseFeeRate(raw map[string]json.RawMessage) (float64, error) {
	for _, k := range feeRateKeys {
		b, ok := raw[k]
		if !ok || string(b) == "null" {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return 0, fmt.Errorf("clob.FeeRateBps: %s: %w", k, err)
		}
		v, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("clob.FeeRateBps: %s: %w", k, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("clob.FeeRateBps: negative fee rate %v", v)
		}
		return v, nil
	}
	return 0, fmt.Errorf("clob.FeeRateBps: no fee rate in response")
}
