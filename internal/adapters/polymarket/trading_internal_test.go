package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

func TestOrderAmounts(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		size      float64
		tick      float64
		wantMaker string
		wantTaker string
		wantErr   bool
	}{
		{"exact", 0.9, 22.2, 0.001, "19980000", "22200000", false},
		{"price floored to tick", 0.6789, 10, 0.01, "6700000", "10000000", false},
		{"size floored to step", 0.5, 3.37, 0.001, "1650000", "3300000", false},
		{"rounds to zero", 0.0004, 10, 0.001, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker, err := orderAmounts(tt.price, tt.size, tt.tick)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMaker, maker.String())
			assert.Equal(t, tt.wantTaker, taker.String())
		})
	}
}

func TestMapOrderResponse(t *testing.T) {
	at := time.Unix(1_700_000_290, 0).UTC()
	intent := domain.Intent{ID: "i1", ContractID: "c1", Side: domain.SideUp, LimitPrice: 0.9, Size: 22.2}

	tests := []struct {
		name       string
		resp       clobOrderResponse
		wantStatus domain.FillStatus
		wantSize   float64
		wantPrice  float64
	}{
		{"matched", clobOrderResponse{Success: true, Status: "matched", OrderID: "o1", MakingAmount: "19.758", TakingAmount: "22.2"},
			domain.FillFilled, 22.2, 0.89},
		{"matched micro units", clobOrderResponse{Success: true, Status: "MATCHED", MakingAmount: "19980000", TakingAmount: "22200000"},
			domain.FillFilled, 22.2, 0.9},
		{"partial", clobOrderResponse{Success: true, Status: "matched", MakingAmount: "9", TakingAmount: "10"},
			domain.FillPartial, 10, 0.9},
		{"matched without amounts", clobOrderResponse{Success: true, Status: "matched"},
			domain.FillFilled, 22.2, 0.9},
		{"killed", clobOrderResponse{Success: false, ErrorMsg: "order couldn't be fully filled. FOK orders are fully filled or killed."},
			domain.FillRejected, 0, 0},
		{"unmatched status", clobOrderResponse{Success: true, Status: "unmatched"},
			domain.FillRejected, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mapOrderResponse(intent, tt.resp, at)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, "i1", out.IntentID)
			assert.Equal(t, at, out.At)
			assert.InDelta(t, tt.wantSize, out.FilledSize, 1e-9)
			assert.InDelta(t, tt.wantPrice, out.AvgPrice, 1e-9)
			if out.Status == domain.FillRejected {
				assert.NotEmpty(t, out.Reason)
			}
		})
	}
}

func TestL2HeadersSignature(t *testing.T) {
	ac, err := NewAuthClient("", "", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	creds := &apiCredentials{APIKey: "key", Secret: "c2VjcmV0", Passphrase: "pass"}
	now := time.Unix(1_700_000_000, 0)

	h1, err := ac.l2Headers(creds, "post", "/order", `{"a":1}`, now)
	require.NoError(t, err)
	h2, err := ac.l2Headers(creds, "POST", "/order", `{"a":1}`, now)
	require.NoError(t, err)

	assert.Equal(t, h1["POLY_SIGNATURE"], h2["POLY_SIGNATURE"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "key", h1["POLY_API_KEY"])
	assert.Equal(t, ac.Address(), h1["POLY_ADDRESS"])

	_, err = ac.l2Headers(&apiCredentials{Secret: "%%%"}, "GET", "/", "", now)
	assert.Error(t, err)
}
