package polymarket

// trading.go: ejecución real contra el CLOB.
//
// Implementa ports.OrderSubmitter: cada intent sale como un BUY FOK firmado
// (fill-or-kill: o casa entero al límite o no casa).

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	orderTypeFOK = "FOK"
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

var balanceOfABI abi.ABI

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// TradingClient implementa ports.OrderSubmitter.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
	now       func() time.Time
}

// NewTradingClient crea un TradingClient. rpcURL se usa para el balance on-chain;
// vacío desactiva Balance.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	tc := &TradingClient{auth: auth, now: time.Now}
	if rpcURL != "" {
		rpc, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("trading: dial rpc: %w", err)
		}
		tc.rpcClient = rpc
	}
	return tc, nil
}

// Submit firma y envía la intent como FOK. Una orden que el CLOB no casa
// vuelve como REJECTED sin error; los errores son de transporte o firma.
func (tc *TradingClient) Submit(ctx context.Context, intent domain.Intent) (domain.FillOutcome, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.FillOutcome{}, fmt.Errorf("trading.Submit: creds: %w", err)
	}

	feeBps, err := tc.auth.FeeRateBps(ctx, intent.Token)
	if err != nil {
		return domain.FillOutcome{}, fmt.Errorf("trading.Submit: %w", err)
	}

	tick := domain.DefaultTickSize
	signed, err := tc.auth.buildSignedOrder(intent.Token, intent.LimitPrice, intent.Size, tick, feeBps, intent.NegRisk)
	if err != nil {
		return domain.FillOutcome{}, fmt.Errorf("trading.Submit: sign: %w", err)
	}

	creds, err := tc.auth.credentials()
	if err != nil {
		return domain.FillOutcome{}, fmt.Errorf("trading.Submit: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       intent.Token,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     creds.APIKey,
		OrderType: orderTypeFOK,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, tc.auth.orderLimiter, 0, http.MethodPost, "/order", body, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			// el CLOB responde 400 a un FOK que no puede casar
			return mapOrderResponse(intent, clobOrderResponse{ErrorMsg: apiErr.Body}, tc.now()), nil
		}
		return domain.FillOutcome{}, fmt.Errorf("trading.Submit: post: %w", err)
	}

	out := mapOrderResponse(intent, resp, tc.now())
	slog.Info("trading: order response",
		"intent", intent.ID,
		"contract", intent.ContractID,
		"status", out.Status,
		"order_id", out.OrderID,
		"filled", out.FilledSize,
		"avg_price", out.AvgPrice,
	)
	return out, nil
}

// Balance devuelve el saldo USDC.e on-chain de la wallet.
func (tc *TradingClient) Balance(ctx context.Context) (float64, error) {
	if tc.rpcClient == nil {
		return 0, fmt.Errorf("trading.Balance: no rpc configured")
	}
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("trading.Balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("trading.Balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("trading.Balance: unpack: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("trading.Balance: unexpected type %T", vals[0])
	}
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return bal, nil
}

// Client devuelve el cliente REST subyacente, con sus rate limiters.
func (tc *TradingClient) Client() *Client { return tc.auth.Client }

// Close libera la conexión RPC.
func (tc *TradingClient) Close() {
	if tc.rpcClient != nil {
		tc.rpcClient.Close()
	}
}
