package onchain

// approvals.go: allowance de USDC.e para los exchanges del CLOB.
//
// Una orden BUY solo casa si el exchange puede mover el colateral de la wallet.
// EnsureAllowance comprueba el allowance ERC20 de cada exchange y, si no alcanza,
// envía approve(max) y espera el receipt.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	polygonChainID = int64(137)

	// USDC.e colateral en Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// exchanges que cobran el colateral en una BUY
	ctfExchange     = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	approvalGasLimit = uint64(80_000)
	receiptTimeout   = 60 * time.Second
)

// 1M USDC.e en unidades de 6 decimales
var minAllowance = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000))

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// chain es la parte de *ethclient.Client que usa Approver.
type chain interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Approver gestiona el allowance de USDC.e de la wallet de trading.
type Approver struct {
	client  chain
	closer  func()
	key     *ecdsa.PrivateKey
	address common.Address
	poll    time.Duration
}

// NewApprover conecta con el RPC de Polygon. privateKeyHex puede llevar 0x.
func NewApprover(rpcURL, privateKeyHex string) (*Approver, error) {
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewApprover: %w", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewApprover: dial rpc: %w", err)
	}
	return &Approver{
		client:  client,
		closer:  client.Close,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		poll:    3 * time.Second,
	}, nil
}

// Close cierra la conexión RPC.
func (a *Approver) Close() {
	if a.closer != nil {
		a.closer()
	}
}

// EnsureAllowance deja aprobado el colateral para ambos exchanges.
func (a *Approver) EnsureAllowance(ctx context.Context) error {
	usdc := common.HexToAddress(usdcEAddress)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	for _, ex := range []string{ctfExchange, negRiskExchange} {
		spender := common.HexToAddress(ex)
		allowance, err := a.allowance(ctx, usdc, spender)
		if err != nil {
			return fmt.Errorf("onchain.EnsureAllowance: check %s: %w", ex, err)
		}
		if !needsApproval(allowance) {
			slog.Debug("onchain: USDC.e allowance sufficient", "exchange", ex)
			continue
		}

		slog.Info("onchain: setting USDC.e approval", "exchange", ex)
		data, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("onchain.EnsureAllowance: pack approve: %w", err)
		}
		if err := a.send(ctx, usdc, data); err != nil {
			return fmt.Errorf("onchain.EnsureAllowance: approve %s: %w", ex, err)
		}
		slog.Info("onchain: USDC.e approval set", "exchange", ex)
	}
	return nil
}

func (a *Approver) allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", a.address, spender)
	if err != nil {
		return nil, err
	}
	result, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, errors.New("empty allowance result")
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", vals[0])
	}
	return v, nil
}

// send firma y envía una tx legacy EIP-155 y espera a que se mine.
func (a *Approver) send(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := a.client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), approvalGasLimit, bufferGasPrice(gasPrice), data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), a.key)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := a.waitForReceipt(rctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("wait receipt %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (a *Approver) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := a.client.TransactionReceipt(ctx, hash)
			if err != nil {
				continue // aún no minada
			}
			return receipt, nil
		}
	}
}

// needsApproval indica si el allowance está por debajo del mínimo operativo.
func needsApproval(allowance *big.Int) bool {
	return allowance == nil || allowance.Cmp(minAllowance) < 0
}

// bufferGasPrice suma un 10% para entrar antes en bloque, sin mutar p.
func bufferGasPrice(p *big.Int) *big.Int {
	out := new(big.Int).Mul(p, big.NewInt(11))
	return out.Div(out, big.NewInt(10))
}

func parseKey(h string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
