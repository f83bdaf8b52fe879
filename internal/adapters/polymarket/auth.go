package polymarket

// auth.go: autenticación del CLOB de Polymarket.
//
//   L1: firma EIP-712 con la clave de la wallet → deriva las credenciales API
//   L2: HMAC-SHA256 de cada request autenticada

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// Taker cero = orden pública
	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// usdcUnits: USDC y shares de outcome tienen 6 decimales on-chain.
var usdcUnits = decimal.New(1, 6)

type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient extiende Client con auth L1/L2 y firma de órdenes.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	orderBuilder builder.ExchangeOrderBuilder

	credsMu sync.Mutex
	creds   *apiCredentials
}

// NewAuthClient crea el client autenticado. privateKeyHex va sin prefijo 0x.
func NewAuthClient(clobBase, gammaBase, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}

	return &AuthClient{
		Client:       NewClient(clobBase, gammaBase),
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address devuelve la dirección de la wallet.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds deriva las credenciales API vía L1 la primera vez y las cachea.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("auth: sign l1: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := ac.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: derive-api-key: %w", &APIError{Status: resp.StatusCode, Body: string(body)})
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("auth: parse creds: %w", err)
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) credentials() (*apiCredentials, error) {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds == nil {
		return nil, fmt.Errorf("auth: credentials not derived yet")
	}
	return ac.creds, nil
}

// EIP-712 type hashes.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth firma el typed data ClobAuth para L1.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)
	msgHash := crypto.Keccak256Hash(rawBuf)

	sig, err := crypto.Sign(msgHash.Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Headers genera las cabeceras HMAC de una request L2.
func (ac *AuthClient) l2Headers(creds *apiCredentials, method, path, body string, now time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))

	return map[string]string{
		"POLY_ADDRESS":    ac.address.Hex(),
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// doL2 ejecuta una request autenticada. Las cabeceras se regeneran en cada
// intento para que el timestamp siga fresco. Las órdenes van con retries=0:
// reenviar un POST /order tras un 5xx puede duplicarla.
func (ac *AuthClient) doL2(ctx context.Context, limiter *rate.Limiter, retries int, method, path string, reqBody, out any) error {
	creds, err := ac.credentials()
	if err != nil {
		return err
	}

	var body []byte
	if reqBody != nil {
		if body, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	return ac.doWithRetry(ctx, limiter, retries, func() (*http.Response, error) {
		headers, err := ac.l2Headers(creds, method, path, string(body), time.Now())
		if err != nil {
			return nil, err
		}
		var r io.Reader
		if body != nil {
			r = strings.NewReader(string(body))
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return ac.http.Do(req)
	}, out)
}

// orderAmounts calcula makerAmount (USDC) y takerAmount (shares) en micro-unidades
// para un BUY. El CLOB exige makerAmount == price × takerAmount exacto.
func orderAmounts(price, size, tick float64) (maker, taker *big.Int, err error) {
	p, err := decimalFloor(price, tick)
	if err != nil {
		return nil, nil, err
	}
	s, err := decimalFloor(size, domain.DefaultSizeStep)
	if err != nil {
		return nil, nil, err
	}
	if !p.IsPositive() || !s.IsPositive() {
		return nil, nil, fmt.Errorf("invalid amounts: price=%s size=%s", p, s)
	}
	taker = s.Mul(usdcUnits).BigInt()
	maker = p.Mul(s).Mul(usdcUnits).Floor().BigInt()
	return maker, taker, nil
}

func decimalFloor(v, step float64) (decimal.Decimal, error) {
	if step <= 0 {
		return decimal.Zero, fmt.Errorf("step must be > 0, got %v", step)
	}
	ds := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(ds).Floor().Mul(ds), nil
}

// buildSignedOrder firma un BUY al límite para el token dado.
func (ac *AuthClient) buildSignedOrder(tokenID string, price, size, tick, feeRateBps float64, negRisk bool) (*model.SignedOrder, error) {
	maker, taker, err := orderAmounts(price, size, tick)
	if err != nil {
		return nil, err
	}

	verifyingContract := model.CTFExchange
	if negRisk {
		verifyingContract = model.NegRiskCTFExchange
	}

	orderData := &model.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    strconv.FormatInt(int64(feeRateBps), 10),
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          model.BUY,
		SignatureType: model.EOA,
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}
