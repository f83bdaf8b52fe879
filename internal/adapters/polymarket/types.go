package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarket es una fila de GET /markets?slug=.
// Gamma devuelve outcomes y clobTokenIds como arrays JSON serializados en un string.
type gammaMarket struct {
	Slug         string      `json:"slug"`
	ConditionID  string      `json:"conditionId"`
	Outcomes     stringList  `json:"outcomes"`
	ClobTokenIDs stringList  `json:"clobTokenIds"`
	TickSize     json.Number `json:"orderPriceMinTickSize"`
	NegRisk      bool        `json:"negRisk"`
	EndDate      string      `json:"endDate"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
}

// stringList acepta tanto ["a","b"] como "[\"a\",\"b\"]".
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		if inner == "" {
			*l = nil
			return nil
		}
		b = []byte(inner)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("stringList: %w", err)
	}
	*l = out
	return nil
}

// --- CLOB API ---

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// clobOrderResponse: para un BUY, makingAmount es USDC y takingAmount shares.
type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// --- WebSockets ---

// rtdsSubscription es el mensaje de suscripción al real-time data service.
type rtdsSubscription struct {
	Action        string          `json:"action"`
	Subscriptions []rtdsTopicSpec `json:"subscriptions"`
}

type rtdsTopicSpec struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

type rtdsMessage struct {
	Topic   string      `json:"topic"`
	Type    string      `json:"type"`
	Payload rtdsPayload `json:"payload"`
}

type rtdsPayload struct {
	Symbol      string      `json:"symbol"`
	Value       json.Number `json:"value"`
	TimestampMs json.Number `json:"timestamp_ms"`
}

// marketSubscription es el mensaje de suscripción al canal market del CLOB.
type marketSubscription struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// bookEvent es un snapshot completo del libro de un token.
type bookEvent struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []bookEntryRaw `json:"bids"`
	Asks      []bookEntryRaw `json:"asks"`
	Timestamp json.Number    `json:"timestamp"`
}

// bookEntryRaw es un nivel de precio raw (strings para mayor precisión).
// El stream lo manda como {"price","size"}; algunos clientes viejos como [price, size].
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (e *bookEntryRaw) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var pair []json.Number
		if err := json.Unmarshal(b, &pair); err != nil {
			return fmt.Errorf("bookEntryRaw: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("bookEntryRaw: want [price, size], got %d items", len(pair))
		}
		e.Price, e.Size = pair[0].String(), pair[1].String()
		return nil
	}
	type alias bookEntryRaw
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = bookEntryRaw(a)
	return nil
}
