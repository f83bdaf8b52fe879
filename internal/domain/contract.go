package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Horizon es la duración de un contrato up/down.
type Horizon int

const (
	Horizon5m  Horizon = 300
	Horizon15m Horizon = 900
)

// Horizons lista los horizontes soportados, en orden.
var Horizons = []Horizon{Horizon5m, Horizon15m}

// Seconds devuelve la duración del horizonte en segundos.
func (h Horizon) Seconds() int64 { return int64(h) }

// Duration devuelve la duración del horizonte.
func (h Horizon) Duration() time.Duration { return time.Duration(h) * time.Second }

func (h Horizon) String() string {
	return fmt.Sprintf("%dm", int(h)/60)
}

// ParseHorizon convierte "5m" / "15m" a Horizon.
func ParseHorizon(s string) (Horizon, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "5m", "5":
		return Horizon5m, nil
	case "15m", "15":
		return Horizon15m, nil
	}
	return 0, fmt.Errorf("domain.ParseHorizon: unknown horizon %q", s)
}

// SlotStart devuelve el inicio del slot del horizonte que contiene t.
func SlotStart(t time.Time, h Horizon) time.Time {
	sec := t.Unix()
	return time.Unix(sec-sec%h.Seconds(), 0).UTC()
}

// ContractSlug deriva el identificador del contrato: <asset>-updown-<5m|15m>-<start_epoch>.
func ContractSlug(asset string, h Horizon, start time.Time) string {
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(asset), h, start.Unix())
}

// ParseContractSlug is the inverse of ContractSlug.
func ParseContractSlug(slug string) (asset string, h Horizon, start time.Time, err error) {
	parts := strings.Split(slug, "-")
	if len(parts) != 4 || parts[1] != "updown" {
		return "", 0, time.Time{}, fmt.Errorf("domain.ParseContractSlug: malformed slug %q", slug)
	}
	h, err = ParseHorizon(parts[2])
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("domain.ParseContractSlug: %w", err)
	}
	epoch, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("domain.ParseContractSlug: epoch: %w", err)
	}
	if epoch%h.Seconds() != 0 {
		return "", 0, time.Time{}, fmt.Errorf("domain.ParseContractSlug: epoch %d not aligned to %s", epoch, h)
	}
	return parts[0], h, time.Unix(epoch, 0).UTC(), nil
}

// ContractMeta es lo que devuelve el resolver de metadata para un slug.
type ContractMeta struct {
	Slug      string
	UpToken   string
	DownToken string
	Start     time.Time
	End       time.Time
	TickSize  float64
	NegRisk   bool
}

// Contract es un contrato binario up/down sobre el precio de referencia.
// StartPrice se fija una única vez (ver StartPriceSet).
type Contract struct {
	ID            string
	Symbol        string
	Horizon       Horizon
	Start         time.Time
	End           time.Time
	UpToken       string
	DownToken     string
	TickSize      float64
	NegRisk       bool
	StartPrice    float64
	StartPriceAt  time.Time
	StartPriceSet bool
	EndPrice      float64
	EndPriceSet   bool
	Invalid       bool
}

// Remaining devuelve el tiempo hasta el vencimiento (0 si ya venció).
func (c Contract) Remaining(now time.Time) time.Duration {
	d := c.End.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Running reports whether now is inside [Start, End).
func (c Contract) Running(now time.Time) bool {
	return !now.Before(c.Start) && now.Before(c.End)
}

// Winner devuelve el lado ganador: UP solo si el precio final supera al inicial.
func (c Contract) Winner() (Side, bool) {
	if !c.StartPriceSet || !c.EndPriceSet {
		return "", false
	}
	if c.EndPrice > c.StartPrice {
		return SideUp, true
	}
	return SideDown, true
}

// Tradeable reports whether the contract can be evaluated at all.
func (c Contract) Tradeable() bool {
	return c.StartPriceSet && !c.Invalid
}

// TokenFor devuelve el token del lado pedido.
func (c Contract) TokenFor(side Side) string {
	if side == SideUp {
		return c.UpToken
	}
	return c.DownToken
}

// SideOf devuelve el lado al que pertenece un token, y false si no es de este contrato.
func (c Contract) SideOf(token string) (Side, bool) {
	switch token {
	case c.UpToken:
		return SideUp, true
	case c.DownToken:
		return SideDown, true
	}
	return "", false
}
