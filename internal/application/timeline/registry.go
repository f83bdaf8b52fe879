package timeline

// registry.go: set de contratos activos por horizonte.
//
// Para cada horizonte se mantienen el contrato en curso y el siguiente, de modo
// que las suscripciones de book se abren antes del boundary. El precio de inicio
// se toma del primer tick con timestamp >= start_epoch (dentro de la tolerancia),
// una sola vez. El contrato se desaloja HORIZON segundos después de su fin.

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const defaultStartTolerance = 5 * time.Second

// Config controla el registry.
type Config struct {
	Asset          string // prefijo del slug, p.ej. "btc"
	Symbol         string // símbolo del feed de referencia, p.ej. "BTC/USD"
	Horizons       []domain.Horizon
	StartTolerance time.Duration
}

type boundaryTick struct {
	ts    time.Time
	price float64
}

type entry struct {
	c       domain.Contract
	expired bool
}

// TickResult lista los contratos afectados por un tick.
type TickResult struct {
	Started []domain.Contract // start_price recién capturado
	Ended   []domain.Contract // end_price recién capturado
	Invalid []domain.Contract // primer tick fuera de tolerancia
}

// Transitions lista los cambios producidos por el paso del tiempo.
type Transitions struct {
	Invalidated []domain.Contract
	Expired     []domain.Contract // now >= End por primera vez
	Evicted     []domain.Contract
}

// Registry es la tabla de contratos indexada por id. Solo la muta el consumidor.
type Registry struct {
	cfg       Config
	contracts map[string]*entry
	tokens    map[string]string // token -> contract id
	firsts    map[int64]boundaryTick
}

// New crea un Registry.
func New(cfg Config) *Registry {
	if cfg.StartTolerance <= 0 {
		cfg.StartTolerance = defaultStartTolerance
	}
	if len(cfg.Horizons) == 0 {
		cfg.Horizons = domain.Horizons
	}
	if cfg.Asset == "" {
		cfg.Asset = "btc"
	}
	return &Registry{
		cfg:       cfg,
		contracts: make(map[string]*entry),
		tokens:    make(map[string]string),
		firsts:    make(map[int64]boundaryTick),
	}
}

// DesiredSlugs devuelve, por cada horizonte, el slug del contrato en curso y el del siguiente.
func DesiredSlugs(asset string, horizons []domain.Horizon, now time.Time) []string {
	out := make([]string, 0, 2*len(horizons))
	for _, h := range horizons {
		cur := domain.SlotStart(now, h)
		out = append(out,
			domain.ContractSlug(asset, h, cur),
			domain.ContractSlug(asset, h, cur.Add(h.Duration())),
		)
	}
	return out
}

// DesiredSlugs usa la configuración del registry.
func (r *Registry) DesiredSlugs(now time.Time) []string {
	return DesiredSlugs(r.cfg.Asset, r.cfg.Horizons, now)
}

// Has reports whether the contract is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.contracts[id]
	return ok
}

// Admit registra un contrato resuelto. Devuelve false si ya existía o ya pasó su ventana.
func (r *Registry) Admit(meta domain.ContractMeta, now time.Time) (domain.Contract, bool, error) {
	if e, ok := r.contracts[meta.Slug]; ok {
		return e.c, false, nil
	}
	asset, h, start, err := domain.ParseContractSlug(meta.Slug)
	if err != nil {
		return domain.Contract{}, false, fmt.Errorf("timeline.Admit: %w: %w", domain.ErrContractResolution, err)
	}
	if !strings.EqualFold(asset, r.cfg.Asset) {
		return domain.Contract{}, false, fmt.Errorf("timeline.Admit: asset %q: %w", asset, domain.ErrContractResolution)
	}
	if meta.UpToken == "" || meta.DownToken == "" || meta.UpToken == meta.DownToken {
		return domain.Contract{}, false, fmt.Errorf("timeline.Admit: %s: missing tokens: %w", meta.Slug, domain.ErrContractResolution)
	}
	end := start.Add(h.Duration())
	if !meta.End.IsZero() && !meta.End.Equal(end) {
		return domain.Contract{}, false, fmt.Errorf("timeline.Admit: %s: end %s does not match slug: %w",
			meta.Slug, meta.End.UTC().Format(time.RFC3339), domain.ErrContractResolution)
	}
	if !now.Before(end.Add(h.Duration())) {
		return domain.Contract{}, false, nil
	}

	tick := meta.TickSize
	if tick <= 0 {
		tick = domain.DefaultTickSize
	}
	c := domain.Contract{
		ID:        meta.Slug,
		Symbol:    r.cfg.Symbol,
		Horizon:   h,
		Start:     start,
		End:       end,
		UpToken:   meta.UpToken,
		DownToken: meta.DownToken,
		TickSize:  tick,
		NegRisk:   meta.NegRisk,
	}
	e := &entry{c: c}
	r.contracts[c.ID] = e
	r.tokens[c.UpToken] = c.ID
	r.tokens[c.DownToken] = c.ID
	r.capture(e)
	return e.c, true, nil
}

// ObserveTick registra el primer tick de cada boundary y captura start/end prices.
func (r *Registry) ObserveTick(t domain.PriceTick) TickResult {
	var res TickResult
	if t.Symbol != r.cfg.Symbol || !t.Valid() {
		return res
	}
	seen := make(map[int64]bool, len(r.cfg.Horizons))
	for _, h := range r.cfg.Horizons {
		b := domain.SlotStart(t.Timestamp, h).Unix()
		if seen[b] {
			continue
		}
		seen[b] = true
		if cur, ok := r.firsts[b]; !ok || t.Timestamp.Before(cur.ts) {
			r.firsts[b] = boundaryTick{ts: t.Timestamp, price: t.Price}
		}
	}

	for _, id := range r.sortedIDs() {
		e := r.contracts[id]
		started, ended, invalid := r.capture(e)
		if started {
			res.Started = append(res.Started, e.c)
		}
		if ended {
			res.Ended = append(res.Ended, e.c)
		}
		if invalid {
			res.Invalid = append(res.Invalid, e.c)
		}
	}
	return res
}

// capture intenta fijar start/end price desde los primeros ticks de boundary.
func (r *Registry) capture(e *entry) (started, ended, invalid bool) {
	c := &e.c
	if !c.StartPriceSet && !c.Invalid {
		if bt, ok := r.firsts[c.Start.Unix()]; ok {
			if bt.ts.After(c.Start.Add(r.cfg.StartTolerance)) {
				c.Invalid = true
				invalid = true
			} else {
				c.StartPrice = bt.price
				c.StartPriceAt = bt.ts
				c.StartPriceSet = true
				started = true
			}
		}
	}
	if c.StartPriceSet && !c.EndPriceSet {
		if bt, ok := r.firsts[c.End.Unix()]; ok {
			c.EndPrice = bt.price
			c.EndPriceSet = true
			ended = true
		}
	}
	return started, ended, invalid
}

// OnBoundaryCrossed intenta capturar el start price de un contrato cuyo start ya pasó.
func (r *Registry) OnBoundaryCrossed(id string, now time.Time) (domain.Contract, error) {
	e, ok := r.contracts[id]
	if !ok {
		return domain.Contract{}, fmt.Errorf("timeline.OnBoundaryCrossed: unknown contract %s", id)
	}
	if now.Before(e.c.Start) {
		return e.c, nil
	}
	r.capture(e)
	if !e.c.StartPriceSet && !e.c.Invalid && now.After(e.c.Start.Add(r.cfg.StartTolerance)) {
		e.c.Invalid = true
	}
	return e.c, nil
}

// Advance aplica el paso del tiempo: deadline de start price, expiración y desalojo.
func (r *Registry) Advance(now time.Time) Transitions {
	var tr Transitions
	for _, id := range r.sortedIDs() {
		e := r.contracts[id]
		c := &e.c
		if !now.Before(c.Start) && !c.StartPriceSet && !c.Invalid {
			if got, err := r.OnBoundaryCrossed(id, now); err == nil && got.Invalid {
				tr.Invalidated = append(tr.Invalidated, got)
			}
		}
		if !now.Before(c.End) && !e.expired {
			e.expired = true
			tr.Expired = append(tr.Expired, *c)
		}
		if !now.Before(c.End.Add(c.Horizon.Duration())) {
			tr.Evicted = append(tr.Evicted, *c)
			delete(r.contracts, id)
			delete(r.tokens, c.UpToken)
			delete(r.tokens, c.DownToken)
		}
	}
	r.pruneBoundaries(now)
	return tr
}

func (r *Registry) pruneBoundaries(now time.Time) {
	var maxH domain.Horizon
	for _, h := range r.cfg.Horizons {
		maxH = max(maxH, h)
	}
	cutoff := now.Add(-3 * maxH.Duration()).Unix()
	for b := range r.firsts {
		if b < cutoff {
			delete(r.firsts, b)
		}
	}
}

// Get devuelve una copia del contrato.
func (r *Registry) Get(id string) (domain.Contract, bool) {
	e, ok := r.contracts[id]
	if !ok {
		return domain.Contract{}, false
	}
	return e.c, true
}

// ContractForToken devuelve el contrato al que pertenece un token.
func (r *Registry) ContractForToken(token string) (domain.Contract, bool) {
	id, ok := r.tokens[token]
	if !ok {
		return domain.Contract{}, false
	}
	return r.Get(id)
}

// ActiveContracts devuelve copias de todos los contratos registrados, ordenados por fin.
func (r *Registry) ActiveContracts() []domain.Contract {
	out := make([]domain.Contract, 0, len(r.contracts))
	for _, id := range r.sortedIDs() {
		out = append(out, r.contracts[id].c)
	}
	return out
}

// Tokens devuelve los tokens de todos los contratos registrados, ordenados.
func (r *Registry) Tokens() []string {
	out := make([]string, 0, len(r.tokens))
	for t := range r.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// sortedIDs ordena por (End, ID) para que las iteraciones sean deterministas.
func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.contracts))
	for id := range r.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.contracts[ids[i]].c, r.contracts[ids[j]].c
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return ids[i] < ids[j]
	})
	return ids
}
