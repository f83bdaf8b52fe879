package decision

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	defaultHammerSecs    = 15
	defaultDMin          = 5.0
	defaultMaxEntryPrice = 0.97
	defaultQuoteSizeUSD  = 20.0
)

// Config contiene los umbrales del state machine.
type Config struct {
	HammerSecs    float64
	DMin          float64
	MaxEntryPrice float64
	FeeModel      domain.FeeModel
	QuoteSizeUSD  float64
	SizeStep      float64
	ZForm         domain.ZForm // elige qué sigma se lee del estimador
}

// Volatility es la vista del tick buffer que necesita la evaluación.
type Volatility interface {
	LastPrice(symbol string) (float64, time.Time, bool)
	RealizedSigma1(symbol string) (float64, error)
	PriceSigma1(symbol string) (float64, error)
}

// QuoteSource devuelve el último quote de un token.
type QuoteSource interface {
	Best(contractID, token string) (domain.BookQuote, error)
}

// FeeSource devuelve el fee en bps a usar para un token en este instante.
type FeeSource interface {
	FeeBps(token string, now time.Time) float64
}

// State es el estado de decisión de un contrato.
type State struct {
	ContractID       string
	Phase            domain.Phase
	WatchTriggeredAt time.Time
	Last             *domain.Candidate
	Decided          bool
}

// Transition describe un cambio de fase.
type Transition struct {
	ContractID string
	From       domain.Phase
	To         domain.Phase
	At         time.Time
}

// Evaluation es el resultado de recalcular los candidatos de un contrato.
type Evaluation struct {
	Candidates []domain.Candidate
	Best       *domain.Candidate
	Skipped    map[domain.Side]error
}

// StepResult agrupa lo que produjo un Step.
type StepResult struct {
	Transitions []Transition
	Evaluation  *Evaluation
	Intent      *domain.Intent
}

// Machine mantiene la tabla de estados por contrato. Solo la muta el consumidor.
type Machine struct {
	cfg    Config
	model  domain.ProbabilityModel
	vol    Volatility
	quotes QuoteSource
	fees   FeeSource
	states map[string]*State
	newID  func() string
}

// New crea un Machine. model es la estrategia de probabilidad inyectada.
func New(cfg Config, model domain.ProbabilityModel, vol Volatility, quotes QuoteSource, fees FeeSource) *Machine {
	if cfg.HammerSecs <= 0 {
		cfg.HammerSecs = defaultHammerSecs
	}
	if cfg.DMin < 0 {
		cfg.DMin = defaultDMin
	}
	if cfg.MaxEntryPrice <= 0 {
		cfg.MaxEntryPrice = defaultMaxEntryPrice
	}
	if cfg.QuoteSizeUSD <= 0 {
		cfg.QuoteSizeUSD = defaultQuoteSizeUSD
	}
	if cfg.SizeStep <= 0 {
		cfg.SizeStep = domain.DefaultSizeStep
	}
	if cfg.FeeModel == "" {
		cfg.FeeModel = domain.FeeLinear
	}
	if cfg.ZForm == "" {
		cfg.ZForm = domain.ZRelative
	}
	return &Machine{
		cfg:    cfg,
		model:  model,
		vol:    vol,
		quotes: quotes,
		fees:   fees,
		states: make(map[string]*State),
		newID:  uuid.NewString,
	}
}

// Track crea el estado IDLE de un contrato si no existe.
func (m *Machine) Track(contractID string) {
	if _, ok := m.states[contractID]; ok {
		return
	}
	m.states[contractID] = &State{ContractID: contractID, Phase: domain.PhaseIdle}
}

// Forget destruye el estado de un contrato desalojado.
func (m *Machine) Forget(contractID string) {
	delete(m.states, contractID)
}

// State devuelve una copia del estado de un contrato.
func (m *Machine) State(contractID string) (State, bool) {
	s, ok := m.states[contractID]
	if !ok {
		return State{}, false
	}
	cp := *s
	if s.Last != nil {
		last := *s.Last
		cp.Last = &last
	}
	return cp, true
}

// Finish lleva un contrato a DONE fuera del flujo normal, p.ej. cuando ya tenía
// una intent admitida antes de un restart.
func (m *Machine) Finish(contractID string, now time.Time) (Transition, bool) {
	s, ok := m.states[contractID]
	if !ok {
		return Transition{}, false
	}
	s.Decided = true
	return m.advance(s, domain.PhaseDone, now)
}

// Len devuelve el número de contratos con estado.
func (m *Machine) Len() int { return len(m.states) }

// advance mueve la fase hacia delante. Retroceder es un defecto y aborta.
func (m *Machine) advance(s *State, to domain.Phase, now time.Time) (Transition, bool) {
	if to < s.Phase {
		panic(fmt.Sprintf("decision: phase regression for %s: %s -> %s", s.ContractID, s.Phase, to))
	}
	if to == s.Phase {
		return Transition{}, false
	}
	tr := Transition{ContractID: s.ContractID, From: s.Phase, To: to, At: now}
	s.Phase = to
	return tr, true
}

// OnWatchTrigger pasa a WATCHING los contratos IDLE que ya tienen start price y siguen en curso.
func (m *Machine) OnWatchTrigger(contracts []domain.Contract, now time.Time) []Transition {
	var out []Transition
	for _, c := range contracts {
		s, ok := m.states[c.ID]
		if !ok || s.Phase != domain.PhaseIdle {
			continue
		}
		if !c.Tradeable() || !c.Running(now) {
			continue
		}
		if tr, ok := m.advance(s, domain.PhaseWatching, now); ok {
			s.WatchTriggeredAt = now
			out = append(out, tr)
		}
	}
	return out
}

// Step avanza el contrato según el tiempo y, en HAMMER_WINDOW, evalúa candidatos.
// Devuelve como mucho una intent en toda la vida del contrato.
func (m *Machine) Step(c domain.Contract, now time.Time) StepResult {
	var res StepResult
	s, ok := m.states[c.ID]
	if !ok || s.Phase == domain.PhaseDone {
		return res
	}

	if !now.Before(c.End) || c.Invalid {
		if tr, ok := m.advance(s, domain.PhaseDone, now); ok {
			res.Transitions = append(res.Transitions, tr)
		}
		return res
	}

	remaining := c.End.Sub(now).Seconds()
	if s.Phase == domain.PhaseWatching && remaining <= m.cfg.HammerSecs {
		if tr, ok := m.advance(s, domain.PhaseHammerWindow, now); ok {
			res.Transitions = append(res.Transitions, tr)
		}
	}
	if s.Phase != domain.PhaseHammerWindow || s.Decided || !c.Tradeable() {
		return res
	}

	ev := m.Evaluate(c, now)
	res.Evaluation = &ev
	if ev.Best != nil {
		best := *ev.Best
		s.Last = &best
	}
	if ev.Best == nil {
		return res
	}

	intent, err := m.buildIntent(c, *ev.Best, now)
	if err != nil {
		slog.Warn("decision: cannot size intent", "contract", c.ID, "err", err)
		return res
	}
	s.Decided = true
	res.Intent = &intent
	if tr, ok := m.advance(s, domain.PhaseDone, now); ok {
		res.Transitions = append(res.Transitions, tr)
	}
	return res
}

// Evaluate calcula un candidato por lado y elige el de mayor EV que cumpla
// d >= DMin, ask <= MaxEntryPrice y ev > 0. No muta estado.
func (m *Machine) Evaluate(c domain.Contract, now time.Time) Evaluation {
	ev := Evaluation{Skipped: make(map[domain.Side]error)}
	skipAll := func(err error) Evaluation {
		for _, side := range domain.Sides {
			ev.Skipped[side] = err
		}
		return ev
	}

	price, _, ok := m.vol.LastPrice(c.Symbol)
	if !ok {
		return skipAll(fmt.Errorf("decision.Evaluate: %s: no price: %w", c.Symbol, domain.ErrInsufficientHistory))
	}
	var sigma float64
	var err error
	if m.cfg.ZForm == domain.ZAbsolute {
		sigma, err = m.vol.PriceSigma1(c.Symbol)
	} else {
		sigma, err = m.vol.RealizedSigma1(c.Symbol)
	}
	if err != nil {
		return skipAll(err)
	}
	secsLeft := c.End.Sub(now).Seconds()
	d := price - c.StartPrice
	pUp, err := m.model.ProbUp(domain.ProbabilityInput{D: d, Price: price, Sigma1: sigma, SecsLeft: secsLeft})
	if err != nil {
		return skipAll(err)
	}

	for _, side := range domain.Sides {
		token := c.TokenFor(side)
		q, err := m.quotes.Best(c.ID, token)
		if err != nil {
			ev.Skipped[side] = err
			continue
		}
		if !q.HasAsk() {
			ev.Skipped[side] = fmt.Errorf("decision.Evaluate: %s %s ask=%.4f: %w", c.ID, side, q.BestAsk, domain.ErrNoQuote)
			continue
		}
		p := pUp
		if side == domain.SideDown {
			p = 1 - pUp
		}
		fee := domain.FeeCost(m.cfg.FeeModel, q.BestAsk, m.fees.FeeBps(token, now))
		cand := domain.Candidate{
			ContractID: c.ID,
			Side:       side,
			Token:      token,
			D:          d,
			Sigma1:     sigma,
			PHat:       p,
			Ask:        q.BestAsk,
			FeeCost:    fee,
			EV:         domain.EV(p, q.BestAsk, fee),
			SecsLeft:   secsLeft,
		}
		ev.Candidates = append(ev.Candidates, cand)
		if !m.qualifies(cand) {
			continue
		}
		if ev.Best == nil || cand.Better(*ev.Best) {
			best := cand
			ev.Best = &best
		}
	}
	return ev
}

func (m *Machine) qualifies(c domain.Candidate) bool {
	return c.DirectionalD() >= m.cfg.DMin && c.Ask <= m.cfg.MaxEntryPrice && c.EV > 0
}

func (m *Machine) buildIntent(c domain.Contract, cand domain.Candidate, now time.Time) (domain.Intent, error) {
	limit, size, err := domain.SizeForBudget(m.cfg.QuoteSizeUSD, cand.Ask, c.TickSize, m.cfg.SizeStep)
	if err != nil {
		return domain.Intent{}, err
	}
	if size <= 0 {
		return domain.Intent{}, errors.New("decision: size rounds to zero")
	}
	return domain.Intent{
		ID:         m.newID(),
		ContractID: c.ID,
		Side:       cand.Side,
		Token:      cand.Token,
		LimitPrice: limit,
		Size:       size,
		NegRisk:    c.NegRisk,
		CreatedAt:  now,
		Candidate:  cand,
	}, nil
}
