package risk

// gateway.go: única vía hacia la colocación de órdenes.
//
// Gates, en orden: notional por trade, trades en la última hora, pérdida diaria
// (peor caso: PnL - exposición abierta - intents en vuelo - esta orden) y modo del
// feed. Una intent rechazada no deja rastro en el ledger. En live la submission
// corre en su propia goroutine con timeout y el resultado vuelve por Results();
// en dry-run se simula un fill FOK contra el último quote y se reconcilia en línea.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
	"github.com/alejandrodnm/hammerbot/internal/ports"
)

const (
	defaultSubmitTimeout = 5 * time.Second
	resultsBuffer        = 16
)

// Config contiene los límites de riesgo.
type Config struct {
	MaxUSDPerTrade       float64
	MaxTradesPerHour     int
	MaxDailyLoss         float64
	AllowFallbackTrading bool
	SubmitTimeout        time.Duration
	DryRun               bool
}

// QuoteSource es lo que usa el dry-run para simular el fill.
type QuoteSource interface {
	Best(contractID, token string) (domain.BookQuote, error)
}

// Gateway aplica los gates de riesgo y ejecuta las intents admitidas.
type Gateway struct {
	cfg       Config
	ledger    Ledger
	submitter ports.OrderSubmitter
	quotes    QuoteSource
	feedMode  domain.FeedMode

	results chan domain.FillOutcome
	wg      sync.WaitGroup
}

// New crea un Gateway. En dry-run submitter puede ser nil.
func New(cfg Config, submitter ports.OrderSubmitter, quotes QuoteSource) *Gateway {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	return &Gateway{
		cfg:       cfg,
		ledger:    newLedger(),
		submitter: submitter,
		quotes:    quotes,
		feedMode:  domain.FeedPrimary,
		results:   make(chan domain.FillOutcome, resultsBuffer),
	}
}

// Results entrega los resultados de las submissions live para reconciliar en el consumidor.
func (g *Gateway) Results() <-chan domain.FillOutcome { return g.results }

// SetFeedMode actualiza el modo del feed que usa el gate de confianza.
func (g *Gateway) SetFeedMode(mode domain.FeedMode) { g.feedMode = mode }

// FeedMode devuelve el modo actual.
func (g *Gateway) FeedMode() domain.FeedMode { return g.feedMode }

// DryRun reports whether fills are simulated.
func (g *Gateway) DryRun() bool { return g.cfg.DryRun }

// Check evalúa los gates sin efectos. Devuelve *domain.RiskRejection si rechaza.
func (g *Gateway) Check(intent domain.Intent, now time.Time) error {
	g.ledger.rollDay(now)
	g.ledger.pruneHour(now)

	if intent.Size <= 0 || intent.LimitPrice <= 0 || intent.LimitPrice >= 1 {
		return &domain.RiskRejection{Reason: domain.RejectInvalidIntent,
			Detail: fmt.Sprintf("price=%.4f size=%.2f", intent.LimitPrice, intent.Size)}
	}
	notional := intent.Notional()
	if notional > g.cfg.MaxUSDPerTrade {
		return &domain.RiskRejection{Reason: domain.RejectNotionalCap,
			Detail: fmt.Sprintf("$%.2f > $%.2f", notional, g.cfg.MaxUSDPerTrade)}
	}
	if len(g.ledger.tradeTimes) >= g.cfg.MaxTradesPerHour {
		return &domain.RiskRejection{Reason: domain.RejectHourlyTrades,
			Detail: fmt.Sprintf("%d trades in last hour", len(g.ledger.tradeTimes))}
	}
	worst := g.ledger.dailyPnL - g.ledger.openExposure - g.ledger.pendingNotional() - notional
	if worst < -g.cfg.MaxDailyLoss {
		return &domain.RiskRejection{Reason: domain.RejectDailyLoss,
			Detail: fmt.Sprintf("worst case $%.2f below -$%.2f", worst, g.cfg.MaxDailyLoss)}
	}
	if g.feedMode == domain.FeedFallback && !g.cfg.AllowFallbackTrading {
		return &domain.RiskRejection{Reason: domain.RejectFeedDegraded, Detail: "price feed on fallback"}
	}
	return nil
}

// Submit es la única vía a la colocación de órdenes. Si admite la intent la registra
// en el ledger; en dry-run devuelve el outcome ya reconciliado, en live devuelve nil
// y el outcome llega por Results().
// Una segunda admisión para el mismo contrato es un defecto y aborta.
func (g *Gateway) Submit(ctx context.Context, intent domain.Intent, now time.Time) (*domain.FillOutcome, error) {
	if err := g.Check(intent, now); err != nil {
		return nil, err
	}
	if prev, dup := g.ledger.admitted[intent.ContractID]; dup {
		panic(fmt.Sprintf("risk: second intent %s admitted for contract %s (first %s)", intent.ID, intent.ContractID, prev))
	}

	g.ledger.admitted[intent.ContractID] = intent.ID
	g.ledger.tradeTimes = append(g.ledger.tradeTimes, now)
	g.ledger.pending[intent.ID] = intent

	if g.cfg.DryRun || g.submitter == nil {
		out := g.simulate(intent, now)
		g.Reconcile(out, now)
		return &out, nil
	}

	g.wg.Add(1)
	go g.submitAsync(ctx, intent)
	return nil, nil
}

func (g *Gateway) submitAsync(ctx context.Context, intent domain.Intent) {
	defer g.wg.Done()

	// la orden ya salió: el timeout manda aunque el proceso se esté cerrando
	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.SubmitTimeout)
	defer cancel()

	out, err := g.submitter.Submit(subCtx, intent)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(subCtx.Err(), context.DeadlineExceeded):
		out = domain.FillOutcome{Status: domain.FillTimeout,
			Reason: fmt.Errorf("%w: %w", domain.ErrSubmissionTimeout, err).Error()}
	default:
		out = domain.FillOutcome{Status: domain.FillRejected,
			Reason: fmt.Errorf("%w: %w", domain.ErrSubmissionRejected, err).Error()}
	}
	out.IntentID = intent.ID
	out.ContractID = intent.ContractID
	out.Side = intent.Side
	if out.At.IsZero() {
		out.At = time.Now()
	}

	g.results <- out
}

// Wait bloquea hasta que terminan las submissions en vuelo.
func (g *Gateway) Wait() { g.wg.Wait() }

// simulate hace un fill FOK contra el último quote conocido.
func (g *Gateway) simulate(intent domain.Intent, now time.Time) domain.FillOutcome {
	out := domain.FillOutcome{
		IntentID:   intent.ID,
		ContractID: intent.ContractID,
		Side:       intent.Side,
		DryRun:     true,
		At:         now,
	}
	q, err := g.quotes.Best(intent.ContractID, intent.Token)
	switch {
	case err != nil:
		out.Status = domain.FillRejected
		out.Reason = fmt.Errorf("%w: %w", domain.ErrSubmissionRejected, err).Error()
	case !q.HasAsk() || q.BestAsk > intent.LimitPrice:
		out.Status = domain.FillRejected
		out.Reason = fmt.Sprintf("%v: ask %.4f above limit %.4f", domain.ErrSubmissionRejected, q.BestAsk, intent.LimitPrice)
	default:
		out.Status = domain.FillFilled
		out.OrderID = "dry-" + intent.ID
		out.FilledSize = intent.Size
		out.AvgPrice = q.BestAsk
		out.Fee = intent.Candidate.FeeCost * intent.Size
	}
	return out
}

// Reconcile aplica un outcome al ledger. Devuelve la intent original y false si no estaba en vuelo.
func (g *Gateway) Reconcile(out domain.FillOutcome, now time.Time) (domain.Intent, bool) {
	g.ledger.rollDay(now)
	intent, ok := g.ledger.pending[out.IntentID]
	if !ok {
		slog.Warn("risk: outcome for unknown intent", "intent", out.IntentID, "contract", out.ContractID, "status", out.Status)
		return domain.Intent{}, false
	}
	delete(g.ledger.pending, out.IntentID)

	if !out.Status.Filled() || out.FilledSize <= 0 {
		return intent, true
	}
	if out.Fee == 0 {
		out.Fee = intent.Candidate.FeeCost * out.FilledSize
	}
	cost := out.Cost()
	g.ledger.positions[intent.ContractID] = domain.Position{
		IntentID:   intent.ID,
		ContractID: intent.ContractID,
		Side:       intent.Side,
		Shares:     out.FilledSize,
		Cost:       cost,
		OpenedAt:   now,
	}
	g.ledger.openExposure += cost
	return intent, true
}

// Settle liquida la posición del contrato. Sin precio final la posición se da por perdida.
func (g *Gateway) Settle(c domain.Contract, now time.Time) (domain.Settlement, bool) {
	pos, ok := g.ledger.positions[c.ID]
	if !ok {
		return domain.Settlement{}, false
	}
	g.ledger.rollDay(now)
	delete(g.ledger.positions, c.ID)

	s := domain.Settlement{
		ContractID: c.ID,
		Side:       pos.Side,
		StartPrice: c.StartPrice,
		EndPrice:   c.EndPrice,
		Shares:     pos.Shares,
		Cost:       pos.Cost,
		SettledAt:  now,
	}
	if winner, ok := c.Winner(); ok {
		s.Winner = winner
		if winner == pos.Side {
			s.Payout = pos.Shares
		}
	}
	s.PnL = s.Payout - s.Cost
	g.ledger.dailyPnL += s.PnL
	g.ledger.releaseExposure(pos.Cost)
	return s, true
}

// Admitted reports whether an intent was already admitted for the contract.
func (g *Gateway) Admitted(contractID string) bool {
	_, ok := g.ledger.admitted[contractID]
	return ok
}

// Forget libera el registro de admisión de un contrato desalojado.
func (g *Gateway) Forget(contractID string) {
	delete(g.ledger.admitted, contractID)
}

// HasPosition reports whether the contract has an unsettled position.
func (g *Gateway) HasPosition(contractID string) bool {
	_, ok := g.ledger.positions[contractID]
	return ok
}

// Restore carga el estado persistido del día.
func (g *Gateway) Restore(st domain.RiskState, now time.Time) {
	g.ledger.rollDay(now)
	if st.Day == g.ledger.day {
		g.ledger.dailyPnL = st.DailyPnL
	}
	g.ledger.tradeTimes = append(g.ledger.tradeTimes[:0], st.TradeTimes...)
	g.ledger.pruneHour(now)
	for _, id := range st.Admitted {
		g.ledger.admitted[id] = "restored"
	}
	for _, p := range st.Open {
		g.ledger.positions[p.ContractID] = p
		g.ledger.openExposure += p.Cost
	}
}

// Snapshot devuelve una copia del estado del ledger.
func (g *Gateway) Snapshot(now time.Time) domain.LedgerSnapshot {
	return g.ledger.snapshot(now)
}
