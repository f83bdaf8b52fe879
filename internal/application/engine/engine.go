package engine

// engine.go: pipeline de un solo consumidor.
//
// Los productores (stream primario, poller de fallback, stream de books, resolver
// de contratos) escriben en canales acotados; un único consumidor es dueño del tick
// buffer, la quote cache, el registry, el state machine y el ledger, y los muta
// sin locks. La submission de órdenes es la única espera externa y corre fuera
// del consumidor; su resultado vuelve por gateway.Results().

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/hammerbot/internal/application/decision"
	"github.com/alejandrodnm/hammerbot/internal/application/fees"
	"github.com/alejandrodnm/hammerbot/internal/application/quotes"
	"github.com/alejandrodnm/hammerbot/internal/application/risk"
	"github.com/alejandrodnm/hammerbot/internal/application/ticks"
	"github.com/alejandrodnm/hammerbot/internal/application/timeline"
	"github.com/alejandrodnm/hammerbot/internal/domain"
	"github.com/alejandrodnm/hammerbot/internal/ports"
)

const (
	defaultWatchThreshold   = 0.005
	defaultFeedStale        = 10 * time.Second
	defaultResolveInterval  = 30 * time.Second
	defaultClockInterval    = 250 * time.Millisecond
	defaultSnapshotInterval = time.Second
	defaultChannelSize      = 1024
	persistQueueSize        = 256
	persistTimeout          = 5 * time.Second
	fallbackRestartDelay    = time.Second

	// maxTickSkew acota cuánto puede adelantarse el timestamp de un tick a su llegada.
	maxTickSkew = 5 * time.Second
)

// Config reúne la configuración del motor y de sus componentes.
type Config struct {
	Symbol               string
	WatchReturnThreshold float64
	FeedStale            time.Duration
	FeeBps               float64
	ResolveInterval      time.Duration
	ClockInterval        time.Duration
	SnapshotInterval     time.Duration
	ChannelSize          int

	Timeline timeline.Config
	Decision decision.Config
	Risk     risk.Config
}

// Deps son los colaboradores externos. Solo Model es obligatorio; el resto puede ser nil
// (p.ej. en replay no hay streams ni resolver).
type Deps struct {
	Model     domain.ProbabilityModel
	Primary   ports.PriceStream
	Fallback  ports.PriceStream
	Books     ports.BookStream
	Resolver  ports.MarketResolver
	Submitter ports.OrderSubmitter
	Fees      *fees.Cache
	Journal   ports.Journal
	Recorder  ports.Recorder
	Telemetry ports.Telemetry
	Snapshots ports.SnapshotSink
}

type contractMsg struct {
	slug string
	meta domain.ContractMeta
	err  error
}

// Engine es el consumidor del pipeline.
type Engine struct {
	cfg  Config
	deps Deps

	ticks    *ticks.Buffer
	quotes   *quotes.Cache
	registry *timeline.Registry
	machine  *decision.Machine
	gateway  *risk.Gateway
	fees     *fees.Cache
	feed     *FeedMonitor

	tickCh     chan domain.PriceTick
	bookCh     chan domain.BookUpdate
	contractCh chan contractMsg
	fallbackCh chan domain.FeedMode
	snapCh     chan domain.Snapshot
	persistCh  chan func(context.Context) error

	now           func() time.Time
	fallbackRetry time.Duration
	lastSnapshot  time.Time
	replaying     bool
	stats         Stats
}

// Stats cuenta lo que procesó el consumidor.
type Stats struct {
	Ticks       int
	Books       int
	Contracts   int
	Intents     int
	Rejections  int
	Fills       int
	Settlements int
	PnL         float64
}

// New construye el motor y sus componentes.
func New(cfg Config, deps Deps) *Engine {
	if cfg.WatchReturnThreshold <= 0 {
		cfg.WatchReturnThreshold = defaultWatchThreshold
	}
	if cfg.FeedStale <= 0 {
		cfg.FeedStale = defaultFeedStale
	}
	if cfg.ResolveInterval <= 0 {
		cfg.ResolveInterval = defaultResolveInterval
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = defaultClockInterval
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = defaultChannelSize
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTC/USD"
	}
	cfg.Timeline.Symbol = cfg.Symbol
	if cfg.Timeline.Asset == "" {
		cfg.Timeline.Asset = "btc"
	}
	if len(cfg.Timeline.Horizons) == 0 {
		cfg.Timeline.Horizons = domain.Horizons
	}
	if deps.Telemetry == nil {
		deps.Telemetry = nopTelemetry{}
	}
	feeCache := deps.Fees
	if feeCache == nil {
		feeCache = fees.New(nil, 0, cfg.FeeBps)
	}

	buf := ticks.New()
	qc := quotes.New()
	e := &Engine{
		cfg:           cfg,
		deps:          deps,
		ticks:         buf,
		quotes:        qc,
		registry:      timeline.New(cfg.Timeline),
		machine:       decision.New(cfg.Decision, deps.Model, buf, qc, feeCache),
		gateway:       risk.New(cfg.Risk, deps.Submitter, qc),
		fees:          feeCache,
		tickCh:        make(chan domain.PriceTick, cfg.ChannelSize),
		bookCh:        make(chan domain.BookUpdate, cfg.ChannelSize),
		contractCh:    make(chan contractMsg, 64),
		fallbackCh:    make(chan domain.FeedMode, 1),
		snapCh:        make(chan domain.Snapshot, 1),
		persistCh:     make(chan func(context.Context) error, persistQueueSize),
		now:           time.Now,
		fallbackRetry: fallbackRestartDelay,
	}
	e.feed = NewFeedMonitor(cfg.FeedStale, e.now())
	return e
}

// Restore carga en el ledger el estado persistido del día.
func (e *Engine) Restore(ctx context.Context) error {
	if e.deps.Journal == nil {
		return nil
	}
	now := e.now()
	st, err := e.deps.Journal.LoadRiskState(ctx, now)
	if err != nil {
		return fmt.Errorf("engine.Restore: %w", err)
	}
	e.gateway.Restore(st, now)
	slog.Info("engine: risk state restored",
		"day", st.Day,
		"daily_pnl", fmt.Sprintf("$%.2f", st.DailyPnL),
		"trades_last_hour", len(st.TradeTimes),
		"admitted", len(st.Admitted),
		"open_positions", len(st.Open),
	)
	return nil
}

// Stats devuelve los contadores del consumidor.
func (e *Engine) Stats() Stats { return e.stats }

// Run arranca productores y consumidor y bloquea hasta que ctx se cancela o un
// productor falla de forma irrecuperable.
func (e *Engine) Run(ctx context.Context) error {
	e.feed = NewFeedMonitor(e.cfg.FeedStale, e.now())
	g, gctx := errgroup.WithContext(ctx)

	if e.deps.Primary != nil {
		g.Go(func() error {
			if err := e.deps.Primary.Stream(gctx, e.tickCh); err != nil {
				return fmt.Errorf("engine.Run: primary feed: %w", err)
			}
			return nil
		})
	}
	if e.deps.Fallback != nil {
		g.Go(func() error { return e.runFallback(gctx) })
	}
	if e.deps.Books != nil {
		g.Go(func() error {
			if err := e.deps.Books.Stream(gctx, e.bookCh); err != nil {
				return fmt.Errorf("engine.Run: book stream: %w", err)
			}
			return nil
		})
	}
	if e.deps.Resolver != nil {
		g.Go(func() error { return e.runResolver(gctx) })
	}
	if e.deps.Fees != nil {
		g.Go(func() error { return e.deps.Fees.Run(gctx) })
	}
	g.Go(func() error { return e.runPersist(gctx) })
	g.Go(func() error { return e.runSnapshots(gctx) })
	g.Go(func() error { return e.consume(gctx) })

	err := g.Wait()
	e.drainResults()
	return err
}

func (e *Engine) consume(ctx context.Context) error {
	clock := time.NewTicker(e.cfg.ClockInterval)
	defer clock.Stop()

	slog.Info("engine: consumer started",
		"symbol", e.cfg.Symbol,
		"dry_run", e.gateway.DryRun(),
		"watch_threshold", e.cfg.WatchReturnThreshold,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: consumer stopped", "ticks", e.stats.Ticks, "intents", e.stats.Intents)
			return nil
		case t := <-e.tickCh:
			e.onTick(ctx, t, e.now())
		case b := <-e.bookCh:
			e.onBook(ctx, b, e.now())
		case m := <-e.contractCh:
			e.onContract(ctx, m, e.now())
		case out := <-e.gateway.Results():
			e.onOutcome(ctx, out, e.now())
		case <-clock.C:
			e.onClock(ctx, e.now())
		}
	}
}

// drainResults espera las submissions en vuelo tras parar el consumidor y persiste sus resultados.
func (e *Engine) drainResults() {
	done := make(chan struct{})
	go func() {
		e.gateway.Wait()
		close(done)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for {
		select {
		case out := <-e.gateway.Results():
			e.onOutcome(ctx, out, e.now())
			e.flushPersist(ctx)
		case <-done:
			for {
				select {
				case out := <-e.gateway.Results():
					e.onOutcome(ctx, out, e.now())
				default:
					e.flushPersist(ctx)
					return
				}
			}
		}
	}
}

// ── handlers (solo los llama el consumidor) ────────────────────────────────

func (e *Engine) onTick(ctx context.Context, t domain.PriceTick, now time.Time) {
	e.record(domain.StreamTick, t, now)
	if t.Symbol != e.cfg.Symbol {
		return
	}
	if t.Timestamp.After(now.Add(maxTickSkew)) {
		// no cuenta como liveness ni entra en la ventana
		slog.Warn("engine: tick from the future dropped", "ts", t.Timestamp, "now", now, "source", t.Source)
		return
	}
	switch t.Source {
	case domain.FeedFallback:
		if e.feed.Mode() != domain.FeedFallback {
			return
		}
	default:
		e.feed.Observe(now)
		if e.feed.Mode() == domain.FeedFallback {
			// el primario solo refresca liveness hasta declarar la recuperación
			return
		}
	}

	if err := e.ticks.Ingest(t); err != nil {
		slog.Debug("engine: tick rejected", "ts", t.Timestamp, "price", t.Price, "err", err)
		return
	}
	e.stats.Ticks++

	res := e.registry.ObserveTick(t)
	for _, c := range res.Started {
		e.emit(domain.EventStartPriceCapture, c.ID, now, "start_price", c.StartPrice, "tick_ts", c.StartPriceAt)
		slog.Info("engine: start price captured", "contract", c.ID, "price", c.StartPrice)
	}
	for _, c := range res.Invalid {
		e.invalidate(ctx, c, now)
	}
	for _, c := range res.Ended {
		e.settle(ctx, c, now)
	}

	triggered, ret, err := e.ticks.Triggered(e.cfg.Symbol, e.cfg.WatchReturnThreshold)
	if err == nil && triggered {
		for _, tr := range e.machine.OnWatchTrigger(e.registry.ActiveContracts(), now) {
			e.emit(domain.EventWatchTriggered, tr.ContractID, now, "watch_return", ret)
			e.transition(tr)
		}
	}
	e.stepAll(ctx, now)
}

func (e *Engine) onBook(ctx context.Context, b domain.BookUpdate, now time.Time) {
	e.record(domain.StreamBook, b, now)
	c, ok := e.registry.ContractForToken(b.Token)
	if !ok {
		return
	}
	e.stats.Books++
	at := b.ObservedAt
	if at.IsZero() {
		at = now
	}
	e.quotes.Update(c.ID, b.Token, b.Book.BestBid(), b.Book.BestAsk(), at)
	e.step(ctx, c, now)
}

func (e *Engine) onContract(_ context.Context, m contractMsg, now time.Time) {
	if m.err != nil {
		e.emit(domain.EventResolutionFailed, m.slug, now, "err", m.err.Error())
		slog.Warn("engine: contract resolution failed, retrying on next refresh", "slug", m.slug, "err", m.err)
		return
	}
	e.record(domain.StreamContract, m.meta, now)
	c, added, err := e.registry.Admit(m.meta, now)
	if err != nil {
		e.emit(domain.EventResolutionFailed, m.meta.Slug, now, "err", err.Error())
		slog.Warn("engine: contract rejected", "slug", m.meta.Slug, "err", err)
		return
	}
	if !added {
		return
	}
	e.stats.Contracts++
	e.machine.Track(c.ID)
	if e.gateway.Admitted(c.ID) {
		if tr, ok := e.machine.Finish(c.ID, now); ok {
			e.transition(tr)
		}
	}
	slog.Info("engine: contract active",
		"contract", c.ID,
		"horizon", c.Horizon.String(),
		"start", c.Start.Format(time.TimeOnly),
		"end", c.End.Format(time.TimeOnly),
	)
	e.syncTokens()
}

func (e *Engine) onOutcome(ctx context.Context, out domain.FillOutcome, now time.Time) {
	if _, ok := e.gateway.Reconcile(out, now); !ok {
		return
	}
	e.reportOutcome(out, now)
	if c, ok := e.registry.Get(out.ContractID); ok && c.EndPriceSet {
		e.settle(ctx, c, now)
	}
}

func (e *Engine) onClock(ctx context.Context, now time.Time) {
	if mode, changed, age := e.feed.Check(now); changed {
		e.gateway.SetFeedMode(mode)
		e.signalFallback(mode)
		e.emit(domain.EventFeedMode, "", now, "mode", string(mode), "staleness_s", age.Seconds(),
			"reduced_confidence", mode.ReducedConfidence())
		if mode == domain.FeedFallback {
			slog.Warn("feed: primary stale, entering fallback", "staleness", age.Round(time.Millisecond))
		} else {
			slog.Info("feed: primary fresh again, back to primary", "staleness", age.Round(time.Millisecond))
		}
	}

	tr := e.registry.Advance(now)
	for _, c := range tr.Invalidated {
		e.invalidate(ctx, c, now)
	}
	for _, c := range tr.Expired {
		e.step(ctx, c, now)
	}
	if len(tr.Evicted) > 0 {
		for _, c := range tr.Evicted {
			e.evict(ctx, c, now)
		}
		e.syncTokens()
	}
	e.stepAll(ctx, now)

	if now.Sub(e.lastSnapshot) >= e.cfg.SnapshotInterval {
		e.lastSnapshot = now
		e.publish(e.Snapshot(now))
	}
}

func (e *Engine) stepAll(ctx context.Context, now time.Time) {
	for _, c := range e.registry.ActiveContracts() {
		e.step(ctx, c, now)
	}
}

func (e *Engine) step(ctx context.Context, c domain.Contract, now time.Time) {
	res := e.machine.Step(c, now)
	for _, tr := range res.Transitions {
		e.transition(tr)
	}
	if ev := res.Evaluation; ev != nil && ev.Best != nil {
		b := ev.Best
		e.emit(domain.EventCandidate, c.ID, now,
			"side", string(b.Side), "d", b.D, "sigma1", b.Sigma1, "p_hat", b.PHat,
			"ask", b.Ask, "fee_cost", b.FeeCost, "ev", b.EV, "secs_left", b.SecsLeft)
	}
	if res.Intent != nil {
		e.submit(ctx, *res.Intent, now)
	}
}

func (e *Engine) submit(ctx context.Context, intent domain.Intent, now time.Time) {
	out, err := e.gateway.Submit(ctx, intent, now)
	if err != nil {
		e.stats.Rejections++
		reason := err.Error()
		var rr *domain.RiskRejection
		if errors.As(err, &rr) {
			reason = string(rr.Reason)
		}
		e.emit(domain.EventIntentRejected, intent.ContractID, now, "intent", intent.ID, "reason", reason, "detail", err.Error())
		slog.Warn("risk: intent rejected", "contract", intent.ContractID, "side", intent.Side, "reason", reason, "err", err)
		return
	}

	e.stats.Intents++
	e.emit(domain.EventIntentAdmitted, intent.ContractID, now,
		"intent", intent.ID, "side", string(intent.Side), "limit", intent.LimitPrice,
		"size", intent.Size, "ev", intent.Candidate.EV, "p_hat", intent.Candidate.PHat)
	slog.Info("engine: intent admitted",
		"contract", intent.ContractID,
		"side", intent.Side,
		"limit", intent.LimitPrice,
		"size", intent.Size,
		"notional", fmt.Sprintf("$%.2f", intent.Notional()),
		"ev", fmt.Sprintf("%.4f", intent.Candidate.EV),
		"dry_run", e.gateway.DryRun(),
	)
	if e.deps.Journal != nil {
		e.persistDurable(ctx, func(ctx context.Context) error { return e.deps.Journal.SaveIntent(ctx, intent) })
	}
	if out != nil {
		e.reportOutcome(*out, now)
		if c, ok := e.registry.Get(out.ContractID); ok && c.EndPriceSet {
			e.settle(ctx, c, now)
		}
	}
}

func (e *Engine) reportOutcome(out domain.FillOutcome, now time.Time) {
	if out.Status.Filled() {
		e.stats.Fills++
	}
	e.emit(domain.EventFillOutcome, out.ContractID, now,
		"intent", out.IntentID, "status", string(out.Status), "filled", out.FilledSize,
		"avg_price", out.AvgPrice, "fee", out.Fee, "reason", out.Reason, "dry_run", out.DryRun)
	lvl := slog.LevelInfo
	if !out.Status.Filled() {
		lvl = slog.LevelWarn
	}
	slog.Log(context.Background(), lvl, "engine: fill outcome",
		"contract", out.ContractID,
		"status", out.Status,
		"filled", out.FilledSize,
		"avg_price", out.AvgPrice,
		"reason", out.Reason,
	)
	if e.deps.Journal != nil {
		e.persist(func(ctx context.Context) error { return e.deps.Journal.SaveOutcome(ctx, out) })
	}
}

func (e *Engine) settle(ctx context.Context, c domain.Contract, now time.Time) {
	s, ok := e.gateway.Settle(c, now)
	if !ok {
		return
	}
	e.stats.Settlements++
	e.stats.PnL += s.PnL
	e.emit(domain.EventSettlement, c.ID, now,
		"side", string(s.Side), "winner", string(s.Winner), "shares", s.Shares,
		"cost", s.Cost, "payout", s.Payout, "pnl", s.PnL)
	slog.Info("engine: position settled",
		"contract", c.ID,
		"side", s.Side,
		"winner", s.Winner,
		"start", s.StartPrice,
		"end", s.EndPrice,
		"pnl", fmt.Sprintf("$%.2f", s.PnL),
	)
	if e.deps.Journal != nil {
		e.persistDurable(ctx, func(ctx context.Context) error { return e.deps.Journal.SaveSettlement(ctx, s) })
	}
}

func (e *Engine) invalidate(ctx context.Context, c domain.Contract, now time.Time) {
	e.emit(domain.EventContractInvalid, c.ID, now, "start", c.Start)
	slog.Warn("engine: contract invalid, no start price within tolerance", "contract", c.ID)
	e.step(ctx, c, now)
}

func (e *Engine) evict(ctx context.Context, c domain.Contract, now time.Time) {
	if e.gateway.HasPosition(c.ID) {
		if !c.EndPriceSet {
			slog.Warn("engine: evicting unsettled position, booking as loss", "contract", c.ID)
		}
		e.settle(ctx, c, now)
	}
	e.machine.Forget(c.ID)
	e.quotes.Remove(c.ID)
	e.gateway.Forget(c.ID)
	slog.Debug("engine: contract evicted", "contract", c.ID)
}

func (e *Engine) transition(tr decision.Transition) {
	e.emit(domain.EventPhaseChanged, tr.ContractID, tr.At, "from", tr.From.String(), "to", tr.To.String())
	slog.Debug("engine: phase changed", "contract", tr.ContractID, "from", tr.From, "to", tr.To)
}

func (e *Engine) syncTokens() {
	if e.deps.Books != nil {
		e.deps.Books.SetTokens(e.registry.Tokens())
	}
}

func (e *Engine) emit(kind domain.EventKind, contractID string, at time.Time, kv ...any) {
	e.deps.Telemetry.Emit(domain.NewEvent(kind, contractID, at, kv...))
}

// signalFallback deja en el canal solo el último modo pedido.
func (e *Engine) signalFallback(mode domain.FeedMode) {
	select {
	case <-e.fallbackCh:
	default:
	}
	select {
	case e.fallbackCh <- mode:
	default:
	}
}

// ── snapshots ──────────────────────────────────────────────────────────────

// Snapshot construye una copia del estado del motor. Solo desde el consumidor.
func (e *Engine) Snapshot(now time.Time) domain.Snapshot {
	mode := e.feed.Mode()
	snap := domain.Snapshot{
		At:                now,
		Symbol:            e.cfg.Symbol,
		FeedMode:          mode,
		ReducedConfidence: mode.ReducedConfidence(),
		Ledger:            e.gateway.Snapshot(now),
	}
	if p, _, ok := e.ticks.LastPrice(e.cfg.Symbol); ok {
		snap.LastPrice = p
	}
	if r, err := e.ticks.WatchReturn(e.cfg.Symbol); err == nil {
		snap.WatchReturn = r
	}
	if s, err := e.ticks.RealizedSigma1(e.cfg.Symbol); err == nil {
		snap.Sigma1 = s
	}
	for _, c := range e.registry.ActiveContracts() {
		cs := domain.ContractSnapshot{
			ID:         c.ID,
			Horizon:    c.Horizon.String(),
			Start:      c.Start,
			End:        c.End,
			StartPrice: c.StartPrice,
		}
		if st, ok := e.machine.State(c.ID); ok {
			cs.Phase = st.Phase.String()
			cs.Decided = st.Decided
			if st.Last != nil {
				cs.LastEV = st.Last.EV
			}
		}
		if q, err := e.quotes.Best(c.ID, c.UpToken); err == nil {
			cs.UpAsk = q.BestAsk
		}
		if q, err := e.quotes.Best(c.ID, c.DownToken); err == nil {
			cs.DownAsk = q.BestAsk
		}
		snap.Contracts = append(snap.Contracts, cs)
	}
	return snap
}

func (e *Engine) publish(snap domain.Snapshot) {
	e.deps.Telemetry.Observe(snap)
	if e.deps.Snapshots == nil {
		return
	}
	select {
	case <-e.snapCh:
	default:
	}
	select {
	case e.snapCh <- snap:
	default:
	}
}

func (e *Engine) runSnapshots(ctx context.Context) error {
	if e.deps.Snapshots == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-e.snapCh:
			pctx, cancel := context.WithTimeout(ctx, persistTimeout)
			if err := e.deps.Snapshots.Publish(pctx, snap); err != nil {
				slog.Debug("engine: snapshot publish failed", "err", err)
			}
			cancel()
		}
	}
}

type nopTelemetry struct{}

func (nopTelemetry) Emit(domain.Event)       {}
func (nopTelemetry) Observe(domain.Snapshot) {}
