package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hammerbot/internal/application/decision"
	"github.com/alejandrodnm/hammerbot/internal/application/risk"
	"github.com/alejandrodnm/hammerbot/internal/application/timeline"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const sym = "BTC/USD"

// contrato de 5m que empieza en S
const S int64 = 1_700_000_100

var contractID = domain.ContractSlug("btc", domain.Horizon5m, time.Unix(S, 0))

// ── fakes ──────────────────────────────────────────────────────────────────

type recTelemetry struct {
	mu     sync.Mutex
	events []domain.Event
	snaps  int
}

func (r *recTelemetry) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recTelemetry) Observe(domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps++
}

func (r *recTelemetry) kinds() map[domain.EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.EventKind]int)
	for _, ev := range r.events {
		out[ev.Kind]++
	}
	return out
}

func (r *recTelemetry) last(kind domain.EventKind) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return domain.Event{}, false
}

type memJournal struct {
	mu          sync.Mutex
	intents     []domain.Intent
	outcomes    []domain.FillOutcome
	settlements []domain.Settlement
	state       domain.RiskState
}

func (j *memJournal) SaveIntent(_ context.Context, in domain.Intent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.intents = append(j.intents, in)
	return nil
}

func (j *memJournal) SaveOutcome(_ context.Context, out domain.FillOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, out)
	return nil
}

func (j *memJournal) SaveSettlement(_ context.Context, s domain.Settlement) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.settlements = append(j.settlements, s)
	return nil
}

func (j *memJournal) LoadRiskState(context.Context, time.Time) (domain.RiskState, error) {
	return j.state, nil
}

func (j *memJournal) Close() error { return nil }

type memRecorder struct {
	records []domain.ReplayRecord
}

func (r *memRecorder) Record(rec domain.ReplayRecord) { r.records = append(r.records, rec) }

// ── harness ────────────────────────────────────────────────────────────────

type harness struct {
	t   *testing.T
	e   *Engine
	tel *recTelemetry
	j   *memJournal
	rec *memRecorder
	ctx context.Context
}

func testConfig() Config {
	return Config{
		Symbol:               sym,
		WatchReturnThreshold: 0.005,
		FeedStale:            20 * time.Second,
		FeeBps:               10,
		Timeline:             timeline.Config{Asset: "btc", Horizons: []domain.Horizon{domain.Horizon5m}},
		Decision:             decision.Config{HammerSecs: 15, DMin: 5, MaxEntryPrice: 0.97, QuoteSizeUSD: 20},
		Risk:                 risk.Config{MaxUSDPerTrade: 50, MaxTradesPerHour: 4, MaxDailyLoss: 250, DryRun: true},
	}
}

func newHarness(t *testing.T, withRecorder bool) *harness {
	t.Helper()
	h := &harness{t: t, tel: &recTelemetry{}, j: &memJournal{}, ctx: context.Background()}
	deps := Deps{
		Model:     decision.NewModel(domain.ZRelative, decision.CalibrationConfig{Method: "none"}),
		Telemetry: h.tel,
		Journal:   h.j,
	}
	if withRecorder {
		h.rec = &memRecorder{}
		deps.Recorder = h.rec
	}
	h.e = New(testConfig(), deps)
	h.e.feed = NewFeedMonitor(20*time.Second, at(S-10))
	return h
}

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// ramp: plano en 100000 hasta S+200, luego +10 por segundo.
func ramp(sec int64) float64 {
	if sec <= S+200 {
		return 100_000
	}
	return 100_000 + 10*float64(sec-(S+200))
}

func (h *harness) admit(now time.Time) {
	start := at(S)
	h.e.onContract(h.ctx, contractMsg{slug: contractID, meta: domain.ContractMeta{
		Slug: contractID, UpToken: "up", DownToken: "down",
		Start: start, End: start.Add(5 * time.Minute), TickSize: 0.001,
	}}, now)
}

func (h *harness) book(token string, bid, ask float64, now time.Time) {
	h.e.onBook(h.ctx, domain.BookUpdate{Token: token, Book: domain.OrderBook{
		TokenID: token,
		Bids:    []domain.BookEntry{{Price: bid, Size: 100}},
		Asks:    []domain.BookEntry{{Price: ask + 0.05, Size: 50}, {Price: ask, Size: 100}},
	}}, now)
}

func (h *harness) drive(from, to int64, src domain.FeedMode) {
	for sec := from; sec <= to; sec++ {
		now := at(sec)
		h.e.onClock(h.ctx, now)
		h.e.onTick(h.ctx, domain.PriceTick{Symbol: sym, Timestamp: now, Price: ramp(sec), Source: src}, now)
	}
}

// ── tests ──────────────────────────────────────────────────────────────────

func TestFeedMonitor_StaleThenRecovered(t *testing.T) {
	t0 := at(S)
	m := NewFeedMonitor(20*time.Second, t0)

	mode, changed, _ := m.Check(t0.Add(10 * time.Second))
	assert.Equal(t, domain.FeedPrimary, mode)
	assert.False(t, changed)

	mode, changed, age := m.Check(t0.Add(30 * time.Second))
	assert.Equal(t, domain.FeedFallback, mode)
	assert.True(t, changed)
	assert.Equal(t, 30*time.Second, age)

	_, changed, _ = m.Check(t0.Add(31 * time.Second))
	assert.False(t, changed, "still degraded is not a new transition")

	m.Observe(t0.Add(32 * time.Second))
	mode, changed, _ = m.Check(t0.Add(33 * time.Second))
	assert.Equal(t, domain.FeedPrimary, mode)
	assert.True(t, changed)
}

func TestEngine_FullContractLifecycle(t *testing.T) {
	h := newHarness(t, true)
	h.admit(at(S - 10))
	h.book("up", 0.89, 0.90, at(S-10))
	h.book("down", 0.09, 0.12, at(S-10))

	h.drive(S-10, S+301, domain.FeedPrimary)

	st := h.e.Stats()
	assert.Equal(t, 1, st.Contracts)
	assert.Equal(t, 1, st.Intents)
	assert.Equal(t, 1, st.Fills)
	assert.Equal(t, 1, st.Settlements)
	// 22.2 shares a 0.90 + fee 10bps; UP gana (101000 > 100000)
	assert.InDelta(t, 22.2-(0.90*22.2+0.0009*22.2), st.PnL, 1e-6)

	s, ok := h.e.machine.State(contractID)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDone, s.Phase)
	assert.True(t, s.Decided)

	kinds := h.tel.kinds()
	assert.Equal(t, 1, kinds[domain.EventStartPriceCapture])
	assert.Equal(t, 1, kinds[domain.EventWatchTriggered])
	assert.Equal(t, 1, kinds[domain.EventIntentAdmitted])
	assert.Equal(t, 1, kinds[domain.EventFillOutcome])
	assert.Equal(t, 1, kinds[domain.EventSettlement])
	assert.Zero(t, kinds[domain.EventIntentRejected])
	assert.Positive(t, h.tel.snaps)

	admitted, _ := h.tel.last(domain.EventIntentAdmitted)
	assert.Equal(t, "UP", admitted.Fields["side"])
	assert.Equal(t, 0.90, admitted.Fields["limit"])

	h.e.flushPersist(h.ctx)
	assert.Len(t, h.j.intents, 1)
	require.Len(t, h.j.outcomes, 1)
	assert.Equal(t, domain.FillFilled, h.j.outcomes[0].Status)
	require.Len(t, h.j.settlements, 1)
	assert.Equal(t, domain.SideUp, h.j.settlements[0].Winner)

	snap := h.e.Snapshot(at(S + 301))
	assert.Zero(t, snap.Ledger.OpenExposure)
	assert.Equal(t, 1, snap.Ledger.TradesLastHour)
	assert.Equal(t, domain.FeedPrimary, snap.FeedMode)
	assert.False(t, snap.ReducedConfidence)
}

func TestEngine_FutureTickDoesNotPoisonWindow(t *testing.T) {
	h := newHarness(t, false)
	h.drive(S-70, S-10, domain.FeedPrimary)
	lastArrival := h.e.feed.lastPrimary

	now := at(S - 9)
	h.e.onTick(h.ctx, domain.PriceTick{Symbol: sym, Timestamp: now.Add(24 * time.Hour), Price: 120_000, Source: domain.FeedPrimary}, now)
	assert.Equal(t, lastArrival, h.e.feed.lastPrimary, "a future-dated tick does not refresh liveness")
	_, last, _ := h.e.ticks.LastPrice(sym)
	assert.Equal(t, at(S-10), last)

	// ticks reales siguen entrando y la ventana no ve el salto
	h.drive(S-8, S-8, domain.FeedPrimary)
	p, last, ok := h.e.ticks.LastPrice(sym)
	require.True(t, ok)
	assert.Equal(t, at(S-8), last)
	assert.Equal(t, 100_000.0, p)
	r, err := h.e.ticks.WatchReturn(sym)
	require.NoError(t, err)
	assert.Zero(t, r)

	// un adelanto pequeño dentro del margen se acepta
	now = at(S - 7)
	h.e.onTick(h.ctx, domain.PriceTick{Symbol: sym, Timestamp: now.Add(2 * time.Second), Price: 100_000, Source: domain.FeedPrimary}, now)
	_, last, _ = h.e.ticks.LastPrice(sym)
	assert.Equal(t, at(S-5), last)
}

func TestEngine_FullJournalQueueKeepsIntentsAndSettlements(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i < cap(h.e.persistCh); i++ {
		h.e.persistCh <- func(context.Context) error { return nil }
	}

	h.admit(at(S - 10))
	h.book("up", 0.89, 0.90, at(S-10))
	h.book("down", 0.09, 0.12, at(S-10))
	h.drive(S-10, S+301, domain.FeedPrimary)

	require.Equal(t, 1, h.e.Stats().Intents)
	assert.Len(t, h.j.intents, 1, "written inline when the queue is full")
	assert.Len(t, h.j.settlements, 1)
	assert.Empty(t, h.j.outcomes, "outcomes are dropped on a full queue")
}

func TestEngine_DegradedFeedRejectsIntent(t *testing.T) {
	h := newHarness(t, false)
	h.admit(at(S - 10))
	h.book("up", 0.89, 0.90, at(S-10))

	h.drive(S-10, S+250, domain.FeedPrimary)
	// el primario se calla 21s > 20s; el fallback toma el relevo
	h.drive(S+271, S+290, domain.FeedFallback)

	assert.Equal(t, domain.FeedFallback, h.e.gateway.FeedMode())
	st := h.e.Stats()
	assert.Zero(t, st.Intents)
	assert.Equal(t, 1, st.Rejections)

	ev, ok := h.tel.last(domain.EventIntentRejected)
	require.True(t, ok)
	assert.Equal(t, string(domain.RejectFeedDegraded), ev.Fields["reason"])

	mode, ok := h.tel.last(domain.EventFeedMode)
	require.True(t, ok)
	assert.Equal(t, "fallback", mode.Fields["mode"])
	assert.Equal(t, true, mode.Fields["reduced_confidence"])

	snap := h.e.Snapshot(at(S + 290))
	assert.Equal(t, domain.FeedFallback, snap.FeedMode)
	assert.True(t, snap.ReducedConfidence)

	s, _ := h.e.machine.State(contractID)
	assert.Equal(t, domain.PhaseDone, s.Phase, "a rejected intent still ends the contract")
}

func TestEngine_FeedSourceGating(t *testing.T) {
	h := newHarness(t, false)
	t0 := at(S)

	h.e.onTick(h.ctx, domain.PriceTick{Symbol: sym, Timestamp: t0, Price: 100, Source: domain.FeedFallback}, t0)
	assert.Zero(t, h.e.ticks.Len(sym), "fallback ticks are dropped in primary mode")

	h.e.onClock(h.ctx, at(S+20))
	assert.Equal(t, domain.FeedFallback, h.e.feed.Mode())

	h.e.onTick(h.ctx, domain.PriceTick{Symbol: sym, Timestamp: at(S + 20), Price: 100, Source: domain.FeedPrimary}, at(S+20))
	assert.Zero(t, h.e.ticks.Len(sym), "primary ticks only refresh liveness while degraded")

	h.e.onClock(h.ctx, at(S+21))
	assert.Equal(t, domain.FeedPrimary, h.e.feed.Mode())
	assert.Equal(t, domain.FeedPrimary, h.e.gateway.FeedMode())
	assert.Equal(t, 2, h.tel.kinds()[domain.EventFeedMode])

	select {
	case mode := <-h.e.fallbackCh:
		assert.Equal(t, domain.FeedPrimary, mode, "only the latest request is kept")
	default:
		t.Fatal("expected a fallback signal")
	}
}

func TestEngine_EvictionBooksUnsettledPositionAsLoss(t *testing.T) {
	h := newHarness(t, false)
	h.e.gateway.Restore(domain.RiskState{
		Day:      domain.DayKey(at(S)),
		Admitted: []string{contractID},
		Open:     []domain.Position{{ContractID: contractID, Side: domain.SideUp, Shares: 10, Cost: 9}},
	}, at(S-10))
	h.admit(at(S - 10))

	s, ok := h.e.machine.State(contractID)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDone, s.Phase, "already admitted before restart")

	h.e.onClock(h.ctx, at(S+600))

	st := h.e.Stats()
	assert.Equal(t, 1, st.Settlements)
	assert.InDelta(t, -9, st.PnL, 1e-12)
	assert.Zero(t, h.e.machine.Len())
	assert.False(t, h.e.gateway.HasPosition(contractID))
	assert.Equal(t, 1, h.tel.kinds()[domain.EventContractInvalid])
}

func TestEngine_ResolutionFailureIsReported(t *testing.T) {
	h := newHarness(t, false)
	h.e.onContract(h.ctx, contractMsg{slug: "btc-updown-5m-1700000100", err: errors.New("404")}, at(S))
	h.e.onContract(h.ctx, contractMsg{slug: "eth-updown-5m-1700000100", meta: domain.ContractMeta{
		Slug: "eth-updown-5m-1700000100", UpToken: "a", DownToken: "b",
	}}, at(S))

	assert.Equal(t, 2, h.tel.kinds()[domain.EventResolutionFailed])
	assert.Zero(t, h.e.Stats().Contracts)
}

func TestEngine_ReplayReproducesSession(t *testing.T) {
	live := newHarness(t, true)
	live.admit(at(S - 10))
	live.book("up", 0.89, 0.90, at(S-10))
	live.book("down", 0.09, 0.12, at(S-10))
	live.drive(S-10, S+301, domain.FeedPrimary)
	require.NotEmpty(t, live.rec.records)

	replay := newHarness(t, false)
	st, err := replay.e.Replay(context.Background(), live.rec.records)
	require.NoError(t, err)

	want := live.e.Stats()
	assert.Equal(t, want.Intents, st.Intents)
	assert.Equal(t, want.Settlements, st.Settlements)
	assert.InDelta(t, want.PnL, st.PnL, 1e-9)
	assert.Len(t, replay.j.settlements, 1)
}

func TestEngine_ReplayRequiresDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.DryRun = false
	e := New(cfg, Deps{Model: domain.NormalModel{}, Submitter: nopSubmitter{}})
	_, err := e.Replay(context.Background(), nil)
	assert.Error(t, err)
}

type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, domain.Intent) (domain.FillOutcome, error) {
	return domain.FillOutcome{}, nil
}

// ── Run ────────────────────────────────────────────────────────────────────

type idleStream struct{}

func (idleStream) Stream(ctx context.Context, _ chan<- domain.PriceTick) error {
	<-ctx.Done()
	return nil
}

type failingStream struct{}

func (failingStream) Stream(context.Context, chan<- domain.PriceTick) error {
	return errors.New("dial failed")
}

type fakeBooks struct {
	mu     sync.Mutex
	tokens []string
}

func (f *fakeBooks) Stream(ctx context.Context, _ chan<- domain.BookUpdate) error {
	<-ctx.Done()
	return nil
}

func (f *fakeBooks) SetTokens(tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = tokens
}

func (f *fakeBooks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeResolver struct {
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, slug string) (domain.ContractMeta, error) {
	r.calls.Add(1)
	_, h, start, err := domain.ParseContractSlug(slug)
	if err != nil {
		return domain.ContractMeta{}, err
	}
	return domain.ContractMeta{
		Slug: slug, UpToken: slug + "-up", DownToken: slug + "-down",
		Start: start, End: start.Add(h.Duration()),
	}, nil
}

func TestRun_WiresProducersAndStops(t *testing.T) {
	cfg := testConfig()
	cfg.ClockInterval = 10 * time.Millisecond
	books := &fakeBooks{}
	resolver := &fakeResolver{}
	e := New(cfg, Deps{
		Model:    domain.NormalModel{},
		Primary:  idleStream{},
		Fallback: idleStream{},
		Books:    books,
		Resolver: resolver,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// contrato en curso + siguiente del horizonte de 5m
	require.Eventually(t, func() bool { return books.count() == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), resolver.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

type flakyStream struct {
	calls atomic.Int32
}

// la primera llamada falla al instante; las siguientes bloquean hasta cancelar
func (f *flakyStream) Stream(ctx context.Context, _ chan<- domain.PriceTick) error {
	if f.calls.Add(1) == 1 {
		return errors.New("poll failed")
	}
	<-ctx.Done()
	return nil
}

func TestRunFallback_RestartsStreamThatExits(t *testing.T) {
	fb := &flakyStream{}
	e := New(testConfig(), Deps{Model: domain.NormalModel{}, Fallback: fb})
	e.fallbackRetry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.runFallback(ctx) }()

	e.signalFallback(domain.FeedFallback)
	require.Eventually(t, func() bool { return fb.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	e.signalFallback(domain.FeedPrimary)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), fb.calls.Load(), "no restarts once back on primary")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runFallback did not stop")
	}
}

func TestRun_PrimaryFailureStopsEngine(t *testing.T) {
	e := New(testConfig(), Deps{Model: domain.NormalModel{}, Primary: failingStream{}})
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary feed")
}
