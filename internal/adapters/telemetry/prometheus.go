package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const namespace = "hammerbot"

// Prometheus implementa ports.Telemetry sobre un registry propio.
// Todas las operaciones son atómicas: Emit y Observe no bloquean.
type Prometheus struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	fills       *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	candidateEV prometheus.Histogram
	filledUSD   prometheus.Counter

	lastPrice       prometheus.Gauge
	sigma1          prometheus.Gauge
	watchReturn     prometheus.Gauge
	fallback        prometheus.Gauge
	dailyPnL        prometheus.Gauge
	openExposure    prometheus.Gauge
	pendingNotional prometheus.Gauge
	tradesLastHour  prometheus.Gauge
	positions       prometheus.Gauge
	contracts       *prometheus.GaugeVec
}

// NewPrometheus crea y registra las métricas.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	p := &Prometheus{
		registry: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Engine events by kind"},
			[]string{"kind"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "fill_outcomes_total", Help: "Submission outcomes by status"},
			[]string{"status", "dry_run"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "risk_rejections_total", Help: "Intents rejected by the risk gateway"},
			[]string{"reason"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Settled positions by result"},
			[]string{"result"},
		),
		candidateEV: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_ev",
			Help:      "Expected value per share of evaluated candidates",
			Buckets:   []float64{-0.1, -0.05, -0.02, 0, 0.005, 0.01, 0.02, 0.05, 0.1},
		}),
		filledUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "filled_notional_usd_total", Help: "USDC spent on filled orders",
		}),
		lastPrice:       gauge("reference_price", "Last accepted reference price"),
		sigma1:          gauge("sigma1", "Per-second volatility estimate"),
		watchReturn:     gauge("watch_return", "Return over the watch window"),
		fallback:        gauge("feed_fallback", "1 when running on the fallback feed"),
		dailyPnL:        gauge("daily_pnl_usd", "Realized PnL for the current UTC day"),
		openExposure:    gauge("open_exposure_usd", "Cost of unsettled positions"),
		pendingNotional: gauge("pending_notional_usd", "Notional of in-flight intents"),
		tradesLastHour:  gauge("trades_last_hour", "Admitted intents in the last hour"),
		positions:       gauge("open_positions", "Unsettled positions"),
		contracts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "contracts", Help: "Tracked contracts by phase"},
			[]string{"phase"},
		),
	}
	reg.MustRegister(
		p.events, p.fills, p.rejections, p.settlements, p.candidateEV, p.filledUSD,
		p.lastPrice, p.sigma1, p.watchReturn, p.fallback, p.dailyPnL, p.openExposure,
		p.pendingNotional, p.tradesLastHour, p.positions, p.contracts,
	)
	return p
}

// Emit actualiza contadores según el tipo de evento.
func (p *Prometheus) Emit(ev domain.Event) {
	p.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case domain.EventCandidate:
		if v, ok := ev.Fields["ev"].(float64); ok {
			p.candidateEV.Observe(v)
		}
	case domain.EventIntentRejected:
		reason, _ := ev.Fields["reason"].(string)
		p.rejections.WithLabelValues(rejectLabel(reason)).Inc()
	case domain.EventFillOutcome:
		status, _ := ev.Fields["status"].(string)
		dry, _ := ev.Fields["dry_run"].(bool)
		p.fills.WithLabelValues(status, fmt.Sprint(dry)).Inc()
		filled, _ := ev.Fields["filled"].(float64)
		avg, _ := ev.Fields["avg_price"].(float64)
		fee, _ := ev.Fields["fee"].(float64)
		if filled > 0 {
			p.filledUSD.Add(filled*avg + fee)
		}
	case domain.EventSettlement:
		result := "loss"
		if ev.Fields["side"] == ev.Fields["winner"] {
			result = "win"
		}
		p.settlements.WithLabelValues(result).Inc()
	}
}

// rejectLabel acota la cardinalidad: los motivos fuera del gateway van a "other".
func rejectLabel(reason string) string {
	switch domain.RejectReason(reason) {
	case domain.RejectNotionalCap, domain.RejectHourlyTrades, domain.RejectDailyLoss,
		domain.RejectFeedDegraded, domain.RejectInvalidIntent:
		return reason
	}
	return "other"
}

// Observe copia el snapshot a los gauges.
func (p *Prometheus) Observe(snap domain.Snapshot) {
	p.lastPrice.Set(snap.LastPrice)
	p.sigma1.Set(snap.Sigma1)
	p.watchReturn.Set(snap.WatchReturn)
	if snap.FeedMode == domain.FeedFallback {
		p.fallback.Set(1)
	} else {
		p.fallback.Set(0)
	}
	p.dailyPnL.Set(snap.Ledger.DailyPnL)
	p.openExposure.Set(snap.Ledger.OpenExposure)
	p.pendingNotional.Set(snap.Ledger.PendingNotional)
	p.tradesLastHour.Set(float64(snap.Ledger.TradesLastHour))
	p.positions.Set(float64(snap.Ledger.Positions))

	p.contracts.Reset()
	for _, c := range snap.Contracts {
		p.contracts.WithLabelValues(c.Phase).Inc()
	}
}

// Handler devuelve el handler HTTP de /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Serve expone /metrics en addr hasta que ctx se cancela.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics: serving", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("telemetry.Serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("telemetry.Serve: shutdown: %w", err)
		}
		return nil
	}
}
