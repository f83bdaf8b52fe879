package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/hammerbot/config"
	"github.com/alejandrodnm/hammerbot/internal/adapters/chainlink"
	"github.com/alejandrodnm/hammerbot/internal/adapters/notify"
	"github.com/alejandrodnm/hammerbot/internal/adapters/onchain"
	"github.com/alejandrodnm/hammerbot/internal/adapters/polymarket"
	"github.com/alejandrodnm/hammerbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/hammerbot/internal/adapters/storage"
	"github.com/alejandrodnm/hammerbot/internal/adapters/telemetry"
	"github.com/alejandrodnm/hammerbot/internal/application/engine"
	"github.com/alejandrodnm/hammerbot/internal/application/fees"
	"github.com/alejandrodnm/hammerbot/internal/ports"
)

// run arranca el motor con feeds reales. Sin live.enabled las órdenes se simulan.
func run(ctx context.Context, cfg *config.Config) error {
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	journal, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("run: open journal: %w", err)
	}
	defer journal.Close()

	wsCfg := polymarket.WSConfig{
		PingInterval: time.Duration(cfg.Feeds.PingIntervalSeconds) * time.Second,
	}
	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	deps := engine.Deps{
		Model:   probabilityModel(cfg),
		Primary: polymarket.NewRTDSStream(cfg.Feeds.RTDSURL, cfg.Engine.Symbol, wsCfg),
		Books:   polymarket.NewBookStream(cfg.Feeds.BookURL, wsCfg),
		Journal: journal,
	}
	if cfg.Feeds.FallbackURL != "" {
		deps.Fallback = chainlink.NewPoller(cfg.Feeds.FallbackURL, cfg.Engine.Symbol, cfg.FallbackInterval())
	}

	if !cfg.DryRun() {
		trading, err := setupLive(ctx, cfg)
		if err != nil {
			return err
		}
		if trading == nil {
			return nil // abortado durante la cuenta atrás
		}
		defer trading.Close()
		deps.Submitter = trading
		// resolver y fees comparten los limiters del cliente autenticado
		client = trading.Client()
	}
	deps.Resolver = polymarket.NewResolver(client)
	deps.Fees = fees.New(client, cfg.FeeRateTTL(), cfg.Engine.FeeBps)

	g, gctx := errgroup.WithContext(ctx)

	sinks := []ports.Telemetry{telemetry.NewLogger(nil)}
	if cfg.Metrics.Addr != "" {
		prom := telemetry.NewPrometheus()
		sinks = append(sinks, prom)
		g.Go(func() error {
			if err := prom.Serve(gctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics: server stopped", "err", err)
			}
			return nil
		})
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, 0)
		if err != nil {
			slog.Warn("telegram: disabled", "err", err)
		} else {
			sinks = append(sinks, tg)
			g.Go(func() error { return tg.Run(gctx) })
		}
	}
	deps.Telemetry = telemetry.NewFanout(sinks...)

	if cfg.Redis.Addr != "" {
		pub, err := snapshot.NewRedis(ctx, snapshot.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Channel:  cfg.Redis.Channel,
			TTL:      time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			slog.Warn("snapshot: redis disabled", "err", err)
		} else {
			defer pub.Close()
			deps.Snapshots = pub
		}
	}

	// el recorder sobrevive al motor para vaciar lo último que grabe
	var recDone chan struct{}
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()
	if cfg.Storage.RecordReplay {
		rec := storage.NewRecorder(journal, 0)
		deps.Recorder = rec
		recDone = make(chan struct{})
		go func() {
			defer close(recDone)
			_ = rec.Run(recCtx)
		}()
	}

	eng := engine.New(ecfg, deps)
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	g.Go(func() error { return eng.Run(gctx) })
	err = g.Wait()

	stopRecorder()
	if recDone != nil {
		<-recDone
	}

	st := eng.Stats()
	slog.Info("engine: stopped",
		"ticks", st.Ticks,
		"books", st.Books,
		"contracts", st.Contracts,
		"intents", st.Intents,
		"rejections", st.Rejections,
		"fills", st.Fills,
		"settlements", st.Settlements,
		"pnl", fmt.Sprintf("$%.2f", st.PnL),
	)
	return err
}

// setupLive autentica contra el CLOB y comprueba el balance. Devuelve nil sin
// error si el usuario aborta durante la cuenta atrás.
func setupLive(ctx context.Context, cfg *config.Config) (*polymarket.TradingClient, error) {
	slog.Warn("=== LIVE TRADING MODE (REAL MONEY) ===",
		"quote_size", fmt.Sprintf("$%.2f", cfg.Engine.QuoteSizeUSD),
		"max_usd_per_trade", fmt.Sprintf("$%.2f", cfg.Risk.MaxUSDPerTrade),
		"max_daily_loss", fmt.Sprintf("$%.2f", cfg.Risk.MaxDailyLoss),
		"max_trades_per_hour", cfg.Risk.MaxTradesPerHour,
	)
	fmt.Printf("\n⚠️  LIVE TRADING MODE: REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abortTimer := time.NewTimer(5 * time.Second)
	defer abortTimer.Stop()
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		slog.Info("live trading aborted by user")
		return nil, nil
	}

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Live.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("setupLive: %w", err)
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("setupLive: derive API credentials, check POLY_PRIVATE_KEY: %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", auth.Address())

	trading, err := polymarket.NewTradingClient(auth, cfg.Live.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("setupLive: %w", err)
	}

	if cfg.Live.RPCURL != "" {
		approver, err := onchain.NewApprover(cfg.Live.RPCURL, cfg.Live.PrivateKey)
		if err != nil {
			trading.Close()
			return nil, fmt.Errorf("setupLive: %w", err)
		}
		slog.Info("live: checking USDC.e allowance...")
		err = approver.EnsureAllowance(ctx)
		approver.Close()
		if err != nil {
			trading.Close()
			return nil, fmt.Errorf("setupLive: %w", err)
		}

		balance, err := trading.Balance(ctx)
		if err != nil {
			slog.Warn("live: cannot read USDC balance", "err", err)
		} else {
			slog.Info("live: wallet balance", "usdc", fmt.Sprintf("$%.2f", balance))
			if balance < cfg.Engine.QuoteSizeUSD {
				slog.Warn("live: balance below quote size, orders will be rejected",
					"usdc", fmt.Sprintf("$%.2f", balance), "quote_size", fmt.Sprintf("$%.2f", cfg.Engine.QuoteSizeUSD))
			}
		}
	}
	return trading, nil
}
