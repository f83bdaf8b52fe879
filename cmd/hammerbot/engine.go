package main

import (
	"time"

	"github.com/alejandrodnm/hammerbot/config"
	"github.com/alejandrodnm/hammerbot/internal/application/decision"
	"github.com/alejandrodnm/hammerbot/internal/application/engine"
	"github.com/alejandrodnm/hammerbot/internal/application/risk"
	"github.com/alejandrodnm/hammerbot/internal/application/timeline"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// engineConfig traduce la config de archivo a la del motor.
func engineConfig(cfg *config.Config) (engine.Config, error) {
	horizons, err := cfg.HorizonList()
	if err != nil {
		return engine.Config{}, err
	}
	feeModel, err := domain.ParseFeeModel(cfg.Engine.FeeModel)
	if err != nil {
		return engine.Config{}, err
	}

	e := cfg.Engine
	return engine.Config{
		Symbol:               e.Symbol,
		WatchReturnThreshold: e.WatchReturnThreshold,
		FeedStale:            cfg.FeedStale(),
		FeeBps:               e.FeeBps,
		ResolveInterval:      time.Duration(e.ResolveIntervalSecs) * time.Second,
		Timeline: timeline.Config{
			Asset:          e.Asset,
			Horizons:       horizons,
			StartTolerance: time.Duration(e.StartToleranceSeconds) * time.Second,
		},
		Decision: decision.Config{
			HammerSecs:    e.HammerSecs,
			DMin:          e.DMin,
			MaxEntryPrice: e.MaxEntryPrice,
			FeeModel:      feeModel,
			QuoteSizeUSD:  e.QuoteSizeUSD,
			SizeStep:      domain.DefaultSizeStep,
			ZForm:         domain.ZForm(e.ZForm),
		},
		Risk: risk.Config{
			MaxUSDPerTrade:       cfg.Risk.MaxUSDPerTrade,
			MaxTradesPerHour:     cfg.Risk.MaxTradesPerHour,
			MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
			AllowFallbackTrading: cfg.Risk.AllowFallbackTrading,
			SubmitTimeout:        cfg.SubmitTimeout(),
			DryRun:               cfg.DryRun(),
		},
	}, nil
}

// probabilityModel construye el modelo normal con el calibrador configurado.
func probabilityModel(cfg *config.Config) domain.ProbabilityModel {
	c := cfg.Engine.Calibration
	return decision.NewModel(domain.ZForm(cfg.Engine.ZForm), decision.CalibrationConfig{
		Method:            c.Method,
		Input:             domain.CalibrationInput(c.Input),
		ParamsPath:        c.ParamsPath,
		LogisticCoef:      c.Coef,
		LogisticIntercept: c.Intercept,
	})
}
