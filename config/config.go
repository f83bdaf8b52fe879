package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	Feeds    FeedsConfig    `yaml:"feeds"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	Redis    RedisConfig    `yaml:"redis"`
	Live     LiveConfig     `yaml:"live"`
}

// EngineConfig controla la detección y la decisión.
type EngineConfig struct {
	Symbol                string   `yaml:"symbol"`   // símbolo del feed, p.ej. "BTC/USD"
	Asset                 string   `yaml:"asset"`    // prefijo del slug, p.ej. "btc"
	Horizons              []string `yaml:"horizons"` // "5m", "15m"
	WatchReturnThreshold  float64  `yaml:"watch_return_threshold"`
	HammerSecs            float64  `yaml:"hammer_secs"`
	DMin                  float64  `yaml:"d_min"`
	MaxEntryPrice         float64  `yaml:"max_entry_price"`
	QuoteSizeUSD          float64  `yaml:"quote_size_usd"`
	ZForm                 string   `yaml:"z_form"`    // relative | absolute
	FeeModel              string   `yaml:"fee_model"` // linear | curve
	FeeBps                float64  `yaml:"fee_bps"`   // fallback si /fee-rate no responde
	FeeRateTTLSeconds     int      `yaml:"fee_rate_ttl_seconds"`
	StartToleranceSeconds int      `yaml:"start_tolerance_seconds"`
	ResolveIntervalSecs   int      `yaml:"resolve_interval_seconds"`

	Calibration CalibrationConfig `yaml:"calibration"`
}

// CalibrationConfig selecciona el calibrador de probabilidad.
type CalibrationConfig struct {
	Method     string  `yaml:"method"` // none | logistic | isotonic
	Input      string  `yaml:"input"`  // p_hat | z_score
	ParamsPath string  `yaml:"params_path"`
	Coef       float64 `yaml:"logistic_coef"`
	Intercept  float64 `yaml:"logistic_intercept"`
}

// RiskConfig son los límites del gateway.
type RiskConfig struct {
	MaxUSDPerTrade       float64 `yaml:"max_usd_per_trade"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxTradesPerHour     int     `yaml:"max_trades_per_hour"`
	AllowFallbackTrading bool    `yaml:"allow_fallback_trading"`
	SubmitTimeoutSeconds int     `yaml:"submit_timeout_seconds"`
}

// FeedsConfig controla las fuentes de precio y libro.
type FeedsConfig struct {
	RTDSURL             string `yaml:"rtds_url"`
	BookURL             string `yaml:"book_url"`
	FallbackURL         string `yaml:"fallback_url"` // vacío = sin poller de fallback
	FallbackIntervalMs  int    `yaml:"fallback_interval_ms"`
	StaleSeconds        int    `yaml:"stale_seconds"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN          string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
	RecordReplay bool   `yaml:"record_replay"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// MetricsConfig controla el endpoint de Prometheus. Addr vacío = deshabilitado.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TelegramConfig controla las alertas. El token solo se lee de TELEGRAM_BOT_TOKEN.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  int64  `yaml:"chat_id"`
	Token   string `yaml:"-"`
}

// RedisConfig controla la publicación de snapshots. Addr vacío = deshabilitado.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	Channel    string `yaml:"channel"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	Password   string `yaml:"-"`
}

// LiveConfig habilita el envío real de órdenes. La clave solo se lee de POLY_PRIVATE_KEY.
type LiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RPCURL     string `yaml:"rpc_url"`
	PrivateKey string `yaml:"-"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"DB_PATH":        &cfg.Storage.DSN,
		"METRICS_ADDR":   &cfg.Metrics.Addr,
		"REDIS_ADDR":     &cfg.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Redis.Password,
		"POLYGON_RPC":    &cfg.Live.RPCURL,

		"TELEGRAM_BOT_TOKEN": &cfg.Telegram.Token,
		"POLY_PRIVATE_KEY":   &cfg.Live.PrivateKey,
	}
	for k, p := range strs {
		if v := os.Getenv(k); v != "" {
			*p = v
		}
	}

	floats := map[string]*float64{
		"WATCH_RETURN_THRESHOLD": &cfg.Engine.WatchReturnThreshold,
		"HAMMER_SECS":            &cfg.Engine.HammerSecs,
		"D_MIN":                  &cfg.Engine.DMin,
		"MAX_ENTRY_PRICE":        &cfg.Engine.MaxEntryPrice,
		"QUOTE_SIZE_USD":         &cfg.Engine.QuoteSizeUSD,
		"FEE_BPS":                &cfg.Engine.FeeBps,
		"MAX_USD_PER_TRADE":      &cfg.Risk.MaxUSDPerTrade,
		"MAX_DAILY_LOSS":         &cfg.Risk.MaxDailyLoss,
	}
	for k, p := range floats {
		if v := os.Getenv(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("env %s: %w", k, err)
			}
			*p = f
		}
	}

	ints := map[string]*int{
		"FEE_RATE_TTL_SECONDS": &cfg.Engine.FeeRateTTLSeconds,
		"MAX_TRADES_PER_HOUR":  &cfg.Risk.MaxTradesPerHour,
		"FEED_STALE_SECONDS":   &cfg.Feeds.StaleSeconds,
	}
	for k, p := range ints {
		if v := os.Getenv(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", k, err)
			}
			*p = n
		}
	}

	bools := map[string]*bool{
		"ALLOW_FALLBACK_TRADING": &cfg.Risk.AllowFallbackTrading,
		"LIVE_TRADING":           &cfg.Live.Enabled,
		"TELEGRAM_ENABLED":       &cfg.Telegram.Enabled,
	}
	for k, p := range bools {
		if v := os.Getenv(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", k, err)
			}
			*p = b
		}
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("env TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.Symbol == "" {
		e.Symbol = "BTC/USD"
	}
	if e.Asset == "" {
		e.Asset = "btc"
	}
	if len(e.Horizons) == 0 {
		e.Horizons = []string{"5m", "15m"}
	}
	if e.WatchReturnThreshold <= 0 {
		e.WatchReturnThreshold = 0.005
	}
	if e.HammerSecs <= 0 {
		e.HammerSecs = 15
	}
	if e.MaxEntryPrice <= 0 {
		e.MaxEntryPrice = 0.97
	}
	if e.QuoteSizeUSD <= 0 {
		e.QuoteSizeUSD = 20
	}
	if e.ZForm == "" {
		e.ZForm = string(domain.ZRelative)
	}
	if e.FeeModel == "" {
		e.FeeModel = string(domain.FeeLinear)
	}
	if e.FeeRateTTLSeconds <= 0 {
		e.FeeRateTTLSeconds = 60
	}
	if e.StartToleranceSeconds <= 0 {
		e.StartToleranceSeconds = 5
	}
	if e.ResolveIntervalSecs <= 0 {
		e.ResolveIntervalSecs = 30
	}
	if e.Calibration.Input == "" {
		e.Calibration.Input = string(domain.CalibratePHat)
	}

	r := &cfg.Risk
	if r.MaxUSDPerTrade <= 0 {
		r.MaxUSDPerTrade = 50
	}
	if r.MaxDailyLoss <= 0 {
		r.MaxDailyLoss = 250
	}
	if r.MaxTradesPerHour <= 0 {
		r.MaxTradesPerHour = 4
	}
	if r.SubmitTimeoutSeconds <= 0 {
		r.SubmitTimeoutSeconds = 5
	}

	f := &cfg.Feeds
	if f.RTDSURL == "" {
		f.RTDSURL = "wss://ws-live-data.polymarket.com"
	}
	if f.BookURL == "" {
		f.BookURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if f.FallbackIntervalMs <= 0 {
		f.FallbackIntervalMs = 1000
	}
	if f.StaleSeconds <= 0 {
		f.StaleSeconds = 10
	}
	if f.PingIntervalSeconds <= 0 {
		f.PingIntervalSeconds = 30
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hammerbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = "hammerbot:snapshot"
	}
}

// Validate comprueba rangos y combinaciones. Devuelve todos los problemas juntos.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	e := c.Engine
	check(e.WatchReturnThreshold > 0 && e.WatchReturnThreshold < 1, "engine.watch_return_threshold %.4g out of (0,1)", e.WatchReturnThreshold)
	check(e.HammerSecs > 0, "engine.hammer_secs must be > 0")
	check(e.DMin >= 0, "engine.d_min must be >= 0")
	check(e.MaxEntryPrice > 0 && e.MaxEntryPrice < 1, "engine.max_entry_price %.4g out of (0,1)", e.MaxEntryPrice)
	check(e.FeeBps >= 0, "engine.fee_bps must be >= 0")
	if _, err := c.HorizonList(); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseFeeModel(e.FeeModel); err != nil {
		errs = append(errs, err)
	}
	check(e.ZForm == string(domain.ZRelative) || e.ZForm == string(domain.ZAbsolute), "engine.z_form %q: want relative or absolute", e.ZForm)
	check(e.Calibration.Input == string(domain.CalibratePHat) || e.Calibration.Input == string(domain.CalibrateZScore),
		"engine.calibration.input %q: want p_hat or z_score", e.Calibration.Input)

	r := c.Risk
	check(r.MaxTradesPerHour > 0, "risk.max_trades_per_hour must be > 0")
	check(r.MaxDailyLoss > 0, "risk.max_daily_loss must be > 0")

	if c.Live.Enabled {
		check(c.Live.PrivateKey != "", "live trading requires POLY_PRIVATE_KEY")
	}
	if c.Telegram.Enabled {
		check(c.Telegram.Token != "", "telegram.enabled requires TELEGRAM_BOT_TOKEN")
		check(c.Telegram.ChatID != 0, "telegram.enabled requires telegram.chat_id")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// HorizonList parsea engine.horizons.
func (c *Config) HorizonList() ([]domain.Horizon, error) {
	out := make([]domain.Horizon, 0, len(c.Engine.Horizons))
	for _, s := range c.Engine.Horizons {
		h, err := domain.ParseHorizon(s)
		if err != nil {
			return nil, fmt.Errorf("engine.horizons: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}

// DryRun indica si las órdenes se simulan.
func (c *Config) DryRun() bool { return !c.Live.Enabled }

// FeedStale devuelve el umbral de staleness del feed primario.
func (c *Config) FeedStale() time.Duration {
	return time.Duration(c.Feeds.StaleSeconds) * time.Second
}

// FallbackInterval devuelve el período del poller de fallback.
func (c *Config) FallbackInterval() time.Duration {
	return time.Duration(c.Feeds.FallbackIntervalMs) * time.Millisecond
}

// FeeRateTTL devuelve la validez de un fee cacheado.
func (c *Config) FeeRateTTL() time.Duration {
	return time.Duration(c.Engine.FeeRateTTLSeconds) * time.Second
}

// SubmitTimeout devuelve el timeout de envío de una orden.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Risk.SubmitTimeoutSeconds) * time.Second
}
