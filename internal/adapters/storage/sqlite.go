package storage

// sqlite.go: journal de decisiones del motor.
//
// Tablas:
//   - `intents`: una fila por intent admitida (a lo sumo una por contrato).
//   - `outcomes`: resultado de la submission, una fila por intent.
//   - `settlements`: liquidación al vencimiento, una fila por contrato.
//   - `replay_events`: eventos crudos para reproducir sesiones (ver recorder.go).
//
// Los tiempos se guardan como epoch en milisegundos: los rangos del día UTC y
// de la última hora son comparaciones enteras.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS intents (
    id          TEXT PRIMARY KEY,
    contract_id TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    token       TEXT    NOT NULL,
    limit_price REAL    NOT NULL,
    size        REAL    NOT NULL,
    neg_risk    INTEGER NOT NULL DEFAULT 0,
    p_hat       REAL    NOT NULL DEFAULT 0,
    ask         REAL    NOT NULL DEFAULT 0,
    fee_cost    REAL    NOT NULL DEFAULT 0,
    ev          REAL    NOT NULL DEFAULT 0,
    sigma1      REAL    NOT NULL DEFAULT 0,
    distance    REAL    NOT NULL DEFAULT 0,
    secs_left   REAL    NOT NULL DEFAULT 0,
    created_ms  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
    intent_id   TEXT PRIMARY KEY,
    contract_id TEXT    NOT NULL,
    side        TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    order_id    TEXT,
    filled_size REAL    NOT NULL DEFAULT 0,
    avg_price   REAL    NOT NULL DEFAULT 0,
    fee         REAL    NOT NULL DEFAULT 0,
    reason      TEXT,
    dry_run     INTEGER NOT NULL DEFAULT 0,
    at_ms       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settlements (
    contract_id TEXT PRIMARY KEY,
    side        TEXT    NOT NULL,
    winner      TEXT    NOT NULL,
    start_price REAL    NOT NULL,
    end_price   REAL    NOT NULL,
    shares      REAL    NOT NULL,
    cost        REAL    NOT NULL,
    payout      REAL    NOT NULL,
    pnl         REAL    NOT NULL,
    settled_ms  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    at_ms   INTEGER NOT NULL,
    stream  TEXT    NOT NULL,
    payload TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intents_created   ON intents(created_ms);
CREATE INDEX IF NOT EXISTS idx_intents_contract  ON intents(contract_id);
CREATE INDEX IF NOT EXISTS idx_settlements_at    ON settlements(settled_ms);
CREATE INDEX IF NOT EXISTS idx_replay_at         ON replay_events(at_ms);
`

const (
	retentionReplay = 7 * 24 * time.Hour // eventos crudos: 7 días
	// contratos admitidos que se restauran: cubre el horizonte más largo más la
	// ventana de eviction
	admittedWindow = 2 * time.Hour
)

// Journal implementa ports.Journal y ports.ReplaySource sobre SQLite (pure Go, sin CGo).
type Journal struct {
	db *sql.DB
}

// Open abre (o crea) la base de datos en la ruta dada y aplica el schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		slog.Debug("storage: pragmas not applied", "err", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}

	j := &Journal{db: db}
	j.pruneOld(context.Background(), time.Now())
	return j, nil
}

// SaveIntent persiste una intent admitida. Reintentar la misma intent es idempotente.
func (j *Journal) SaveIntent(ctx context.Context, in domain.Intent) error {
	c := in.Candidate
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO intents
			(id, contract_id, side, token, limit_price, size, neg_risk,
			 p_hat, ask, fee_cost, ev, sigma1, distance, secs_left, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		in.ID, in.ContractID, string(in.Side), in.Token, in.LimitPrice, in.Size, boolToInt(in.NegRisk),
		c.PHat, c.Ask, c.FeeCost, c.EV, c.Sigma1, c.D, c.SecsLeft, toMillis(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent %s: %w", in.ID, err)
	}
	return nil
}

// SaveOutcome persiste el resultado de una intent; el último resultado gana.
func (j *Journal) SaveOutcome(ctx context.Context, out domain.FillOutcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO outcomes
			(intent_id, contract_id, side, status, order_id, filled_size, avg_price, fee, reason, dry_run, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			status      = excluded.status,
			order_id    = excluded.order_id,
			filled_size = excluded.filled_size,
			avg_price   = excluded.avg_price,
			fee         = excluded.fee,
			reason      = excluded.reason,
			at_ms       = excluded.at_ms`,
		out.IntentID, out.ContractID, string(out.Side), string(out.Status), nullString(out.OrderID),
		out.FilledSize, out.AvgPrice, out.Fee, nullString(out.Reason), boolToInt(out.DryRun), toMillis(out.At),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome %s: %w", out.IntentID, err)
	}
	return nil
}

// SaveSettlement persiste la liquidación de un contrato. Liquidar dos veces es un no-op.
func (j *Journal) SaveSettlement(ctx context.Context, s domain.Settlement) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO settlements
			(contract_id, side, winner, start_price, end_price, shares, cost, payout, pnl, settled_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO NOTHING`,
		s.ContractID, string(s.Side), string(s.Winner), s.StartPrice, s.EndPrice,
		s.Shares, s.Cost, s.Payout, s.PnL, toMillis(s.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSettlement %s: %w", s.ContractID, err)
	}
	return nil
}

// LoadRiskState reconstruye el estado de riesgo del día UTC de now:
// pnl liquidado del día, trades de la última hora, contratos ya admitidos y
// posiciones llenas aún sin liquidar.
func (j *Journal) LoadRiskState(ctx context.Context, now time.Time) (domain.RiskState, error) {
	st := domain.RiskState{Day: domain.DayKey(now)}
	dayStart, _ := time.Parse("2006-01-02", st.Day)
	dayEnd := dayStart.Add(24 * time.Hour)

	if err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM settlements WHERE settled_ms >= ? AND settled_ms < ?`,
		toMillis(dayStart), toMillis(dayEnd),
	).Scan(&st.DailyPnL); err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: daily pnl: %w", err)
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT created_ms FROM intents WHERE created_ms > ? AND created_ms <= ? ORDER BY created_ms`,
		toMillis(now.Add(-time.Hour)), toMillis(now))
	if err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: trade times: %w", err)
	}
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			rows.Close()
			return st, fmt.Errorf("storage.LoadRiskState: scan trade time: %w", err)
		}
		st.TradeTimes = append(st.TradeTimes, fromMillis(ms))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: trade times: %w", err)
	}

	since := toMillis(now.Add(-admittedWindow))
	rows, err = j.db.QueryContext(ctx,
		`SELECT DISTINCT contract_id FROM intents WHERE created_ms > ? ORDER BY contract_id`, since)
	if err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: admitted: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return st, fmt.Errorf("storage.LoadRiskState: scan admitted: %w", err)
		}
		st.Admitted = append(st.Admitted, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: admitted: %w", err)
	}

	rows, err = j.db.QueryContext(ctx, `
		SELECT o.intent_id, o.contract_id, o.side, o.filled_size, o.avg_price, o.fee, o.at_ms
		FROM outcomes o
		JOIN intents i ON i.id = o.intent_id
		LEFT JOIN settlements s ON s.contract_id = o.contract_id
		WHERE o.status IN (?, ?) AND s.contract_id IS NULL AND i.created_ms > ?
		ORDER BY o.at_ms`,
		string(domain.FillFilled), string(domain.FillPartial), since)
	if err != nil {
		return st, fmt.Errorf("storage.LoadRiskState: open positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p          domain.Position
			side       string
			avg, fee   float64
			openedAtMs int64
		)
		if err := rows.Scan(&p.IntentID, &p.ContractID, &side, &p.Shares, &avg, &fee, &openedAtMs); err != nil {
			return st, fmt.Errorf("storage.LoadRiskState: scan position: %w", err)
		}
		p.Side = domain.Side(side)
		p.Cost = avg*p.Shares + fee
		p.OpenedAt = fromMillis(openedAtMs)
		st.Open = append(st.Open, p)
	}
	return st, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (j *Journal) Close() error {
	return j.db.Close()
}

// --- helpers internos ---

// pruneOld elimina eventos crudos antiguos para mantener la DB ligera.
// El journal de trades no se poda: es el histórico del reporte.
func (j *Journal) pruneOld(ctx context.Context, now time.Time) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM replay_events WHERE at_ms < ?`, toMillis(now.Add(-retentionReplay)))
	if err != nil {
		slog.Warn("storage: prune replay events failed", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("storage: pruned replay events", "rows", n)
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
