package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

const (
	recorderBatch         = 256
	recorderFlushInterval = 250 * time.Millisecond
)

// Recorder implementa ports.Recorder: Record encola sin bloquear y Run escribe
// en lotes a replay_events. Si la cola se llena el evento se descarta y se cuenta.
type Recorder struct {
	journal *Journal
	queue   chan domain.ReplayRecord
	dropped atomic.Int64
}

// NewRecorder crea un Recorder con una cola de tamaño buffer.
func NewRecorder(j *Journal, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 4096
	}
	return &Recorder{journal: j, queue: make(chan domain.ReplayRecord, buffer)}
}

// Record encola el evento. Nunca bloquea.
func (r *Recorder) Record(rec domain.ReplayRecord) {
	select {
	case r.queue <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			slog.Warn("storage: replay queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped devuelve cuántos eventos se descartaron por cola llena.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run escribe lotes hasta que ctx se cancela; al salir vacía lo pendiente.
func (r *Recorder) Run(ctx context.Context) error {
	tick := time.NewTicker(recorderFlushInterval)
	defer tick.Stop()

	// una escritura empezada se termina aunque ctx se cancele
	wctx := context.WithoutCancel(ctx)
	batch := make([]domain.ReplayRecord, 0, recorderBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.journal.saveReplay(ctx, batch); err != nil {
			slog.Error("storage: replay batch write failed", "records", len(batch), "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(wctx, 5*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
					if len(batch) == recorderBatch {
						flush(fctx)
					}
				default:
					flush(fctx)
					return nil
				}
			}
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) == recorderBatch {
				flush(wctx)
			}
		case <-tick.C:
			flush(wctx)
		}
	}
}

func (j *Journal) saveReplay(ctx context.Context, recs []domain.ReplayRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.saveReplay: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO replay_events (at_ms, stream, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.saveReplay: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, toMillis(rec.At), rec.Stream, string(rec.Payload)); err != nil {
			return fmt.Errorf("storage.saveReplay: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.saveReplay: commit: %w", err)
	}
	return nil
}

// LoadReplay implementa ports.ReplaySource: eventos en [from, to] en orden de llegada.
func (j *Journal) LoadReplay(ctx context.Context, from, to time.Time) ([]domain.ReplayRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT at_ms, stream, payload FROM replay_events WHERE at_ms >= ? AND at_ms <= ? ORDER BY id`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("storage.LoadReplay: query: %w", err)
	}
	defer rows.Close()

	var recs []domain.ReplayRecord
	for rows.Next() {
		var (
			ms      int64
			stream  string
			payload string
		)
		if err := rows.Scan(&ms, &stream, &payload); err != nil {
			return nil, fmt.Errorf("storage.LoadReplay: scan: %w", err)
		}
		recs = append(recs, domain.ReplayRecord{At: fromMillis(ms), Stream: stream, Payload: []byte(payload)})
	}
	return recs, rows.Err()
}
