package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/application/timeline"
	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// runResolver resuelve periódicamente los contratos en curso y siguientes de cada
// horizonte y se los pasa al consumidor. Un slug fallido se reintenta en el siguiente refresh.
func (e *Engine) runResolver(ctx context.Context) error {
	resolved := make(map[string]bool)
	tick := time.NewTicker(e.cfg.ResolveInterval)
	defer tick.Stop()
	for {
		e.resolveOnce(ctx, resolved)
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (e *Engine) resolveOnce(ctx context.Context, resolved map[string]bool) {
	desired := timeline.DesiredSlugs(e.cfg.Timeline.Asset, e.cfg.Timeline.Horizons, e.now())
	keep := make(map[string]bool, len(desired))
	for _, slug := range desired {
		keep[slug] = true
		if resolved[slug] {
			continue
		}
		meta, err := e.deps.Resolver.Resolve(ctx, slug)
		if err == nil {
			resolved[slug] = true
			if e.deps.Fees != nil {
				e.deps.Fees.Warm(ctx, []string{meta.UpToken, meta.DownToken})
			}
		}
		select {
		case e.contractCh <- contractMsg{slug: slug, meta: meta, err: err}:
		case <-ctx.Done():
			return
		}
	}
	for slug := range resolved {
		if !keep[slug] {
			delete(resolved, slug)
		}
	}
}

// runFallback arranca y para el poller de fallback según lo pida el consumidor.
// Si el poller termina solo mientras seguimos en fallback, se relanza tras un respiro.
func (e *Engine) runFallback(ctx context.Context) error {
	var (
		want   = domain.FeedPrimary
		cancel context.CancelFunc
		done   chan struct{}
		retry  <-chan time.Time
	)
	start := func() {
		var fctx context.Context
		fctx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func(ctx context.Context, done chan struct{}) {
			defer close(done)
			if err := e.deps.Fallback.Stream(ctx, e.tickCh); err != nil {
				slog.Warn("feed: fallback stream stopped", "err", err)
			}
		}(fctx, done)
	}
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-done
		cancel, done = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case mode := <-e.fallbackCh:
			want = mode
			if mode == domain.FeedPrimary {
				retry = nil
				stop()
				continue
			}
			if cancel == nil {
				start()
			}
		case <-done:
			// el poller salió sin que lo paráramos
			cancel()
			cancel, done = nil, nil
			if want == domain.FeedFallback {
				retry = time.After(e.fallbackRetry)
			}
		case <-retry:
			retry = nil
			if want == domain.FeedFallback && cancel == nil {
				slog.Info("feed: restarting fallback stream")
				start()
			}
		}
	}
}

// persist encola una escritura del journal sin bloquear al consumidor.
// Con la cola llena la escritura se pierde.
func (e *Engine) persist(fn func(context.Context) error) {
	select {
	case e.persistCh <- fn:
	default:
		slog.Error("engine: journal queue full, dropping write")
	}
}

// persistDurable encola como persist, pero con la cola llena escribe en el
// consumidor: Restore necesita intents y settlements.
func (e *Engine) persistDurable(ctx context.Context, fn func(context.Context) error) {
	select {
	case e.persistCh <- fn:
	default:
		slog.Warn("engine: journal queue full, writing inline")
		e.write(ctx, fn)
	}
}

func (e *Engine) runPersist(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.persistCh:
			e.write(ctx, fn)
		}
	}
}

// flushPersist vacía la cola de escrituras en la goroutine actual.
func (e *Engine) flushPersist(ctx context.Context) {
	for {
		select {
		case fn := <-e.persistCh:
			e.write(ctx, fn)
		default:
			return
		}
	}
}

func (e *Engine) write(ctx context.Context, fn func(context.Context) error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		slog.Error("engine: journal write failed", "err", err)
	}
}

// record graba el evento crudo para replay.
func (e *Engine) record(stream string, v any, now time.Time) {
	if e.deps.Recorder == nil || e.replaying {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Debug("engine: cannot encode replay record", "stream", stream, "err", err)
		return
	}
	e.deps.Recorder.Record(domain.ReplayRecord{At: now, Stream: stream, Payload: payload})
}
