package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig controla heartbeat y reconexión de los streams websocket.
type WSConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 60 * time.Second
	}
	return c
}

// wsSession es una conexión: suscribe, mantiene el heartbeat y lee hasta que
// la conexión cae o ctx se cancela.
type wsSession struct {
	name   string
	url    string
	cfg    WSConfig
	dialer *websocket.Dialer

	// subscribe devuelve el mensaje de suscripción vigente.
	subscribe func() any
	// resub pide reenviar la suscripción sobre la conexión abierta. Puede ser nil.
	resub <-chan struct{}
	// handle procesa un mensaje; un error corta la sesión.
	handle func(msg []byte, received time.Time) error
}

// run reconecta con backoff exponencial hasta que ctx se cancela.
// El backoff vuelve al mínimo tras una sesión que llegó a recibir datos.
func (s wsSession) run(ctx context.Context) error {
	backoff := s.cfg.MinBackoff
	for {
		delivered, err := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			backoff = s.cfg.MinBackoff
		}
		slog.Warn("feed: websocket reconnect", "stream", s.name, "err", err, "delay", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(s.cfg.MaxBackoff, backoff*2)
	}
}

func (s wsSession) serve(ctx context.Context) (delivered bool, err error) {
	dialer := s.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.subscribe()); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("feed: websocket subscribed", "stream", s.name, "url", s.url)

	sctx, cancel := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	defer func() {
		cancel()
		<-writerDone
	}()
	go s.writer(sctx, conn, writerDone)

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, nil
			}
			return delivered, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		delivered = true
		if err := s.handle(msg, time.Now()); err != nil {
			return delivered, err
		}
	}
}

// writer es el único que escribe mensajes de datos tras la suscripción inicial.
// Al cancelarse cierra la conexión para desbloquear ReadMessage.
func (s wsSession) writer(ctx context.Context, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ping.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Debug("feed: ping failed", "stream", s.name, "err", err)
				conn.Close()
				return
			}
		case <-s.resub:
			if err := conn.WriteJSON(s.subscribe()); err != nil {
				slog.Warn("feed: resubscribe failed", "stream", s.name, "err", err)
				conn.Close()
				return
			}
			slog.Debug("feed: resubscribed", "stream", s.name)
		}
	}
}
