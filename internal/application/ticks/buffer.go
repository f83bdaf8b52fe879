package ticks

// buffer.go: ventana de precios por símbolo con buckets de 1 segundo.
//
// Cada símbolo guarda como máximo un sample por segundo (el último recibido gana)
// ordenado por tiempo. Se conservan los últimos WindowSeconds segundos más un
// "ancla": el sample más reciente en o antes del suelo de la ventana, para poder
// construir la rejilla as-of de 61 puntos sobre la que se calculan retorno y sigma.

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// WindowSeconds es el tamaño de la ventana de retornos.
const WindowSeconds = 60

type sample struct {
	sec   int64
	price float64
}

type series struct {
	samples []sample // ordenados por sec, sin duplicados
	lastAt  time.Time
}

// latest devuelve el segundo más reciente.
func (s *series) latest() int64 {
	return s.samples[len(s.samples)-1].sec
}

// asOf devuelve el precio del sample más reciente con sec <= at.
func (s *series) asOf(at int64) (float64, bool) {
	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].sec > at })
	if i == 0 {
		return 0, false
	}
	return s.samples[i-1].price, true
}

// Buffer mantiene la ventana de cada símbolo. No es thread-safe: solo lo muta el consumidor.
type Buffer struct {
	window int64
	series map[string]*series
}

// New crea un Buffer con la ventana de 60 segundos.
func New() *Buffer {
	return &Buffer{window: WindowSeconds, series: make(map[string]*series)}
}

// Ingest valida el tick y lo inserta en la ventana de su símbolo.
// Devuelve ErrStaleOrInvalidTick sin mutar estado si el precio no es válido
// o si el tick es anterior al suelo de la ventana.
func (b *Buffer) Ingest(t domain.PriceTick) error {
	if !t.Valid() {
		return fmt.Errorf("ticks.Ingest: %s price=%v: %w", t.Symbol, t.Price, domain.ErrStaleOrInvalidTick)
	}
	sec := t.Second()
	s, ok := b.series[t.Symbol]
	if !ok {
		s = &series{}
		b.series[t.Symbol] = s
	}
	if len(s.samples) > 0 && sec < s.latest()-b.window {
		return fmt.Errorf("ticks.Ingest: %s tick at %d below window floor %d: %w",
			t.Symbol, sec, s.latest()-b.window, domain.ErrStaleOrInvalidTick)
	}

	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].sec >= sec })
	switch {
	case i < len(s.samples) && s.samples[i].sec == sec:
		s.samples[i].price = t.Price
	default:
		s.samples = append(s.samples, sample{})
		copy(s.samples[i+1:], s.samples[i:])
		s.samples[i] = sample{sec: sec, price: t.Price}
	}
	if t.Timestamp.After(s.lastAt) {
		s.lastAt = t.Timestamp
	}
	b.prune(s)
	return nil
}

// prune descarta todo lo anterior al ancla (último sample <= suelo).
func (b *Buffer) prune(s *series) {
	floor := s.latest() - b.window
	anchor := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].sec > floor }) - 1
	if anchor > 0 {
		s.samples = append(s.samples[:0], s.samples[anchor:]...)
	}
}

// grid construye los 61 precios as-of desde latest-60 hasta latest.
func (b *Buffer) grid(symbol string) ([]float64, error) {
	s, ok := b.series[symbol]
	if !ok || len(s.samples) == 0 {
		return nil, fmt.Errorf("ticks: %s: no samples: %w", symbol, domain.ErrInsufficientHistory)
	}
	latest := s.latest()
	floor := latest - b.window
	if s.samples[0].sec > floor {
		return nil, fmt.Errorf("ticks: %s: %ds buffered, need %ds: %w",
			symbol, latest-s.samples[0].sec, b.window, domain.ErrInsufficientHistory)
	}
	out := make([]float64, 0, b.window+1)
	for sec := floor; sec <= latest; sec++ {
		p, _ := s.asOf(sec)
		out = append(out, p)
	}
	return out, nil
}

// WatchReturn devuelve (latest - precio hace 60s) / precio hace 60s.
func (b *Buffer) WatchReturn(symbol string) (float64, error) {
	g, err := b.grid(symbol)
	if err != nil {
		return 0, err
	}
	first, last := g[0], g[len(g)-1]
	return (last - first) / first, nil
}

// RealizedSigma1 devuelve la desviación estándar muestral de los 60 retornos simples de 1s.
func (b *Buffer) RealizedSigma1(symbol string) (float64, error) {
	g, err := b.grid(symbol)
	if err != nil {
		return 0, err
	}
	r := make([]float64, 0, len(g)-1)
	for i := 1; i < len(g); i++ {
		r = append(r, g[i]/g[i-1]-1)
	}
	return stddev(r), nil
}

// PriceSigma1 devuelve la desviación estándar muestral de los 60 cambios de precio de 1s,
// en unidades de precio.
func (b *Buffer) PriceSigma1(symbol string) (float64, error) {
	g, err := b.grid(symbol)
	if err != nil {
		return 0, err
	}
	d := make([]float64, 0, len(g)-1)
	for i := 1; i < len(g); i++ {
		d = append(d, g[i]-g[i-1])
	}
	return stddev(d), nil
}

// Triggered reports whether |WatchReturn| >= threshold.
func (b *Buffer) Triggered(symbol string, threshold float64) (bool, float64, error) {
	r, err := b.WatchReturn(symbol)
	if err != nil {
		return false, 0, err
	}
	return math.Abs(r) >= threshold, r, nil
}

// LastPrice devuelve el último precio del símbolo y el timestamp del tick más reciente.
func (b *Buffer) LastPrice(symbol string) (float64, time.Time, bool) {
	s, ok := b.series[symbol]
	if !ok || len(s.samples) == 0 {
		return 0, time.Time{}, false
	}
	return s.samples[len(s.samples)-1].price, s.lastAt, true
}

// Len devuelve cuántos samples guarda el símbolo (incluida el ancla).
func (b *Buffer) Len(symbol string) int {
	if s, ok := b.series[symbol]; ok {
		return len(s.samples)
	}
	return 0
}

func stddev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(n)
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(n-1))
}
