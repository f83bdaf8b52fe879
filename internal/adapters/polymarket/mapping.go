package polymarket

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/hammerbot/internal/domain"
)

// mapGammaMarket convierte la fila de Gamma a ContractMeta.
// Start y End salen del slug: el endDate de Gamma solo se usa para validarlo.
func mapGammaMarket(slug string, gm gammaMarket) (domain.ContractMeta, error) {
	_, h, start, err := domain.ParseContractSlug(slug)
	if err != nil {
		return domain.ContractMeta{}, err
	}
	if len(gm.Outcomes) != len(gm.ClobTokenIDs) {
		return domain.ContractMeta{}, fmt.Errorf("outcomes/token ids mismatch: %d vs %d",
			len(gm.Outcomes), len(gm.ClobTokenIDs))
	}

	meta := domain.ContractMeta{
		Slug:     slug,
		Start:    start,
		End:      start.Add(h.Duration()),
		TickSize: domain.DefaultTickSize,
		NegRisk:  gm.NegRisk,
	}
	for i, outcome := range gm.Outcomes {
		switch strings.ToLower(strings.TrimSpace(outcome)) {
		case "up":
			meta.UpToken = gm.ClobTokenIDs[i]
		case "down":
			meta.DownToken = gm.ClobTokenIDs[i]
		}
	}
	if meta.UpToken == "" || meta.DownToken == "" {
		return domain.ContractMeta{}, fmt.Errorf("missing up/down tokens in outcomes %v", []string(gm.Outcomes))
	}

	if tick, err := gm.TickSize.Float64(); err == nil && tick > 0 {
		meta.TickSize = tick
	}
	if end, ok := parseISO(gm.EndDate); ok && !end.Equal(meta.End) {
		// el slug manda
		slog.Warn("gamma: endDate does not match slug", "slug", slug,
			"end_date", end.Format(time.RFC3339), "slug_end", meta.End.Format(time.RFC3339))
	}
	return meta, nil
}

// parseISO prueba los formatos que usa Polymarket.
func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// mapBookEvent convierte un evento "book" del stream a domain.BookUpdate.
func mapBookEvent(ev bookEvent, received time.Time) domain.BookUpdate {
	observed := received
	if ms, err := ev.Timestamp.Int64(); err == nil && ms > 0 {
		observed = time.UnixMilli(ms).UTC()
	}
	return domain.BookUpdate{
		Token: ev.AssetID,
		Book: domain.OrderBook{
			TokenID: ev.AssetID,
			Bids:    mapBookEntries(ev.Bids, false),
			Asks:    mapBookEntries(ev.Asks, true),
		},
		ObservedAt: observed,
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}

// mapOrderResponse traduce la respuesta de un FOK BUY a FillOutcome.
// Una orden no casada no es un error de transporte: es un REJECTED.
func mapOrderResponse(intent domain.Intent, resp clobOrderResponse, at time.Time) domain.FillOutcome {
	out := domain.FillOutcome{
		IntentID:   intent.ID,
		ContractID: intent.ContractID,
		Side:       intent.Side,
		OrderID:    resp.OrderID,
		At:         at,
	}
	if !resp.Success || resp.ErrorMsg != "" {
		out.Status = domain.FillRejected
		out.Reason = resp.ErrorMsg
		if out.Reason == "" {
			out.Reason = "order not accepted"
		}
		return out
	}

	shares := parseAmount(resp.TakingAmount)
	usdc := parseAmount(resp.MakingAmount)
	switch strings.ToLower(resp.Status) {
	case "matched", "mined", "confirmed":
	default:
		out.Status = domain.FillRejected
		out.Reason = "order status " + resp.Status
		return out
	}
	if shares <= 0 {
		// casada sin cantidades en la respuesta: asumimos el fill completo al límite
		shares = intent.Size
		usdc = intent.Notional()
	}
	if usdc <= 0 {
		usdc = shares * intent.LimitPrice
	}

	out.FilledSize = shares
	out.AvgPrice = usdc / shares
	out.Status = domain.FillFilled
	if shares < intent.Size-1e-9 {
		out.Status = domain.FillPartial
	}
	return out
}

// parseAmount lee un importe decimal ("22.2"). Los enteros largos sin punto
// se interpretan en micro-unidades (6 decimales), como los devuelve el CLOB viejo.
func parseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if !strings.Contains(s, ".") && v >= 1_000_000 {
		return v / 1_000_000
	}
	return v
}
