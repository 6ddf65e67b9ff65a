package reconcile

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"etfwatch/internal/config"
	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/logging"
	"etfwatch/internal/models"
	"etfwatch/internal/store"
)

// HistoryBuilder derives per-instrument lifecycles from a fund's stored
// snapshot sequence.
type HistoryBuilder struct {
	store    store.SnapshotStore
	presence PresencePolicy
	logger   zerolog.Logger
}

// NewHistoryBuilder creates a history builder reading from s.
func NewHistoryBuilder(s store.SnapshotStore, t config.ThresholdConfig, logger zerolog.Logger) *HistoryBuilder {
	return &HistoryBuilder{
		store:    s,
		presence: NewPresencePolicy(t.PresenceShares),
		logger:   logger,
	}
}

// Build returns the lifecycle events of one instrument in one fund. It
// fails with a NotFoundError when the instrument was never held above the
// presence threshold.
func (b *HistoryBuilder) Build(ctx context.Context, fundID, code string) ([]models.LifecycleEvent, error) {
	h, err := store.LoadHistory(ctx, b.store, fundID, b.logger)
	if err != nil {
		return nil, err
	}
	events := LifecycleEvents(h, code, b.presence)
	lg := logging.WithInstrument(logging.WithFund(b.logger, fundID), code)
	lg.Debug().
		Int("snapshots", h.Len()).
		Int("events", len(events)).
		Msg("Lifecycle built")
	if len(events) == 0 {
		return nil, apperrors.NewNotFoundError(fundID, code)
	}
	return events, nil
}

// BuildFund returns the lifecycle of every instrument ever held by a fund,
// keyed by code. Instruments never held above the presence threshold are
// omitted.
func (b *HistoryBuilder) BuildFund(ctx context.Context, fundID string) (map[string]models.Lifecycle, error) {
	h, err := store.LoadHistory(ctx, b.store, fundID, b.logger)
	if err != nil {
		return nil, err
	}
	return FundLifecycles(h, b.presence), nil
}

// FundLifecycles computes the lifecycles of every code seen in h.
func FundLifecycles(h models.FundHistory, p PresencePolicy) map[string]models.Lifecycle {
	out := make(map[string]models.Lifecycle)
	for _, code := range SeenCodes(h) {
		if lc, ok := Rollup(h.FundID, code, LifecycleEvents(h, code, p)); ok {
			out[code] = lc
		}
	}
	return out
}

// SeenCodes returns every code appearing in any snapshot of h, ascending.
func SeenCodes(h models.FundHistory) []string {
	seen := make(map[string]bool)
	for _, s := range h.Snapshots {
		for code := range s.Holdings {
			seen[code] = true
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// LifecycleEvents walks h once and emits the state transitions of code:
// FirstSeen when it becomes present, Increased/Decreased when its effective
// count changes, Liquidated when it drops to zero. Unchanged days emit
// nothing. After a liquidation the instrument may be seen again.
func LifecycleEvents(h models.FundHistory, code string, p PresencePolicy) []models.LifecycleEvent {
	var (
		events    []models.LifecycleEvent
		known     bool
		prevCount int64
		prevWght  float64
	)

	for _, snap := range h.Snapshots {
		holding, _ := snap.Holding(code)
		count := p.Effective(holding.Count)
		weight := holding.Weight

		switch {
		case !known && count > 0:
			events = append(events, models.LifecycleEvent{
				Date:          snap.Date,
				CountLots:     models.ToLots(count),
				WeightPercent: weight,
				Status:        models.StatusFirstSeen,
			})
			known, prevCount, prevWght = true, count, weight

		case !known:
			// still not held

		case count == 0:
			events = append(events, models.LifecycleEvent{
				Date:               snap.Date,
				CountDeltaLots:     models.ToLots(-prevCount),
				WeightDeltaPercent: weightDelta(0, prevWght),
				Status:             models.StatusLiquidated,
			})
			known, prevCount, prevWght = false, 0, 0

		case count != prevCount:
			status := models.StatusIncreased
			if count < prevCount {
				status = models.StatusDecreased
			}
			events = append(events, models.LifecycleEvent{
				Date:               snap.Date,
				CountLots:          models.ToLots(count),
				WeightPercent:      weight,
				CountDeltaLots:     models.ToLots(count - prevCount),
				WeightDeltaPercent: weightDelta(weight, prevWght),
				Status:             status,
			})
			prevCount, prevWght = count, weight
		}
	}
	return events
}

// Rollup summarizes events into a Lifecycle. Max and min ties resolve to
// the earliest event. It returns false when there are no events.
func Rollup(fundID, code string, events []models.LifecycleEvent) (models.Lifecycle, bool) {
	if len(events) == 0 {
		return models.Lifecycle{}, false
	}
	last := events[len(events)-1]
	lc := models.Lifecycle{
		FundID:        fundID,
		Code:          code,
		Events:        events,
		CurrentCount:  last.CountLots,
		CurrentWeight: last.WeightPercent,
		MaxCount:      events[0].CountLots,
		MaxCountDate:  events[0].Date,
		MinCount:      events[0].CountLots,
		MinCountDate:  events[0].Date,
	}
	for _, e := range events[1:] {
		if e.CountLots > lc.MaxCount {
			lc.MaxCount, lc.MaxCountDate = e.CountLots, e.Date
		}
		if e.CountLots < lc.MinCount {
			lc.MinCount, lc.MinCountDate = e.CountLots, e.Date
		}
	}
	return lc, true
}
