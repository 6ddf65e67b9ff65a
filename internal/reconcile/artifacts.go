package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"etfwatch/internal/config"
	"etfwatch/internal/logging"
	"etfwatch/internal/models"
	"etfwatch/internal/store"
)

// ChangeEntry is a ChangeRecord as written to the change report. Counts
// are in lots.
type ChangeEntry struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	CountChange   int64   `json:"count_change"`
	WeightChange  float64 `json:"weight_change"`
	PrevCount     int64   `json:"prev_count"`
	PrevWeight    float64 `json:"prev_weight"`
	CurrentCount  int64   `json:"current_count"`
	CurrentWeight float64 `json:"current_weight"`
}

// NewChangeEntry converts a ChangeRecord to its report form.
func NewChangeEntry(r models.ChangeRecord) ChangeEntry {
	return ChangeEntry{
		Code:          r.Code,
		Name:          r.Name,
		Type:          string(r.Type),
		CountChange:   r.CountDeltaLots,
		WeightChange:  r.WeightDeltaPercent,
		PrevCount:     models.ToLots(r.PrevCount),
		PrevWeight:    r.PrevWeight,
		CurrentCount:  models.ToLots(r.CurrentCount),
		CurrentWeight: r.CurrentWeight,
	}
}

// FundReport is one fund's entry in the change report.
type FundReport struct {
	Name          string        `json:"name"`
	LatestDate    string        `json:"latest_date"`
	PreviousDate  string        `json:"previous_date"`
	Price         string        `json:"price"`
	ChangeValue   string        `json:"change_value"`
	ChangePercent string        `json:"change_percent"`
	DailyChanges  []ChangeEntry `json:"daily_changes"`
}

// FundHolding is one fund's lifecycle of an instrument in the history artifact.
type FundHolding struct {
	FundName      string                  `json:"etf_name"`
	CurrentCount  int64                   `json:"current_count"`
	CurrentWeight float64                 `json:"current_weight"`
	MaxCount      int64                   `json:"max_count"`
	MaxCountDate  string                  `json:"max_count_date"`
	MinCount      int64                   `json:"min_count"`
	MinCountDate  string                  `json:"min_count_date"`
	History       []models.LifecycleEvent `json:"history"`
}

// InstrumentHistory is one instrument's entry in the history artifact.
type InstrumentHistory struct {
	Code     string                 `json:"code"`
	Name     string                 `json:"name"`
	Holdings map[string]FundHolding `json:"etf_holdings"`
}

// Artifacts builds and writes the derived report files.
type Artifacts struct {
	cfg    *config.Config
	store  store.SnapshotStore
	logger zerolog.Logger
}

// NewArtifacts creates an artifact builder over the configured funds.
func NewArtifacts(cfg *config.Config, s store.SnapshotStore, logger zerolog.Logger) *Artifacts {
	return &Artifacts{
		cfg:    cfg,
		store:  s,
		logger: logger.With().Str("component", "artifacts").Logger(),
	}
}

// loadFunds reads every configured fund, applying the code filter. A fund
// whose history cannot be read is logged and left out; only cancellation
// aborts the whole load.
func (a *Artifacts) loadFunds(ctx context.Context) ([]models.FundHistory, error) {
	histories := make([]models.FundHistory, 0, len(a.cfg.Funds))
	for _, id := range a.cfg.FundIDs() {
		h, err := store.LoadHistory(ctx, a.store, id, a.logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Error().Err(err).Str("fund", id).Msg("History unreadable, fund left out of artifacts")
			continue
		}
		if a.cfg.Filter.NumericCodesOnly {
			for i := range h.Snapshots {
				h.Snapshots[i] = h.Snapshots[i].Filter(IsNumericCode)
			}
		}
		histories = append(histories, h)
	}
	return histories, nil
}

// BuildReport compares the latest two snapshots of every configured fund.
// Funds with fewer than two snapshots are left out.
func (a *Artifacts) BuildReport(ctx context.Context) (map[string]FundReport, error) {
	histories, err := a.loadFunds(ctx)
	if err != nil {
		return nil, err
	}
	names := NewNameResolver(a.cfg.Names, histories...)
	classifier := NewClassifier(a.cfg.Thresholds)

	report := make(map[string]FundReport, len(histories))
	for _, h := range histories {
		n := h.Len()
		if n < 2 {
			a.logger.Info().Str("fund", h.FundID).Int("snapshots", n).Msg("Not enough history for the change report")
			continue
		}
		latest, prev := h.Snapshots[n-1], h.Snapshots[n-2]
		cs := classifier.Classify(&prev, latest)

		entries := make([]ChangeEntry, 0, len(cs.Detailed))
		for _, r := range cs.Detailed {
			r.Name = names.Resolve(r.Code, r.Name)
			entries = append(entries, NewChangeEntry(r))
		}
		SortByMagnitude(entries)

		report[h.FundID] = FundReport{
			Name:          a.cfg.FundName(h.FundID),
			LatestDate:    latest.Date.String(),
			PreviousDate:  prev.Date.String(),
			Price:         latest.PriceInfo.Price,
			ChangeValue:   latest.PriceInfo.ChangeValue,
			ChangePercent: latest.PriceInfo.ChangePercent,
			DailyChanges:  entries,
		}
	}
	return report, nil
}

// SortByMagnitude orders entries by descending |count_change|, then code.
func SortByMagnitude(entries []ChangeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ai, aj := abs64(entries[i].CountChange), abs64(entries[j].CountChange)
		if ai != aj {
			return ai > aj
		}
		return entries[i].Code < entries[j].Code
	})
}

// BuildHistory derives the lifecycle of every instrument across all
// configured funds, keyed by instrument code.
func (a *Artifacts) BuildHistory(ctx context.Context) (map[string]InstrumentHistory, error) {
	histories, err := a.loadFunds(ctx)
	if err != nil {
		return nil, err
	}
	names := NewNameResolver(a.cfg.Names, histories...)
	presence := NewPresencePolicy(a.cfg.Thresholds.PresenceShares)

	out := make(map[string]InstrumentHistory)
	for _, h := range histories {
		for code, lc := range FundLifecycles(h, presence) {
			ih, ok := out[code]
			if !ok {
				ih = InstrumentHistory{
					Code:     code,
					Name:     names.Lookup(code),
					Holdings: make(map[string]FundHolding),
				}
			}
			ih.Holdings[h.FundID] = FundHolding{
				FundName:      a.cfg.FundName(h.FundID),
				CurrentCount:  lc.CurrentCount,
				CurrentWeight: lc.CurrentWeight,
				MaxCount:      lc.MaxCount,
				MaxCountDate:  lc.MaxCountDate.String(),
				MinCount:      lc.MinCount,
				MinCountDate:  lc.MinCountDate.String(),
				History:       lc.Events,
			}
			out[code] = ih
		}
	}
	return out, nil
}

// WriteReport builds the change report and writes it atomically.
func (a *Artifacts) WriteReport(ctx context.Context) (string, error) {
	report, err := a.BuildReport(ctx)
	if err != nil {
		return "", err
	}
	return a.write(a.cfg.ReportPath(), report, len(report))
}

// WriteHistory builds the lifecycle artifact and writes it atomically.
func (a *Artifacts) WriteHistory(ctx context.Context) (string, error) {
	history, err := a.BuildHistory(ctx)
	if err != nil {
		return "", err
	}
	return a.write(a.cfg.HistoryPath(), history, len(history))
}

func (a *Artifacts) write(path string, v interface{}, entries int) (string, error) {
	start := time.Now()
	err := store.WriteJSONAtomic(path, v)
	logging.LogWrite(a.logger, path, time.Since(start), err)
	if err != nil {
		return "", err
	}
	a.logger.Info().Str("path", path).Int("entries", entries).Msg("Artifact written")
	return path, nil
}
