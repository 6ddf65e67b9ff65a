package reconcile

import (
	"github.com/rs/zerolog"

	"etfwatch/internal/config"
	"etfwatch/internal/models"
)

func holding(code string, count int64, weight float64) models.Holding {
	return models.Holding{Code: code, Name: "name-" + code, Count: count, Weight: weight}
}

func snapshot(date string, holdings ...models.Holding) models.Snapshot {
	s := models.Snapshot{
		Date:     models.MustParseDate(date),
		IsLatest: true,
		Holdings: make(map[string]models.Holding, len(holdings)),
	}
	for _, h := range holdings {
		s.Holdings[h.Code] = h
	}
	return s
}

func history(fundID string, snaps ...models.Snapshot) models.FundHistory {
	return models.FundHistory{FundID: fundID, Snapshots: snaps}
}

func testConfig(dataDir string, funds ...string) *config.Config {
	cfg := config.Default(dataDir)
	for _, id := range funds {
		cfg.Funds = append(cfg.Funds, config.FundConfig{ID: id, Name: "Fund " + id})
	}
	return cfg
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func codesOf(records []models.ChangeRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Code)
	}
	return out
}
