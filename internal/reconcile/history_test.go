package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfwatch/internal/config"
	apperrors "etfwatch/internal/errors"
	"etfwatch/internal/models"
	"etfwatch/internal/store"
)

func lifecycleHistory() models.FundHistory {
	return history("00981A",
		snapshot("2025/01/01", holding("1101", 50_000, 1)),
		snapshot("2025/01/02", holding("2330", 20_000, 1.0)),
		snapshot("2025/01/03", holding("2330", 20_000, 1.2)),
		snapshot("2025/01/06", holding("2330", 80_000, 3.0)),
		snapshot("2025/01/07", holding("2330", 60_000, 2.5)),
		snapshot("2025/01/08"),
		snapshot("2025/01/09", holding("2330", 10_000, 0.5)),
	)
}

func TestLifecycleEvents(t *testing.T) {
	events := LifecycleEvents(lifecycleHistory(), "2330", NewPresencePolicy(DefaultPresenceShares))

	want := []models.LifecycleEvent{
		{Date: models.MustParseDate("2025/01/02"), CountLots: 20, WeightPercent: 1.0, Status: models.StatusFirstSeen},
		{Date: models.MustParseDate("2025/01/06"), CountLots: 80, WeightPercent: 3.0, CountDeltaLots: 60, WeightDeltaPercent: 2.0, Status: models.StatusIncreased},
		{Date: models.MustParseDate("2025/01/07"), CountLots: 60, WeightPercent: 2.5, CountDeltaLots: -20, WeightDeltaPercent: -0.5, Status: models.StatusDecreased},
		{Date: models.MustParseDate("2025/01/08"), CountLots: 0, WeightPercent: 0, CountDeltaLots: -60, WeightDeltaPercent: -2.5, Status: models.StatusLiquidated},
		{Date: models.MustParseDate("2025/01/09"), CountLots: 10, WeightPercent: 0.5, Status: models.StatusFirstSeen},
	}
	assert.Equal(t, want, events)
}

func TestLifecycleEvents_Liquidated(t *testing.T) {
	h := history("00981A",
		snapshot("2025/01/09", holding("2603", 6000, 0.05)),
		snapshot("2025/01/10"),
	)
	events := LifecycleEvents(h, "2603", NewPresencePolicy(5000))

	require.Len(t, events, 2)
	assert.Equal(t, models.StatusFirstSeen, events[0].Status)
	assert.Equal(t, models.StatusLiquidated, events[1].Status)
	assert.Equal(t, int64(-6), events[1].CountDeltaLots)
}

func TestLifecycleEvents_DustNeverHeld(t *testing.T) {
	h := history("00981A",
		snapshot("2025/01/09", holding("2609", 3000, 0.02)),
		snapshot("2025/01/10"),
		snapshot("2025/01/13", holding("2609", 5000, 0.03)),
	)
	assert.Empty(t, LifecycleEvents(h, "2609", NewPresencePolicy(5000)))

	_, ok := Rollup("00981A", "2609", nil)
	assert.False(t, ok)
}

func TestLifecycleEvents_DustToHeldIsFirstSeen(t *testing.T) {
	h := history("00981A",
		snapshot("2025/01/09", holding("6669", 4000, 0.01)),
		snapshot("2025/01/10", holding("6669", 20_000, 0.2)),
	)
	events := LifecycleEvents(h, "6669", NewPresencePolicy(5000))

	require.Len(t, events, 1)
	assert.Equal(t, models.StatusFirstSeen, events[0].Status)
	assert.Equal(t, int64(20), events[0].CountLots)
}

func TestRollup(t *testing.T) {
	events := LifecycleEvents(lifecycleHistory(), "2330", NewPresencePolicy(DefaultPresenceShares))
	lc, ok := Rollup("00981A", "2330", events)
	require.True(t, ok)

	assert.Equal(t, int64(10), lc.CurrentCount)
	assert.Equal(t, 0.5, lc.CurrentWeight)
	assert.Equal(t, int64(80), lc.MaxCount)
	assert.Equal(t, "2025/01/06", lc.MaxCountDate.String())
	assert.Equal(t, int64(0), lc.MinCount)
	assert.Equal(t, "2025/01/08", lc.MinCountDate.String())
}

func TestRollup_TiesKeepEarliest(t *testing.T) {
	d := models.MustParseDate
	events := []models.LifecycleEvent{
		{Date: d("2025/02/03"), CountLots: 50, Status: models.StatusFirstSeen},
		{Date: d("2025/02/04"), CountLots: 80, Status: models.StatusIncreased},
		{Date: d("2025/02/05"), CountLots: 50, Status: models.StatusDecreased},
		{Date: d("2025/02/06"), CountLots: 80, Status: models.StatusIncreased},
	}
	lc, ok := Rollup("00980A", "2454", events)
	require.True(t, ok)

	assert.Equal(t, "2025/02/04", lc.MaxCountDate.String())
	assert.Equal(t, "2025/02/03", lc.MinCountDate.String())
	assert.Equal(t, int64(80), lc.CurrentCount)
}

func TestFundLifecycles_OmitsNeverHeld(t *testing.T) {
	h := lifecycleHistory()
	h.Snapshots = append(h.Snapshots, snapshot("2025/01/10",
		holding("2330", 10_000, 0.5),
		holding("9999", 100, 0.001),
	))

	lcs := FundLifecycles(h, NewPresencePolicy(DefaultPresenceShares))
	assert.Contains(t, lcs, "1101")
	assert.Contains(t, lcs, "2330")
	assert.NotContains(t, lcs, "9999")
	assert.Equal(t, []string{"1101", "2330", "9999"}, SeenCodes(h))
}

func TestHistoryBuilder_Build(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewJSONStore(t.TempDir(), nopLogger())
	require.NoError(t, err)

	for _, snap := range lifecycleHistory().Snapshots {
		require.NoError(t, s.Append(ctx, "00981A", snap))
	}

	var logs bytes.Buffer
	b := NewHistoryBuilder(s, config.DefaultThresholds(), zerolog.New(&logs).Level(zerolog.DebugLevel))

	events, err := b.Build(ctx, "00981A", "2330")
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Contains(t, logs.String(), `"fund":"00981A"`)
	assert.Contains(t, logs.String(), `"code":"2330"`)
	assert.Contains(t, logs.String(), "Lifecycle built")

	_, err = b.Build(ctx, "00981A", "0050")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = b.Build(ctx, "00982A", "2330")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	lcs, err := b.BuildFund(ctx, "00981A")
	require.NoError(t, err)
	assert.Len(t, lcs, 2)
}

// Property: lifecycle events are bounded by the number of snapshots, are
// well formed and never come from dust.
func TestProperty_LifecycleEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	policy := NewPresencePolicy(DefaultPresenceShares)

	countsGen := gen.SliceOf(gen.OneGenOf(
		gen.Const(int64(0)),
		gen.Int64Range(1, 5000),
		gen.Int64Range(5001, 300_000),
	))

	build := func(counts []int64) models.FundHistory {
		h := models.FundHistory{FundID: "00981A"}
		day := models.MustParseDate("2025/01/01")
		for i, c := range counts {
			s := snapshot(day.AddDays(i).String())
			if c > 0 {
				s.Holdings["2330"] = holding("2330", c, float64(c)/100_000)
			}
			h.Snapshots = append(h.Snapshots, s)
		}
		return h
	}

	properties.Property("at most one event per snapshot, none before the first holding", prop.ForAll(
		func(counts []int64) bool {
			events := LifecycleEvents(build(counts), "2330", policy)
			if len(events) > len(counts) {
				return false
			}
			for i := 1; i < len(events); i++ {
				if !events[i].Date.After(events[i-1].Date) {
					return false
				}
			}
			return true
		},
		countsGen,
	))

	properties.Property("events start with FirstSeen and follow a Liquidated with FirstSeen", prop.ForAll(
		func(counts []int64) bool {
			events := LifecycleEvents(build(counts), "2330", policy)
			for i, e := range events {
				wantFirst := i == 0 || events[i-1].Status == models.StatusLiquidated
				if wantFirst != (e.Status == models.StatusFirstSeen) {
					t.Logf("event %d: %+v", i, e)
					return false
				}
			}
			return true
		},
		countsGen,
	))

	properties.Property("dust-only histories emit nothing", prop.ForAll(
		func(counts []int64) bool {
			dust := make([]int64, len(counts))
			for i, c := range counts {
				dust[i] = c % (DefaultPresenceShares + 1)
			}
			return len(LifecycleEvents(build(dust), "2330", policy)) == 0
		},
		countsGen,
	))

	properties.Property("rollup max and min bound every event", prop.ForAll(
		func(counts []int64) bool {
			events := LifecycleEvents(build(counts), "2330", policy)
			lc, ok := Rollup("00981A", "2330", events)
			if !ok {
				return len(events) == 0
			}
			for _, e := range events {
				if e.CountLots > lc.MaxCount || e.CountLots < lc.MinCount {
					return false
				}
			}
			return lc.CurrentCount == events[len(events)-1].CountLots
		},
		countsGen,
	))

	properties.TestingRun(t)
}

func ExampleLifecycleEvents() {
	h := history("00981A",
		snapshot("2025/01/02", holding("2330", 20_000, 1.0)),
		snapshot("2025/01/03", holding("2330", 80_000, 3.0)),
		snapshot("2025/01/06"),
	)
	for _, e := range LifecycleEvents(h, "2330", NewPresencePolicy(DefaultPresenceShares)) {
		fmt.Println(e.Date, e.Status, e.CountLots, e.CountDeltaLots)
	}
	// Output:
	// 2025/01/02 FirstSeen 20 0
	// 2025/01/03 Increased 80 60
	// 2025/01/06 Liquidated 0 -80
}
