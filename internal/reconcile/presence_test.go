package reconcile

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestEffective(t *testing.T) {
	tests := []struct {
		name      string
		count     int64
		threshold int64
		want      int64
	}{
		{"zero", 0, 5000, 0},
		{"dust", 4000, 5000, 0},
		{"at threshold", 5000, 5000, 0},
		{"just above", 5001, 5000, 5001},
		{"large", 1_250_000, 5000, 1_250_000},
		{"zero threshold", 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Effective(tt.count, tt.threshold))
			assert.Equal(t, tt.want > 0, IsPresent(tt.count, tt.threshold))

			p := NewPresencePolicy(tt.threshold)
			assert.Equal(t, tt.want, p.Effective(tt.count))
			assert.Equal(t, tt.want > 0, p.IsPresent(tt.count))
		})
	}
}

func TestWeightDeltaRounding(t *testing.T) {
	assert.Equal(t, 0.25, weightDelta(1.55, 1.30))
	assert.Equal(t, -0.25, weightDelta(1.30, 1.55))
	assert.Equal(t, 0.3, weightDelta(5.3, 5.0))
	assert.Equal(t, 0.0, weightDelta(2.1, 2.1))
	assert.Equal(t, 0.1235, weightDelta(0.12346, 0))
	assert.Equal(t, 0.25, roundWeight(0.25))
}

// Property: a count is effective exactly when it exceeds the threshold, and
// an effective count is never altered.
func TestProperty_PresenceThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Effective is 0 at or below the threshold and identity above", prop.ForAll(
		func(count, threshold int64) bool {
			eff := Effective(count, threshold)
			if count <= threshold {
				return eff == 0 && !IsPresent(count, threshold)
			}
			return eff == count && IsPresent(count, threshold)
		},
		gen.Int64Range(0, 100_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("Effective is idempotent", prop.ForAll(
		func(count, threshold int64) bool {
			once := Effective(count, threshold)
			return Effective(once, threshold) == once
		},
		gen.Int64Range(0, 100_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}
