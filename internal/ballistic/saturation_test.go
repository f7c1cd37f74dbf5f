package ballistic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

func TestSaturationThresholds(t *testing.T) {
	tests := []struct {
		name    string
		used    uint64
		class   types.OpClass
		intent  types.AllocIntent
		want    Verdict
		latched bool
	}{
		{"genesis below threshold", 500, types.OpGenesis, types.IntentUserData, ProbeBallistic, false},
		{"genesis at 90 redirects", 900, types.OpGenesis, types.IntentUserData, RedirectHorizon, true},
		{"update at 90 still ballistic", 900, types.OpUpdate, types.IntentUserData, ProbeBallistic, true},
		{"update at 95 redirects", 950, types.OpUpdate, types.IntentUserData, RedirectHorizon, true},
		{"metadata at 90 still ballistic", 900, types.OpGenesis, types.IntentMetadata, ProbeBallistic, true},
		{"metadata at 95 fails closed", 950, types.OpGenesis, types.IntentMetadata, FailClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Policy
			got := p.Decide(tt.used, 1000, tt.class, tt.intent)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.latched, p.Latched())
		})
	}
}

func TestSaturationHysteresis(t *testing.T) {
	var p Policy

	// Cross the genesis threshold: latch sets.
	assert.Equal(t, RedirectHorizon, p.Decide(910, 1000, types.OpGenesis, types.IntentUserData))
	assert.True(t, p.Latched())

	// Dip back to 87%, between recovery and genesis: the latch holds
	// and genesis stays redirected.
	assert.Equal(t, RedirectHorizon, p.Decide(870, 1000, types.OpGenesis, types.IntentUserData))
	assert.True(t, p.Latched())

	// Only dropping below 85% clears it.
	assert.Equal(t, ProbeBallistic, p.Decide(840, 1000, types.OpGenesis, types.IntentUserData))
	assert.False(t, p.Latched())
}

func TestSaturationDegenerateTotal(t *testing.T) {
	var p Policy
	// Zero capacity reads as fully saturated, never a divide-by-zero.
	assert.Equal(t, RedirectHorizon, p.Decide(0, 0, types.OpGenesis, types.IntentUserData))
}

func TestLatchPersistenceRoundTrip(t *testing.T) {
	var p Policy
	p.Decide(950, 1000, types.OpGenesis, types.IntentUserData)
	assert.True(t, p.Latched())

	var q Policy
	q.RestoreLatch(p.Latched())
	assert.Equal(t, RedirectHorizon, q.Decide(870, 1000, types.OpGenesis, types.IntentUserData))
}
