package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTariffForUnknownModelFallsBack(t *testing.T) {
	assert.Equal(t, tariffs[defaultTariffModel], TariffFor("some-future-model"))
	assert.Equal(t, tariffs["gpt-4o"], TariffFor("gpt-4o"))
}

func TestCostFor(t *testing.T) {
	tests := []struct {
		name             string
		model            string
		promptTokens     int
		completionTokens int
		want             int
	}{
		// 1000*250 + 500*1000 = 750_000 -> rounds up to 1.
		{"rounds up to one unit", "gpt-4o", 1000, 500, 1},
		// Exactly one million micro-units stays 1.
		{"exact million", "gpt-4o", 4000, 0, 1},
		// One token over the boundary rounds up to 2.
		{"just over boundary", "gpt-4o", 4001, 0, 2},
		{"zero tokens is free", "gpt-4o", 0, 0, 0},
		{"large call", "gpt-4-turbo", 100000, 50000, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CostFor(tt.model, tt.promptTokens, tt.completionTokens))
		})
	}
}

func TestCostForNeverUnderBills(t *testing.T) {
	// Any non-zero token total must cost at least one unit.
	assert.Equal(t, 1, CostFor("gpt-4o-mini", 1, 0))
	assert.Equal(t, 1, CostFor("gpt-4o-mini", 0, 1))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(0))
	assert.Equal(t, 0, estimateTokens(-5))
	assert.Equal(t, 1, estimateTokens(1))
	assert.Equal(t, 1, estimateTokens(4))
	assert.Equal(t, 2, estimateTokens(5))
	assert.Equal(t, 25, estimateTokens(100))
}
