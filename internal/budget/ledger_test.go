package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerMonotonic(t *testing.T) {
	l := NewLedger(1.0)

	charges := []float64{0.1, 0.25, 0.0, 0.3}
	var sum float64
	for _, c := range charges {
		l.Charge(c, 100)
		sum += c
	}

	assert.InDelta(t, sum, l.TotalUSD(), 1e-9)
	assert.Equal(t, 400, l.TotalTokens())
	assert.True(t, l.WithinBudget())

	// Reaching the budget exactly flips the predicate.
	l.Charge(1.0-sum, 0)
	assert.False(t, l.WithinBudget())

	// No refunds: negative charges are ignored.
	l.Charge(-5, -100)
	assert.InDelta(t, 1.0, l.TotalUSD(), 1e-9)
	assert.Equal(t, 400, l.TotalTokens())
}

func TestLedgerCanAfford(t *testing.T) {
	l := NewLedger(0.01)

	// Nothing spent yet, but an 8 cent call does not fit a 1 cent budget.
	assert.True(t, l.WithinBudget())
	assert.False(t, l.CanAfford(0.08))
	assert.True(t, l.CanAfford(0.01))

	l.Charge(0.005, 0)
	assert.False(t, l.CanAfford(0.01))
}

func TestLedgerConcurrent(t *testing.T) {
	l := NewLedger(1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Charge(0.01, 5)
			}
		}()
	}
	wg.Wait()

	assert.InDelta(t, 5.0, l.TotalUSD(), 1e-6)
	assert.Equal(t, 2500, l.TotalTokens())
}

func TestTokenCost(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		in     int
		out    int
		want   float64
	}{
		{"gpt-4o", "gpt-4o", 1000, 1000, 0.0125},
		{"mini", "gpt-4o-mini", 2000, 0, 0.0003},
		{"embedding", "text-embedding-3-large", 1000, 0, 0.00013},
		{"unknown model free", "mystery-model", 5000, 5000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TokenCost(tt.model, tt.in, tt.out), 1e-9)
		})
	}
}

func TestImageCost(t *testing.T) {
	assert.InDelta(t, 0.08, ImageCost("gpt-image-1", "1024x1024", "medium"), 1e-9)
	assert.InDelta(t, 0.48, ImageCost("gpt-image-1", "1536x1024", "high"), 1e-9)
	// Unknown size falls back to the square price.
	assert.InDelta(t, 0.08, ImageCost("gpt-image-1", "999x999", "medium"), 1e-9)
	// Unknown quality falls back to medium.
	assert.InDelta(t, 0.08, ImageCost("gpt-image-1", "1024x1024", "ultra"), 1e-9)
	assert.Equal(t, 0.0, ImageCost("unknown", "1024x1024", "medium"))
}

func TestEstimateTokensNonZero(t *testing.T) {
	n := EstimateTokens("a medium shot of the hero walking through the rain")
	assert.Greater(t, n, 0)
}
