package occupancy

import (
	"math"
	"testing"

	"cityv-crowd/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDensity(t *testing.T) {
	tests := []struct {
		d    float64
		want models.CrowdLevel
	}{
		{0, models.CrowdLevelEmpty},
		{0.19, models.CrowdLevelEmpty},
		{0.2, models.CrowdLevelLow},
		{0.3, models.CrowdLevelLow},
		{0.4, models.CrowdLevelModerate},
		{0.6, models.CrowdLevelHigh},
		{0.849, models.CrowdLevelHigh},
		{0.85, models.CrowdLevelVeryHigh},
		{1, models.CrowdLevelVeryHigh},
		{math.NaN(), models.CrowdLevelEmpty},
		{-1, models.CrowdLevelEmpty},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyDensity(tt.d), "density %v", tt.d)
	}
}

func TestClassifyDensity_Monotonic(t *testing.T) {
	prev := ClassifyDensity(-0.5)
	for i := -50; i <= 150; i++ {
		level := ClassifyDensity(float64(i) / 100)
		assert.GreaterOrEqual(t, level.Rank(), prev.Rank(), "density %v", float64(i)/100)
		prev = level
	}
}

func TestClassifyRatio(t *testing.T) {
	assert.Equal(t, models.CrowdLevelEmpty, ClassifyRatio(10, 0))
	assert.Equal(t, models.CrowdLevelModerate, ClassifyRatio(35, 70))
	assert.Equal(t, models.CrowdLevelVeryHigh, ClassifyRatio(90, 100))
}

func TestDeriveOccupancy_NeverNegative(t *testing.T) {
	for entry := 0; entry <= 30; entry++ {
		for exit := 0; exit <= 30; exit++ {
			occ := DeriveOccupancy(entry, exit)
			assert.GreaterOrEqual(t, occ, 0)
			if entry >= exit {
				assert.Equal(t, entry-exit, occ)
			}
		}
	}
}

func TestClampOccupancy(t *testing.T) {
	assert.Equal(t, 0, ClampOccupancy(-3, 10))
	assert.Equal(t, 10, ClampOccupancy(12, 10))
	assert.Equal(t, 12, ClampOccupancy(12, 0))
}

func TestSanitizeDensity(t *testing.T) {
	tests := []struct {
		name    string
		in      models.Density
		want    float64
		anomaly bool
	}{
		{"absent", models.Density{}, 0, false},
		{"valid", models.D(0.42), 0.42, false},
		{"bounds", models.D(1), 1, false},
		{"nan", models.D(math.NaN()), 0, true},
		{"inf", models.D(math.Inf(1)), 0, true},
		{"negative", models.D(-0.1), 0, true},
		{"above one", models.D(1.5), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, anomaly := SanitizeDensity(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.anomaly, anomaly)
			assert.False(t, math.IsNaN(got))
			assert.True(t, got >= 0 && got <= 1)
		})
	}
}

func TestTrendOf(t *testing.T) {
	assert.Equal(t, models.TrendStable, TrendOf(0, 1))
	assert.Equal(t, models.TrendStable, TrendOf(1, 1))
	assert.Equal(t, models.TrendStable, TrendOf(-1, 1))
	assert.Equal(t, models.TrendIncreasing, TrendOf(2, 1))
	assert.Equal(t, models.TrendDecreasing, TrendOf(-2, 1))
	assert.Equal(t, models.TrendIncreasing, TrendOf(1, -5))
}
