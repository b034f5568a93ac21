package baseline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenamanage/planengine/internal/project"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalculate_CostIndices(t *testing.T) {
	b := Baseline{
		ID:          "base-1",
		Type:        TypeContract,
		StartDate:   date(2024, 1, 1),
		EndDate:     date(2024, 4, 1),
		PlannedCost: 100_000,
	}
	s := project.Snapshot{ProjectID: "proj-1", Progress: 50, ActualCost: 60_000}

	r := Calculate(b, s, date(2024, 3, 1))

	assert.InDelta(t, 50_000, r.PlannedValue, 1e-9)
	assert.InDelta(t, 50_000, r.EarnedValue, 1e-9)
	assert.InDelta(t, 60_000, r.ActualCost, 1e-9)
	assert.InDelta(t, 0.8333, r.CPI, 1e-4)
	assert.InDelta(t, 1.0, r.SPI, 1e-9)
	assert.InDelta(t, 120_000, r.EAC, 1e-6)
	assert.InDelta(t, 60_000, r.ETC, 1e-6)

	assert.Equal(t, HealthPoor, r.CostHealth, "CPI 0.833 falls below the 0.85 band")
	assert.Equal(t, HealthFair, r.Health, "mean(0.833, 1.0) = 0.917")
	assert.InDelta(t, 20, r.CostVariancePercent, 1e-9)
	assert.Equal(t, CostOverBudget, r.CostStatus)
	assert.Contains(t, r.Recommendations[0], "Cost performance is below plan")
}

func TestCalculate_ScheduleVariance(t *testing.T) {
	b := Baseline{StartDate: date(2024, 1, 1), EndDate: date(2024, 4, 1), PlannedCost: 100_000}
	s := project.Snapshot{Progress: 50, ActualCost: 50_000}

	r := Calculate(b, s, date(2024, 3, 1))

	assert.Equal(t, 91, r.PlannedDays)
	assert.Equal(t, 60, r.ElapsedDays)
	assert.Equal(t, 45, r.ExpectedDays)
	assert.Equal(t, 15, r.ScheduleVarianceDays)
	assert.Equal(t, ScheduleBehind, r.ScheduleStatus)
}

func TestCalculate_ZeroGuards(t *testing.T) {
	b := Baseline{StartDate: date(2024, 1, 1), EndDate: date(2024, 2, 1), PlannedCost: 10_000}

	r := Calculate(b, project.Snapshot{}, date(2024, 1, 1))

	assert.Zero(t, r.CPI)
	assert.Zero(t, r.SPI)
	assert.InDelta(t, 10_000, r.EAC, 1e-9, "EAC falls back to planned cost")
	assert.InDelta(t, 10_000, r.ETC, 1e-9)
	assert.Equal(t, HealthNotStarted, r.Health)
	assert.Equal(t, HealthNotStarted, r.CostHealth)
	assert.Equal(t, []string{RecommendationWithinTolerance}, r.Recommendations)
}

func TestCalculate_HealthIsMeanOfBothIndices(t *testing.T) {
	b := Baseline{StartDate: date(2024, 1, 1), EndDate: date(2024, 4, 1), PlannedCost: 100_000}

	// Work reported but nothing spent yet: CPI is undefined and counts as 0.
	r := Calculate(b, project.Snapshot{Progress: 30}, date(2024, 2, 1))
	require.Zero(t, r.CPI)
	require.InDelta(t, 1.0, r.SPI, 1e-9)
	assert.Equal(t, HealthPoor, r.Health, "mean(0, 1.0) = 0.5")
	assert.Equal(t, HealthNotStarted, r.CostHealth)

	r = Calculate(b, project.Snapshot{Progress: 50, ActualCost: 40_000}, date(2024, 2, 1))
	assert.InDelta(t, 1.25, r.CPI, 1e-9)
	assert.Equal(t, HealthExcellent, r.Health, "mean(1.25, 1.0) = 1.125")
	assert.Equal(t, HealthExcellent, r.CostHealth)
	assert.InDelta(t, -20, r.CostVariancePercent, 1e-9, "40k spent against 50k planned value")
}

func TestCalculate_ElapsedNeverNegative(t *testing.T) {
	b := Baseline{StartDate: date(2024, 6, 1), EndDate: date(2024, 7, 1), PlannedCost: 1}
	r := Calculate(b, project.Snapshot{Progress: 10}, date(2024, 5, 1))
	assert.Equal(t, 0, r.ElapsedDays)
	assert.Equal(t, ScheduleOnTrack, r.ScheduleStatus)
}

func TestScheduleStatus_Bands(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{-30, ScheduleAhead},
		{-7, ScheduleAhead},
		{-6, ScheduleOnTrack},
		{7, ScheduleOnTrack},
		{8, ScheduleBehind},
		{30, ScheduleBehind},
		{31, ScheduleSignificantlyBehind},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scheduleStatus(tt.days), "days=%d", tt.days)
	}
}

func TestCostStatus_Bands(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{-10, CostUnderBudget},
		{-9.99, CostOnBudget},
		{10, CostOnBudget},
		{10.01, CostOverBudget},
		{25, CostOverBudget},
		{25.01, CostSignificantlyOverBudget},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, costStatus(tt.pct), "pct=%v", tt.pct)
	}
}

func TestBand_Boundaries(t *testing.T) {
	assert.Equal(t, HealthExcellent, band(1.10))
	assert.Equal(t, HealthGood, band(1.0999))
	assert.Equal(t, HealthGood, band(0.95))
	assert.Equal(t, HealthFair, band(0.9499))
	assert.Equal(t, HealthFair, band(0.85))
	assert.Equal(t, HealthPoor, band(0.8499))
}

func TestRecommendations(t *testing.T) {
	t.Run("both indices low asks for a re-plan", func(t *testing.T) {
		got := recommendations(Report{CPI: 0.8, SPI: 0.8, ScheduleStatus: ScheduleOnTrack})
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "re-plan")
	})
	t.Run("schedule only", func(t *testing.T) {
		got := recommendations(Report{CPI: 1.0, SPI: 0.85})
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "Schedule performance")
	})
	t.Run("under-spend and far behind", func(t *testing.T) {
		got := recommendations(Report{CPI: 1.2, SPI: 1.0, ScheduleStatus: ScheduleSignificantlyBehind})
		require.Len(t, got, 2)
		assert.Contains(t, got[0], "reallocating")
		assert.Contains(t, got[1], "add resources")
	})
}
