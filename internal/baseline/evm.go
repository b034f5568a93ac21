package baseline

import (
	"math"
	"time"

	"github.com/zenamanage/planengine/internal/project"
)

// Schedule status labels.
const (
	ScheduleAhead               = "Ahead of Schedule"
	ScheduleOnTrack             = "On Schedule"
	ScheduleBehind              = "Behind Schedule"
	ScheduleSignificantlyBehind = "Significantly Behind"
)

// Cost status labels.
const (
	CostUnderBudget             = "Under Budget"
	CostOnBudget                = "On Budget"
	CostOverBudget              = "Over Budget"
	CostSignificantlyOverBudget = "Significantly Over Budget"
)

// Health bands.
const (
	HealthExcellent  = "Excellent"
	HealthGood       = "Good"
	HealthFair       = "Fair"
	HealthPoor       = "Poor"
	HealthNotStarted = "Not Started"
)

// RecommendationWithinTolerance is returned when no rule fires.
const RecommendationWithinTolerance = "Project performance is within acceptable parameters."

// Report is the variance of a project snapshot against a baseline.
type Report struct {
	BaselineID      string    `json:"baseline_id"`
	BaselineType    Type      `json:"baseline_type"`
	BaselineVersion int       `json:"baseline_version"`
	ProjectID       string    `json:"project_id"`
	AsOf            time.Time `json:"as_of"`
	Progress        float64   `json:"progress"`

	PlannedCost  float64 `json:"planned_cost"`
	PlannedValue float64 `json:"planned_value"`
	EarnedValue  float64 `json:"earned_value"`
	ActualCost   float64 `json:"actual_cost"`
	CPI          float64 `json:"cpi"` // 0 when actual cost is 0
	SPI          float64 `json:"spi"` // 0 when planned value is 0
	EAC          float64 `json:"eac"`
	ETC          float64 `json:"etc"`

	PlannedDays          int    `json:"planned_days"`
	ElapsedDays          int    `json:"elapsed_days"`
	ExpectedDays         int    `json:"expected_days"`
	ScheduleVarianceDays int    `json:"schedule_variance_days"`
	ScheduleStatus       string `json:"schedule_status"`

	CostVariance        float64 `json:"cost_variance"`         // actual cost - planned value
	CostVariancePercent float64 `json:"cost_variance_percent"` // relative to planned value
	CostStatus          string  `json:"cost_status"`
	BudgetUsedPercent   float64 `json:"budget_used_percent"`

	Health          string   `json:"health"`      // band of mean(CPI, SPI)
	CostHealth      string   `json:"cost_health"` // band of CPI alone
	Recommendations []string `json:"recommendations"`
}

// Calculate compares a project snapshot to a baseline as of now. It has no
// side effects.
func Calculate(b Baseline, s project.Snapshot, now time.Time) Report {
	r := Report{
		BaselineID:      b.ID,
		BaselineType:    b.Type,
		BaselineVersion: b.Version,
		ProjectID:       s.ProjectID,
		AsOf:            now,
		Progress:        s.Progress,
		PlannedCost:     b.PlannedCost,
		ActualCost:      s.ActualCost,
	}

	r.PlannedValue = b.PlannedCost * (s.Progress / 100)
	r.EarnedValue = r.PlannedValue
	if r.ActualCost > 0 {
		r.CPI = r.EarnedValue / r.ActualCost
	}
	if r.PlannedValue > 0 {
		r.SPI = r.EarnedValue / r.PlannedValue
	}
	r.EAC = b.PlannedCost
	if r.CPI > 0 {
		r.EAC = b.PlannedCost / r.CPI
	}
	r.ETC = r.EAC - r.ActualCost

	r.PlannedDays = b.PlannedDays()
	r.ElapsedDays = max(wholeDays(b.StartDate, now), 0)
	r.ExpectedDays = int(math.Floor(float64(r.PlannedDays) * s.Progress / 100))
	r.ScheduleVarianceDays = r.ElapsedDays - r.ExpectedDays
	r.ScheduleStatus = scheduleStatus(r.ScheduleVarianceDays)

	// Variance is measured against PV, the planned spend at current progress,
	// not against the baseline's total planned cost.
	r.CostVariance = r.ActualCost - r.PlannedValue
	if r.PlannedValue > 0 {
		r.CostVariancePercent = r.CostVariance / r.PlannedValue * 100
	}
	r.CostStatus = costStatus(r.CostVariancePercent)
	if b.PlannedCost > 0 {
		r.BudgetUsedPercent = r.ActualCost / b.PlannedCost * 100
	}

	r.Health = overallHealth(r.CPI, r.SPI)
	r.CostHealth = HealthNotStarted
	if r.CPI > 0 {
		r.CostHealth = band(r.CPI)
	}
	r.Recommendations = recommendations(r)
	return r
}

func scheduleStatus(varianceDays int) string {
	switch {
	case varianceDays <= -7:
		return ScheduleAhead
	case varianceDays <= 7:
		return ScheduleOnTrack
	case varianceDays <= 30:
		return ScheduleBehind
	default:
		return ScheduleSignificantlyBehind
	}
}

func costStatus(variancePercent float64) string {
	switch {
	case variancePercent <= -10:
		return CostUnderBudget
	case variancePercent <= 10:
		return CostOnBudget
	case variancePercent <= 25:
		return CostOverBudget
	default:
		return CostSignificantlyOverBudget
	}
}

// overallHealth bands the plain mean of CPI and SPI; an undefined index counts
// as 0. Only a report with neither index defined is not started.
func overallHealth(cpi, spi float64) string {
	if cpi == 0 && spi == 0 {
		return HealthNotStarted
	}
	return band((cpi + spi) / 2)
}

func band(index float64) string {
	switch {
	case index >= 1.10:
		return HealthExcellent
	case index >= 0.95:
		return HealthGood
	case index >= 0.85:
		return HealthFair
	default:
		return HealthPoor
	}
}

func recommendations(r Report) []string {
	var out []string
	cpiLow := r.CPI > 0 && r.CPI < 0.9
	spiLow := r.SPI > 0 && r.SPI < 0.9

	switch {
	case cpiLow && spiLow:
		out = append(out, "Cost and schedule performance are both below plan; re-plan the project and consider a new baseline.")
	case cpiLow:
		out = append(out, "Cost performance is below plan; review spending and contain budget overruns.")
	case spiLow:
		out = append(out, "Schedule performance is below plan; re-sequence remaining work or add capacity.")
	}
	if r.CPI > 1.1 {
		out = append(out, "Spending is well under plan; consider reallocating surplus budget.")
	}
	if r.ScheduleStatus == ScheduleSignificantlyBehind {
		out = append(out, "Project is significantly behind schedule; add resources to critical tasks.")
	}
	if len(out) == 0 {
		out = append(out, RecommendationWithinTolerance)
	}
	return out
}
