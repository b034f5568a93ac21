// Package ui renders planning reports for the terminal with lipgloss.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zenamanage/planengine/internal/baseline"
)

var (
	// Colors
	ColorPrimary   = lipgloss.Color("205") // Pink
	ColorSecondary = lipgloss.Color("241") // Gray
	ColorSuccess   = lipgloss.Color("42")  // Green
	ColorError     = lipgloss.Color("160") // Red
	ColorWarning   = lipgloss.Color("214") // Orange/Yellow
	ColorText      = lipgloss.Color("252") // White/Gray

	StyleTitle   = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	StyleSubtle  = lipgloss.NewStyle().Foreground(ColorSecondary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleText    = lipgloss.NewStyle().Foreground(ColorText)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			Padding(0, 1)

	StyleBox = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorSecondary).
			Padding(0, 1)
)

// HealthStyle colors a health or status band: green when good, orange when
// borderline, red when bad, plain otherwise.
func HealthStyle(band string) lipgloss.Style {
	switch band {
	case baseline.HealthExcellent, baseline.HealthGood,
		baseline.ScheduleAhead, baseline.ScheduleOnTrack,
		baseline.CostUnderBudget, baseline.CostOnBudget:
		return StyleSuccess
	case baseline.HealthFair, baseline.ScheduleBehind, baseline.CostOverBudget:
		return StyleWarning
	case baseline.HealthPoor, baseline.ScheduleSignificantlyBehind, baseline.CostSignificantlyOverBudget:
		return StyleError
	}
	return StyleText
}
