// Package visibility decides whether tasks carrying a conditional tag should
// be shown, based on live project state, and keeps the tasks' hidden flags in
// sync with that decision.
package visibility

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/zenamanage/planengine/internal/component"
	"github.com/zenamanage/planengine/internal/project"
)

// Kind is the category a conditional tag falls into.
type Kind int

const (
	KindCategory Kind = iota // project tag set
	KindPhase                // project status
	KindFeature              // existence of a named component
	KindBudget               // planned cost of root components
)

func (k Kind) String() string {
	switch k {
	case KindPhase:
		return "phase"
	case KindFeature:
		return "feature"
	case KindBudget:
		return "budget"
	default:
		return "category"
	}
}

const (
	featurePrefix  = "has_"
	categoryPrefix = "category_"
)

// phaseTags maps each phase tag to the project statuses that activate it.
var phaseTags = map[string][]project.Status{
	"design_phase":    {project.StatusPlanning, project.StatusDesign, project.StatusInProgress},
	"execution_phase": {project.StatusInProgress},
	"closeout_phase":  {project.StatusCompleted},
}

const (
	BudgetHigh   = "budget_high"
	BudgetMedium = "budget_medium"
	BudgetLow    = "budget_low"
)

// Thresholds bound the budget tags: budget_high at or above High, budget_low
// below Low, budget_medium in between.
type Thresholds struct {
	High float64
	Low  float64
}

// DefaultThresholds returns the stock budget bands.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 1_000_000, Low: 100_000}
}

// NormalizeTag lowercases and trims a tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Classify returns the kind of a normalized tag.
func Classify(tag string) Kind {
	switch {
	case phaseTags[tag] != nil:
		return KindPhase
	case strings.HasPrefix(tag, featurePrefix) && len(tag) > len(featurePrefix):
		return KindFeature
	case tag == BudgetHigh || tag == BudgetMedium || tag == BudgetLow:
		return KindBudget
	default:
		return KindCategory
	}
}

// State is the project data a tag is evaluated against.
type State struct {
	Project    *project.Project
	Components []component.Component
}

// Evaluate reports whether tag is active for st.
func Evaluate(tag string, st State, th Thresholds) bool {
	tag = NormalizeTag(tag)
	if tag == "" || st.Project == nil {
		return false
	}
	switch Classify(tag) {
	case KindPhase:
		for _, s := range phaseTags[tag] {
			if st.Project.Status == s {
				return true
			}
		}
		return false
	case KindFeature:
		return hasFeature(st.Components, strings.TrimPrefix(tag, featurePrefix))
	case KindBudget:
		return budgetBand(RootPlannedCost(st.Components), th) == tag
	default:
		if name, ok := strings.CutPrefix(tag, categoryPrefix); ok && name != "" {
			return st.Project.HasTag(name) || st.Project.HasTag(tag)
		}
		return st.Project.HasTag(tag)
	}
}

// hasFeature reports whether any component name contains feature, compared
// case-folded with underscores read as spaces.
func hasFeature(comps []component.Component, feature string) bool {
	fold := cases.Fold()
	want := fold.String(strings.ReplaceAll(feature, "_", " "))
	raw := fold.String(feature)
	for _, c := range comps {
		name := fold.String(c.Name)
		if strings.Contains(name, want) || strings.Contains(name, raw) {
			return true
		}
	}
	return false
}

// RootPlannedCost sums the planned cost of root components.
func RootPlannedCost(comps []component.Component) float64 {
	ids := make(map[string]bool, len(comps))
	for _, c := range comps {
		ids[c.ID] = true
	}
	var total float64
	for _, c := range comps {
		if c.IsRoot() || !ids[c.ParentID] {
			total += c.PlannedCost
		}
	}
	return total
}

func budgetBand(total float64, th Thresholds) string {
	switch {
	case total >= th.High:
		return BudgetHigh
	case total < th.Low:
		return BudgetLow
	default:
		return BudgetMedium
	}
}

// needsComponents reports whether evaluating tag reads the component tree.
func needsComponents(tag string) bool {
	k := Classify(tag)
	return k == KindFeature || k == KindBudget
}
