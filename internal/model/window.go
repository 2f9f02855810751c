package model

import "time"

// Variant selects how the level-2 grouping label is resolved.
type Variant string

const (
	// VariantDirectorate groups by the clinical specialty assigned by the
	// directory assigner.
	VariantDirectorate Variant = "directorate"

	// VariantIndication groups by the diagnosed condition resolved by the
	// diagnosis matcher, falling back to the directorate label.
	VariantIndication Variant = "indication"
)

// Variants lists the supported hierarchy variants.
func Variants() []Variant {
	return []Variant{VariantDirectorate, VariantIndication}
}

// FilterWindow is a named pair of patient-level cutoffs: how recently
// treatment must have been initiated and how recently activity must have
// been seen. Zero months means unbounded on that dimension. Each
// (window, variant) pair produces one independently stored tree.
type FilterWindow struct {
	Name                  string `yaml:"name"`
	InitiatedWithinMonths int    `yaml:"initiated_within_months"`
	ActiveWithinMonths    int    `yaml:"active_within_months"`
}

// Contains reports whether a patient whose first and last in-scope events
// fall on the given dates is inside the window, relative to now.
func (w FilterWindow) Contains(first, last, now time.Time) bool {
	if w.InitiatedWithinMonths > 0 {
		cutoff := now.AddDate(0, -w.InitiatedWithinMonths, 0)
		if first.Before(cutoff) {
			return false
		}
	}
	if w.ActiveWithinMonths > 0 {
		cutoff := now.AddDate(0, -w.ActiveWithinMonths, 0)
		if last.Before(cutoff) {
			return false
		}
	}
	return true
}

// DefaultWindows is the fixed window catalog used when the run
// configuration does not override it.
func DefaultWindows() []FilterWindow {
	return []FilterWindow{
		{Name: "all"},
		{Name: "initiated-6m", InitiatedWithinMonths: 6},
		{Name: "initiated-12m", InitiatedWithinMonths: 12},
		{Name: "initiated-24m", InitiatedWithinMonths: 24},
		{Name: "active-6m", ActiveWithinMonths: 6},
		{Name: "incident-12m", InitiatedWithinMonths: 12, ActiveWithinMonths: 6},
	}
}
