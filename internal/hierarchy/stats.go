package hierarchy

// Statistics derived per node. These are shared with the filtered-view
// recomputation, which re-derives them from re-aggregated totals.

// CostPerPatient is the node's total cost spread over its patients.
func CostPerPatient(cost float64, patients int) float64 {
	if patients == 0 {
		return 0
	}
	return cost / float64(patients)
}

// CostPerPatientPerAnnum annualizes cost-per-patient over the average
// treatment duration. Single-day activity is floored to one day so a
// zero-duration treatment never divides by zero.
func CostPerPatientPerAnnum(cost float64, patients int, avgDurationDays float64) float64 {
	if patients == 0 {
		return 0
	}
	if avgDurationDays < 1 {
		avgDurationDays = 1
	}
	return (cost / float64(patients)) * (365.0 / avgDurationDays)
}

// CadenceLabel summarizes an average administration interval as a dosing
// cadence. A zero interval means the node's patients typically had a
// single administration.
func CadenceLabel(avgIntervalDays float64) string {
	switch {
	case avgIntervalDays <= 0:
		return "one-off"
	case avgIntervalDays < 1.5:
		return "daily"
	case avgIntervalDays < 10:
		return "weekly"
	case avgIntervalDays < 45:
		return "monthly"
	case avgIntervalDays < 135:
		return "quarterly"
	default:
		return "intermittent"
	}
}
