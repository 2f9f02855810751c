package model

import "time"

// PathwayNode is one aggregated entry in the output tree. A node's
// statistics cover the entire in-window pathway of every patient routed
// through it, so for every non-root node the patient count equals the sum
// of its direct children's counts plus the patients whose pathway
// terminates at the node. Nodes are written once per offline run and never
// mutated; a changed inclusion set yields an entirely new node set.
type PathwayNode struct {
	Path   string `json:"path"`
	Parent string `json:"parent,omitempty"` // absent for the root
	Label  string `json:"label"`
	Level  int    `json:"level"`

	Patients  int     `json:"patients"`
	TotalCost float64 `json:"total_cost"`

	CostPerPatient         float64 `json:"cost_per_patient"`
	CostPerPatientPerAnnum float64 `json:"cost_per_patient_per_annum"`

	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	ParentFirstSeen time.Time `json:"parent_first_seen,omitzero"`
	ParentLastSeen  time.Time `json:"parent_last_seen,omitzero"`

	// AvgDurationDays is the mean treatment duration (first to last
	// in-window activity, 1-day floor) of the node's patients.
	AvgDurationDays float64 `json:"avg_duration_days"`

	// AvgIntervalDays is the mean gap between consecutive administrations;
	// for drug nodes this covers the node's last drug line, for levels 0-2
	// the whole pathway. Zero when patients had a single administration.
	AvgIntervalDays float64 `json:"avg_interval_days"`

	// Cadence is the dosing-cadence summary derived from AvgIntervalDays.
	Cadence string `json:"cadence"`
}

// Key decodes the node's path identifier.
func (n PathwayNode) Key() (PathKey, error) {
	return DecodePathKey(n.Path)
}
