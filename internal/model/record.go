package model

import (
	"strings"
	"time"
)

// InterventionRecord is one dated drug administration event for one patient.
// Records are produced by the warehouse fetch layer and are immutable once
// the level-2 grouping label has been resolved.
type InterventionRecord struct {
	PatientID string
	Drug      string // standardized drug name
	Date      time.Time
	Cost      float64
	Org       string // organization code
	Grouping  string // resolved level-2 clinical grouping label

	// Free-text descriptor fields carried from the source system, used by
	// the directory assigner when the reference map is ambiguous.
	Descriptors []string
}

// Valid reports whether a record carries the fields hierarchy construction
// requires. Drug names containing a path delimiter are rejected because the
// path identifier could not be decoded losslessly; organization and grouping
// labels reject the ancestor delimiter for the same reason.
func (r InterventionRecord) Valid() bool {
	if r.PatientID == "" || r.Drug == "" || r.Date.IsZero() {
		return false
	}
	if strings.ContainsAny(r.Drug, AncestorSep+SequenceSep) {
		return false
	}
	if strings.Contains(r.Org, AncestorSep) || strings.Contains(r.Grouping, AncestorSep) {
		return false
	}
	return true
}

// CleanRecords splits records into those usable for hierarchy construction
// and a count of excluded ones. Excluded records are counted, never silently
// dropped without trace.
func CleanRecords(records []InterventionRecord) ([]InterventionRecord, int) {
	valid := make([]InterventionRecord, 0, len(records))
	excluded := 0
	for _, r := range records {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			excluded++
		}
	}
	return valid, excluded
}
