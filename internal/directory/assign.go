// Package directory assigns every intervention record a level-2 clinical
// grouping label, deterministically, even when the record's explicit
// metadata is ambiguous or missing.
package directory

import (
	"sort"
	"strings"

	"github.com/gyeh/rx-pathways/internal/model"
	"github.com/gyeh/rx-pathways/internal/refdata"
)

// Undefined is the sentinel grouping assigned when every other resolution
// step comes up empty.
const Undefined = "Undefined"

// Resolution methods, retained for audit.
const (
	MethodReference   = "reference"
	MethodDescriptor  = "descriptor"
	MethodPatientDrug = "patient-drug"
	MethodPatient     = "patient"
	MethodUndefined   = "undefined"
)

// Assignment is a resolved grouping label plus the cascade step that
// produced it.
type Assignment struct {
	Grouping string
	Method   string
}

// step attempts one resolution strategy; an empty label means no match.
type step struct {
	method  string
	resolve func(rec model.InterventionRecord) string
}

// Assigner resolves grouping labels through a fixed fallback cascade:
// unique reference mapping, descriptor extraction, the most frequent
// grouping for the same patient+drug pair, the most frequent grouping for
// the patient, then the Undefined sentinel. The first non-empty result
// wins, so Assign never fails.
type Assigner struct {
	ref       *refdata.Reference
	steps     []step
	groupings []string // known grouping names, sorted for deterministic scans

	byPatientDrug map[string]map[string]int
	byPatient     map[string]map[string]int
}

// NewAssigner builds an assigner over the full record set. The record set
// is scanned once up front so the frequency-based fallback steps are O(1)
// per record afterwards.
func NewAssigner(ref *refdata.Reference, records []model.InterventionRecord) *Assigner {
	a := &Assigner{
		ref:           ref,
		byPatientDrug: map[string]map[string]int{},
		byPatient:     map[string]map[string]int{},
	}
	for _, rec := range records {
		if rec.Grouping == "" || rec.Grouping == Undefined {
			continue
		}
		bump(a.byPatientDrug, patientDrugKey(rec.PatientID, rec.Drug), rec.Grouping)
		bump(a.byPatient, rec.PatientID, rec.Grouping)
	}
	seen := map[string]struct{}{}
	for _, gs := range ref.DrugGroupings {
		for _, g := range gs {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				a.groupings = append(a.groupings, g)
			}
		}
	}
	sort.Strings(a.groupings)
	a.steps = []step{
		{MethodReference, a.fromReference},
		{MethodDescriptor, a.fromDescriptors},
		{MethodPatientDrug, a.fromPatientDrug},
		{MethodPatient, a.fromPatient},
	}
	return a
}

// Assign resolves the grouping for one record.
func (a *Assigner) Assign(rec model.InterventionRecord) Assignment {
	for _, s := range a.steps {
		if label := s.resolve(rec); label != "" {
			return Assignment{Grouping: label, Method: s.method}
		}
	}
	return Assignment{Grouping: Undefined, Method: MethodUndefined}
}

// fromReference matches only when the drug has exactly one clinically
// valid grouping.
func (a *Assigner) fromReference(rec model.InterventionRecord) string {
	gs := a.ref.ValidGroupings(rec.Drug)
	if len(gs) == 1 {
		return gs[0]
	}
	return ""
}

// fromDescriptors scans the record's free-text descriptor fields for a
// grouping name known to the reference map, matched case-insensitively as
// a substring. Groupings are scanned in sorted order so a descriptor
// mentioning several resolves the same way every run.
func (a *Assigner) fromDescriptors(rec model.InterventionRecord) string {
	for _, d := range rec.Descriptors {
		lower := strings.ToLower(d)
		for _, g := range a.groupings {
			if strings.Contains(lower, strings.ToLower(g)) {
				return g
			}
		}
	}
	return ""
}

func (a *Assigner) fromPatientDrug(rec model.InterventionRecord) string {
	return mode(a.byPatientDrug[patientDrugKey(rec.PatientID, rec.Drug)])
}

func (a *Assigner) fromPatient(rec model.InterventionRecord) string {
	return mode(a.byPatient[rec.PatientID])
}

func patientDrugKey(patient, drug string) string {
	return patient + "\t" + strings.ToLower(drug)
}

func bump(m map[string]map[string]int, key, grouping string) {
	inner, ok := m[key]
	if !ok {
		inner = map[string]int{}
		m[key] = inner
	}
	inner[grouping]++
}

// mode returns the most frequent grouping, breaking ties lexicographically
// so assignment stays deterministic across runs.
func mode(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, l := range labels[1:] {
		if counts[l] > counts[best] {
			best = l
		}
	}
	return best
}
