// Package hierarchy builds the pathway node tree from intervention
// records: the offline half of the engine. The online half lives in
// filterview.
package hierarchy

import (
	"sort"
	"strings"
	"time"

	"github.com/exascience/pargo/parallel"

	"github.com/gyeh/rx-pathways/internal/directory"
	"github.com/gyeh/rx-pathways/internal/model"
)

// Params configures one offline tree build.
type Params struct {
	Window  model.FilterWindow
	Variant model.Variant

	// MinPatients drops nodes with fewer patients. Patients under a
	// dropped node are not redistributed to siblings; they remain counted
	// at surviving ancestors only.
	MinPatients int

	// Now anchors the window cutoffs; zero means time.Now.
	Now time.Time

	// Labels overrides the per-patient level-2 label, keyed by patient
	// identifier (indication variant). Patients without an entry use the
	// grouping on their first record.
	Labels map[string]string
}

// Result is one built tree plus its construction counters.
type Result struct {
	Nodes    []model.PathwayNode
	Patients int // patients inside the window
	Excluded int // records dropped for missing required fields
}

// pathway is one patient's summarized in-window treatment history.
type pathway struct {
	key             model.PathKey // full-depth key; prefixes give the ancestor chain
	cost            float64
	first, last     time.Time
	durationDays    float64
	pathwayInterval float64   // mean gap between all administrations
	lineIntervals   []float64 // mean gap within each drug line, aligned with key.Drugs
}

// acc accumulates per-path statistics while walking patients.
type acc struct {
	patients    int
	cost        float64
	first, last time.Time
	durSum      float64 // patient-weighted duration sum
	intSum      float64 // patient-weighted administration-interval sum
}

func (a *acc) add(patients int, cost float64, first, last time.Time, dur, interval float64) {
	a.patients += patients
	a.cost += cost
	a.durSum += dur
	a.intSum += interval
	if a.first.IsZero() || first.Before(a.first) {
		a.first = first
	}
	if last.After(a.last) {
		a.last = last
	}
}

// Build runs the offline transformation for one (window, variant) pair.
// It is a pure function over its inputs: running it twice on the same
// record set yields identical node sets.
func Build(records []model.InterventionRecord, p Params) *Result {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	if p.MinPatients <= 0 {
		p.MinPatients = 1
	}

	valid, excluded := model.CleanRecords(records)
	result := &Result{Excluded: excluded}

	byPatient := map[string][]model.InterventionRecord{}
	for _, r := range valid {
		byPatient[r.PatientID] = append(byPatient[r.PatientID], r)
	}
	patients := make([]string, 0, len(byPatient))
	for id := range byPatient {
		patients = append(patients, id)
	}
	sort.Strings(patients)

	// Summarize and accumulate patients in parallel shards, then merge the
	// per-shard path accumulators. Patients are disjoint across shards so
	// the merge is a plain sum.
	merged := parallel.RangeReduce(0, len(patients), 0, func(low, high int) interface{} {
		paths := map[string]*acc{}
		for _, id := range patients[low:high] {
			pw, ok := summarize(id, byPatient[id], p)
			if !ok {
				continue
			}
			accumulate(paths, pw)
		}
		return paths
	}, func(left, right interface{}) interface{} {
		l := left.(map[string]*acc)
		for path, ra := range right.(map[string]*acc) {
			la, ok := l[path]
			if !ok {
				l[path] = ra
				continue
			}
			la.add(ra.patients, ra.cost, ra.first, ra.last, ra.durSum, ra.intSum)
		}
		return l
	}).(map[string]*acc)

	if root, ok := merged[model.RootSegment]; ok {
		result.Patients = root.patients
	}
	result.Nodes = emit(merged, p.MinPatients)
	return result
}

// summarize sorts one patient's records, applies the window, and collapses
// consecutive same-drug events into ordered drug lines. Same-date events
// keep their input order.
func summarize(id string, recs []model.InterventionRecord, p Params) (pathway, bool) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })

	first := recs[0].Date
	last := recs[len(recs)-1].Date
	if !p.Window.Contains(first, last, p.Now) {
		return pathway{}, false
	}

	org := recs[0].Org
	if org == "" {
		org = "unknown"
	}
	grouping := recs[0].Grouping
	// Override labels are not record-validated; one carrying the ancestor
	// delimiter would corrupt the path identifier, so it is ignored.
	if label, ok := p.Labels[id]; ok && label != "" && !strings.Contains(label, model.AncestorSep) {
		grouping = label
	}
	if grouping == "" {
		grouping = directory.Undefined
	}

	pw := pathway{first: first, last: last}
	pw.durationDays = last.Sub(first).Hours() / 24
	if pw.durationDays < 1 {
		pw.durationDays = 1
	}

	var drugs []string
	var lineDates [][]time.Time
	for _, r := range recs {
		pw.cost += r.Cost
		if n := len(drugs); n > 0 && drugs[n-1] == r.Drug {
			lineDates[n-1] = append(lineDates[n-1], r.Date)
			continue
		}
		drugs = append(drugs, r.Drug)
		lineDates = append(lineDates, []time.Time{r.Date})
	}
	pw.key = model.PathKey{Org: org, Grouping: grouping, Drugs: drugs}

	pw.lineIntervals = make([]float64, len(drugs))
	for i, dates := range lineDates {
		pw.lineIntervals[i] = meanGapDays(dates)
	}
	allDates := make([]time.Time, 0, len(recs))
	for _, r := range recs {
		allDates = append(allDates, r.Date)
	}
	pw.pathwayInterval = meanGapDays(allDates)

	return pw, true
}

// accumulate adds one patient to every node on their ancestor chain: root,
// organization, grouping, and each drug-sequence prefix. The whole-pathway
// cost and duration are attributed at every level; the administration
// interval narrows to the prefix's last drug line at levels 3+.
func accumulate(paths map[string]*acc, pw pathway) {
	chain := []model.PathKey{
		{},
		{Org: pw.key.Org},
		{Org: pw.key.Org, Grouping: pw.key.Grouping},
	}
	for i := 1; i <= len(pw.key.Drugs); i++ {
		chain = append(chain, model.PathKey{Org: pw.key.Org, Grouping: pw.key.Grouping, Drugs: pw.key.Drugs[:i]})
	}
	for _, key := range chain {
		interval := pw.pathwayInterval
		if n := len(key.Drugs); n > 0 {
			interval = pw.lineIntervals[n-1]
		}
		path := key.Encode()
		a, ok := paths[path]
		if !ok {
			a = &acc{}
			paths[path] = a
		}
		a.add(1, pw.cost, pw.first, pw.last, pw.durationDays, interval)
	}
}

// emit turns the accumulators into pathway nodes, applying the
// minimum-patient threshold to every non-root node. A child can never
// outcount its parent, so pruning keeps the tree connected.
func emit(paths map[string]*acc, minPatients int) []model.PathwayNode {
	keep := make([]string, 0, len(paths))
	for path, a := range paths {
		if path != model.RootSegment && a.patients < minPatients {
			continue
		}
		keep = append(keep, path)
	}
	sort.Strings(keep)

	nodes := make([]model.PathwayNode, 0, len(keep))
	for _, path := range keep {
		a := paths[path]
		key, err := model.DecodePathKey(path)
		if err != nil {
			// Unreachable: paths are encoded from validated records and
			// delimiter-checked override labels.
			continue
		}
		node := model.PathwayNode{
			Path:                   path,
			Label:                  key.Label(),
			Level:                  key.Level(),
			Patients:               a.patients,
			TotalCost:              a.cost,
			CostPerPatient:         CostPerPatient(a.cost, a.patients),
			CostPerPatientPerAnnum: CostPerPatientPerAnnum(a.cost, a.patients, a.durSum/float64(a.patients)),
			FirstSeen:              a.first,
			LastSeen:               a.last,
			AvgDurationDays:        a.durSum / float64(a.patients),
			AvgIntervalDays:        a.intSum / float64(a.patients),
		}
		node.Cadence = CadenceLabel(node.AvgIntervalDays)
		if parent, ok := key.Parent(); ok {
			node.Parent = parent.Encode()
			if pa, ok := paths[node.Parent]; ok {
				node.ParentFirstSeen = pa.first
				node.ParentLastSeen = pa.last
			}
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// meanGapDays returns the mean gap in days between consecutive dates, or
// zero for fewer than two dates.
func meanGapDays(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	total := dates[len(dates)-1].Sub(dates[0]).Hours() / 24
	return total / float64(len(dates)-1)
}
