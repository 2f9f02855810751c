// Package filterview re-derives a structurally consistent filtered tree
// from a previously built node set, without returning to raw intervention
// records. Recompute is pure and synchronous: it never mutates its input
// and performs no I/O, so repeated interactive filtering stays cheap and
// concurrent calls are safe.
package filterview

import (
	"sort"
	"strings"
	"time"

	"github.com/gyeh/rx-pathways/internal/hierarchy"
	"github.com/gyeh/rx-pathways/internal/model"
)

// InclusionSet names the drugs and organizations to retain. An empty or
// nil set on a dimension leaves that dimension unconstrained, matching the
// convention used by upstream filter UIs.
type InclusionSet struct {
	Drugs map[string]struct{}
	Orgs  map[string]struct{}
}

// NewInclusionSet builds an inclusion set from slices; empty slices leave
// the dimension unconstrained. Drug matching is case-insensitive.
func NewInclusionSet(drugs, orgs []string) InclusionSet {
	inc := InclusionSet{}
	if len(drugs) > 0 {
		inc.Drugs = map[string]struct{}{}
		for _, d := range drugs {
			inc.Drugs[strings.ToLower(d)] = struct{}{}
		}
	}
	if len(orgs) > 0 {
		inc.Orgs = map[string]struct{}{}
		for _, o := range orgs {
			inc.Orgs[o] = struct{}{}
		}
	}
	return inc
}

func (inc InclusionSet) orgOK(org string) bool {
	if len(inc.Orgs) == 0 {
		return true
	}
	_, ok := inc.Orgs[org]
	return ok
}

// drugsOK reports whether a pathway reaches at least one included drug.
func (inc InclusionSet) drugsOK(drugs []string) bool {
	if len(inc.Drugs) == 0 {
		return true
	}
	for _, d := range drugs {
		if _, ok := inc.Drugs[strings.ToLower(d)]; ok {
			return true
		}
	}
	return false
}

// Totals are the aggregate figures shown alongside the filtered tree. They
// always describe the filtered tree, never the unfiltered one.
type Totals struct {
	Patients  int     `json:"patients"`
	Drugs     int     `json:"drugs"` // distinct drugs across retained pathways
	TotalCost float64 `json:"total_cost"`
}

// View is a recomputed filtered tree.
type View struct {
	Nodes  []model.PathwayNode `json:"nodes"`
	Totals Totals              `json:"totals"`
}

// weights are the re-aggregated additive figures for one surviving node.
type weights struct {
	patients    int
	cost        float64
	durSum      float64
	intSum      float64
	first, last time.Time
	hasDates    bool
}

func (w *weights) addDates(first, last time.Time) {
	if !w.hasDates {
		w.first, w.last, w.hasDates = first, last, true
		return
	}
	if first.Before(w.first) {
		w.first = first
	}
	if last.After(w.last) {
		w.last = last
	}
}

// Recompute prunes and re-aggregates a stored tree against an inclusion
// set. Every patient cohort's terminal node is recovered from the stored
// counts (a node's count minus its children's counts is the number of
// pathways ending there); retained terminals are summed back up the
// ancestor chain, so surviving ancestors never reflect pruned patients.
func Recompute(nodes []model.PathwayNode, inc InclusionSet) *View {
	type entry struct {
		node     model.PathwayNode
		key      model.PathKey
		children []*entry

		termPatients int
		termCost     float64
		termDurSum   float64
		termIntSum   float64
		retained     bool // terminal weight passes the inclusion set
		w            weights
	}

	byPath := make(map[string]*entry, len(nodes))
	for _, n := range nodes {
		key, err := n.Key()
		if err != nil {
			continue // inconsistent store content; skip rather than fault
		}
		byPath[n.Path] = &entry{node: n, key: key}
	}
	ordered := make([]*entry, 0, len(byPath))
	for _, e := range byPath {
		ordered = append(ordered, e)
	}
	// Deepest first, so children are finished before their parents.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].key.Level() != ordered[j].key.Level() {
			return ordered[i].key.Level() > ordered[j].key.Level()
		}
		return ordered[i].node.Path < ordered[j].node.Path
	})
	for _, e := range ordered {
		if parent, ok := byPath[e.node.Parent]; ok {
			parent.children = append(parent.children, e)
		}
	}

	// Terminal weight per node: stored aggregates minus the children's
	// stored aggregates. Levels 0-2 only carry terminal weight when the
	// offline threshold pruned their drug-level descendants; those
	// pathways' drug sequences are unknown, so a drug filter excludes
	// them (accepted coverage reduction).
	for _, e := range ordered {
		childPatients, childCost, childDur, childInt := 0, 0.0, 0.0, 0.0
		for _, c := range e.children {
			childPatients += c.node.Patients
			childCost += c.node.TotalCost
			childDur += c.node.AvgDurationDays * float64(c.node.Patients)
			childInt += c.node.AvgIntervalDays * float64(c.node.Patients)
		}
		e.termPatients = e.node.Patients - childPatients
		e.termCost = e.node.TotalCost - childCost
		e.termDurSum = e.node.AvgDurationDays*float64(e.node.Patients) - childDur
		e.termIntSum = e.node.AvgIntervalDays*float64(e.node.Patients) - childInt
		if e.termPatients <= 0 {
			e.termPatients, e.termCost, e.termDurSum, e.termIntSum = 0, 0, 0, 0
		}
		if e.termPatients > 0 {
			if e.key.Level() >= 3 {
				e.retained = inc.orgOK(e.key.Org) && inc.drugsOK(e.key.Drugs)
			} else {
				e.retained = inc.orgOK(e.key.Org) && len(inc.Drugs) == 0
			}
		}
	}

	// Bottom-up re-aggregation: retained terminal weight plus surviving
	// children. Date ranges come from surviving children, plus the node's
	// stored range when its own terminal cohort survives.
	for _, e := range ordered {
		if e.retained {
			e.w.patients += e.termPatients
			e.w.cost += e.termCost
			e.w.durSum += e.termDurSum
			e.w.intSum += e.termIntSum
			e.w.addDates(e.node.FirstSeen, e.node.LastSeen)
		}
		for _, c := range e.children {
			if c.w.patients == 0 {
				continue
			}
			e.w.patients += c.w.patients
			e.w.cost += c.w.cost
			e.w.durSum += c.w.durSum
			e.w.intSum += c.w.intSum
			e.w.addDates(c.w.first, c.w.last)
		}
	}

	view := &View{Nodes: []model.PathwayNode{}}
	drugs := map[string]struct{}{}
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if e.w.patients == 0 {
			continue
		}
		avgDur := e.w.durSum / float64(e.w.patients)
		n := model.PathwayNode{
			Path:                   e.node.Path,
			Parent:                 e.node.Parent,
			Label:                  e.node.Label,
			Level:                  e.node.Level,
			Patients:               e.w.patients,
			TotalCost:              e.w.cost,
			CostPerPatient:         hierarchy.CostPerPatient(e.w.cost, e.w.patients),
			CostPerPatientPerAnnum: hierarchy.CostPerPatientPerAnnum(e.w.cost, e.w.patients, avgDur),
			FirstSeen:              e.w.first,
			LastSeen:               e.w.last,
			AvgDurationDays:        avgDur,
			AvgIntervalDays:        e.w.intSum / float64(e.w.patients),
		}
		n.Cadence = hierarchy.CadenceLabel(n.AvgIntervalDays)
		if parent, ok := byPath[e.node.Parent]; ok && parent.w.patients > 0 {
			n.ParentFirstSeen = parent.w.first
			n.ParentLastSeen = parent.w.last
		}
		view.Nodes = append(view.Nodes, n)

		if e.key.Level() >= 3 && e.retained {
			for _, d := range e.key.Drugs {
				drugs[strings.ToLower(d)] = struct{}{}
			}
		}
		if e.key.Level() == 0 {
			view.Totals.Patients = e.w.patients
			view.Totals.TotalCost = e.w.cost
		}
	}
	view.Totals.Drugs = len(drugs)
	// Consumers rely on path identifiers, not array order, but a sorted
	// order keeps the output diffable.
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].Path < view.Nodes[j].Path })
	return view
}
