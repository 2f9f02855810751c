package filterview

import (
	"testing"
	"time"

	"github.com/gyeh/rx-pathways/internal/hierarchy"
	"github.com/gyeh/rx-pathways/internal/model"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func rec(patient, drug, day string, cost float64, org string) model.InterventionRecord {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return model.InterventionRecord{
		PatientID: patient,
		Drug:      drug,
		Date:      d,
		Cost:      cost,
		Org:       org,
		Grouping:  "Cardiology",
	}
}

// buildTree runs the offline builder so filtered views are tested against
// trees in exactly the shape the store persists.
func buildTree(t *testing.T, records []model.InterventionRecord, minPatients int) []model.PathwayNode {
	t.Helper()
	result := hierarchy.Build(records, hierarchy.Params{
		Window:      model.FilterWindow{Name: "all"},
		Variant:     model.VariantDirectorate,
		MinPatients: minPatients,
		Now:         testNow,
	})
	return result.Nodes
}

// Three patients in RX1: A→B, A→B, A only.
func threePatientTree(t *testing.T) []model.PathwayNode {
	t.Helper()
	return buildTree(t, []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10, "RX1"),
		rec("p1", "B", "2024-02-01", 20, "RX1"),
		rec("p2", "A", "2024-01-15", 10, "RX1"),
		rec("p2", "B", "2024-03-01", 20, "RX1"),
		rec("p3", "A", "2024-01-20", 10, "RX1"),
	}, 1)
}

func viewNode(t *testing.T, v *View, path string) model.PathwayNode {
	t.Helper()
	for _, n := range v.Nodes {
		if n.Path == path {
			return n
		}
	}
	t.Fatalf("node %q not in view (%d nodes)", path, len(v.Nodes))
	return model.PathwayNode{}
}

func hasNode(v *View, path string) bool {
	for _, n := range v.Nodes {
		if n.Path == path {
			return true
		}
	}
	return false
}

func TestRecomputeEmptySetIsIsomorphic(t *testing.T) {
	stored := threePatientTree(t)
	view := Recompute(stored, InclusionSet{})

	if len(view.Nodes) != len(stored) {
		t.Fatalf("view has %d nodes, stored tree has %d", len(view.Nodes), len(stored))
	}
	for _, want := range stored {
		got := viewNode(t, view, want.Path)
		if got.Patients != want.Patients {
			t.Errorf("patients(%s) = %d, want %d", want.Path, got.Patients, want.Patients)
		}
		if got.TotalCost != want.TotalCost {
			t.Errorf("cost(%s) = %v, want %v", want.Path, got.TotalCost, want.TotalCost)
		}
		if !got.FirstSeen.Equal(want.FirstSeen) || !got.LastSeen.Equal(want.LastSeen) {
			t.Errorf("dates(%s) = %v..%v, want %v..%v",
				want.Path, got.FirstSeen, got.LastSeen, want.FirstSeen, want.LastSeen)
		}
	}
	if view.Totals.Patients != 3 {
		t.Errorf("total patients = %d, want 3", view.Totals.Patients)
	}
}

// Filtering to drug B keeps the patients who reached B, with the A node
// recomputed to that cohort rather than the original three.
func TestRecomputeDrugFilterKeepsReachingCohort(t *testing.T) {
	view := Recompute(threePatientTree(t), NewInclusionSet([]string{"B"}, nil))

	if got := viewNode(t, view, "all|RX1|Cardiology|A>B").Patients; got != 2 {
		t.Errorf("A>B patients = %d, want 2", got)
	}
	if got := viewNode(t, view, "all|RX1|Cardiology|A").Patients; got != 2 {
		t.Errorf("A patients = %d, want 2", got)
	}
	if got := viewNode(t, view, "all").Patients; got != 2 {
		t.Errorf("root patients = %d, want 2", got)
	}
	if view.Totals.Patients != 2 {
		t.Errorf("total patients = %d, want 2", view.Totals.Patients)
	}
	// Both A and B appear in the retained pathways.
	if view.Totals.Drugs != 2 {
		t.Errorf("distinct drugs = %d, want 2", view.Totals.Drugs)
	}
	// Cohort cost: two full A→B pathways at 30 each.
	if got := viewNode(t, view, "all").TotalCost; got != 60 {
		t.Errorf("total cost = %v, want 60", got)
	}
}

func TestRecomputeNarrowingNeverGrowsCounts(t *testing.T) {
	stored := threePatientTree(t)
	wide := Recompute(stored, NewInclusionSet([]string{"A", "B"}, nil))
	narrow := Recompute(stored, NewInclusionSet([]string{"B"}, nil))

	wideByPath := map[string]int{}
	for _, n := range wide.Nodes {
		wideByPath[n.Path] = n.Patients
	}
	for _, n := range narrow.Nodes {
		if n.Patients > wideByPath[n.Path] {
			t.Errorf("node %s grew from %d to %d under a narrower filter",
				n.Path, wideByPath[n.Path], n.Patients)
		}
	}
	if narrow.Totals.Patients > wide.Totals.Patients {
		t.Errorf("totals grew: %d > %d", narrow.Totals.Patients, wide.Totals.Patients)
	}
}

func TestRecomputeOrgFilter(t *testing.T) {
	stored := buildTree(t, []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10, "RX1"),
		rec("p2", "A", "2024-01-01", 10, "RX2"),
		rec("p3", "B", "2024-01-01", 10, "RX2"),
	}, 1)
	view := Recompute(stored, NewInclusionSet(nil, []string{"RX2"}))

	if hasNode(view, "all|RX1") {
		t.Error("excluded organization survived")
	}
	if got := viewNode(t, view, "all|RX2").Patients; got != 2 {
		t.Errorf("RX2 patients = %d, want 2", got)
	}
	if got := viewNode(t, view, "all").Patients; got != 2 {
		t.Errorf("root patients = %d, want 2", got)
	}
}

func TestRecomputeUnknownEntitiesYieldEmptyView(t *testing.T) {
	view := Recompute(threePatientTree(t), NewInclusionSet([]string{"nonexistent"}, nil))
	if len(view.Nodes) != 0 {
		t.Fatalf("expected empty view, got %d nodes", len(view.Nodes))
	}
	if view.Totals.Patients != 0 || view.Totals.Drugs != 0 || view.Totals.TotalCost != 0 {
		t.Errorf("totals not zeroed: %+v", view.Totals)
	}
}

// A threshold-pruned cohort has no drug-level nodes in the stored tree, so
// its drug sequence is unknowable: drug filters drop it, entity-free and
// org-only views keep it at the levels where it was stored.
func TestRecomputePrunedCohortSurvivesOnlyWithoutDrugFilter(t *testing.T) {
	stored := buildTree(t, []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10, "RX1"),
		rec("p2", "A", "2024-01-01", 10, "RX1"),
		rec("p9", "Z", "2024-01-01", 50, "RX1"), // pruned below threshold
	}, 2)

	unfiltered := Recompute(stored, InclusionSet{})
	if got := viewNode(t, unfiltered, "all|RX1|Cardiology").Patients; got != 3 {
		t.Errorf("unfiltered grouping = %d, want 3", got)
	}

	filtered := Recompute(stored, NewInclusionSet([]string{"A"}, nil))
	if got := viewNode(t, filtered, "all|RX1|Cardiology").Patients; got != 2 {
		t.Errorf("drug-filtered grouping = %d, want 2", got)
	}
}

func TestRecomputeCaseInsensitiveDrugMatch(t *testing.T) {
	view := Recompute(threePatientTree(t), NewInclusionSet([]string{"b"}, nil))
	if view.Totals.Patients != 2 {
		t.Errorf("case-insensitive match patients = %d, want 2", view.Totals.Patients)
	}
}

func TestRecomputeDoesNotMutateInput(t *testing.T) {
	stored := threePatientTree(t)
	before := make([]model.PathwayNode, len(stored))
	copy(before, stored)

	Recompute(stored, NewInclusionSet([]string{"B"}, nil))

	for i := range stored {
		if stored[i] != before[i] {
			t.Fatalf("input node %d mutated", i)
		}
	}
}
