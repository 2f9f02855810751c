package hierarchy

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/gyeh/rx-pathways/internal/model"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func rec(patient, drug, day string, cost float64) model.InterventionRecord {
	return model.InterventionRecord{
		PatientID: patient,
		Drug:      drug,
		Date:      date(day),
		Cost:      cost,
		Org:       "RX1",
		Grouping:  "Cardiology",
	}
}

func testParams() Params {
	return Params{
		Window:  model.FilterWindow{Name: "all"},
		Variant: model.VariantDirectorate,
		Now:     testNow,
	}
}

func nodeByPath(t *testing.T, nodes []model.PathwayNode, path string) model.PathwayNode {
	t.Helper()
	for _, n := range nodes {
		if n.Path == path {
			return n
		}
	}
	t.Fatalf("node %q not found in %d nodes", path, len(nodes))
	return model.PathwayNode{}
}

// Three patients: A→B, A→B, A only. The canonical counting scenario.
func threePatientRecords() []model.InterventionRecord {
	return []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10),
		rec("p1", "B", "2024-02-01", 20),
		rec("p2", "A", "2024-01-15", 10),
		rec("p2", "B", "2024-03-01", 20),
		rec("p3", "A", "2024-01-20", 10),
	}
}

func TestBuildCounts(t *testing.T) {
	result := Build(threePatientRecords(), testParams())

	wantCounts := map[string]int{
		"all":                      3,
		"all|RX1":                  3,
		"all|RX1|Cardiology":       3,
		"all|RX1|Cardiology|A":     3,
		"all|RX1|Cardiology|A>B":   2,
	}
	if len(result.Nodes) != len(wantCounts) {
		t.Fatalf("got %d nodes, want %d", len(result.Nodes), len(wantCounts))
	}
	for path, want := range wantCounts {
		if got := nodeByPath(t, result.Nodes, path).Patients; got != want {
			t.Errorf("patients(%s) = %d, want %d", path, got, want)
		}
	}
	if result.Patients != 3 {
		t.Errorf("result.Patients = %d, want 3", result.Patients)
	}
}

func TestBuildParentChildConsistency(t *testing.T) {
	records := append(threePatientRecords(),
		rec("p4", "C", "2024-01-01", 5),
		rec("p4", "A", "2024-02-01", 5),
		rec("p5", "C", "2024-04-01", 5),
	)
	result := Build(records, testParams())

	children := map[string][]model.PathwayNode{}
	byPath := map[string]model.PathwayNode{}
	for _, n := range result.Nodes {
		byPath[n.Path] = n
		if n.Parent != "" {
			children[n.Parent] = append(children[n.Parent], n)
		}
	}

	// Every patient is counted at each ancestor of their realized pathway:
	// a node's count is the sum of its children plus pathways ending there.
	for path, n := range byPath {
		sum := 0
		for _, c := range children[path] {
			sum += c.Patients
		}
		if sum > n.Patients {
			t.Errorf("children of %s sum to %d > parent count %d", path, sum, n.Patients)
		}
		if len(children[path]) > 0 && n.Level < 3 && sum != n.Patients {
			t.Errorf("node %s: count %d != child sum %d", path, n.Patients, sum)
		}
	}
}

func TestBuildIdempotent(t *testing.T) {
	records := threePatientRecords()
	a := Build(records, testParams())
	b := Build(records, testParams())
	if !reflect.DeepEqual(a.Nodes, b.Nodes) {
		t.Error("two builds over the same input differ")
	}
}

func TestBuildSingleEventPatient(t *testing.T) {
	result := Build([]model.InterventionRecord{rec("p1", "A", "2024-01-01", 100)}, testParams())

	n := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A")
	if n.Level != 3 {
		t.Errorf("level = %d, want 3", n.Level)
	}
	for _, node := range result.Nodes {
		if node.Level > 3 {
			t.Errorf("unexpected level-%d node %s", node.Level, node.Path)
		}
	}
	// Single-day activity: duration floors to one day instead of dividing
	// by zero.
	wantCPPA := 100.0 * 365.0
	if math.Abs(n.CostPerPatientPerAnnum-wantCPPA) > 1e-9 {
		t.Errorf("CPPA = %v, want %v", n.CostPerPatientPerAnnum, wantCPPA)
	}
	if n.Cadence != "one-off" {
		t.Errorf("cadence = %q, want one-off", n.Cadence)
	}
}

func TestBuildCostPerPatientPerAnnum(t *testing.T) {
	// Ten patients, 1000 each, all treated for 182.5 days: CPPA must be
	// (10000/10) * (365/182.5) = 2000.
	var records []model.InterventionRecord
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		start := date("2024-01-01")
		records = append(records,
			model.InterventionRecord{PatientID: id, Drug: "A", Date: start, Cost: 500, Org: "RX1", Grouping: "Cardiology"},
			model.InterventionRecord{PatientID: id, Drug: "A", Date: start.Add(time.Duration(182.5 * 24 * float64(time.Hour))), Cost: 500, Org: "RX1", Grouping: "Cardiology"},
		)
	}
	result := Build(records, testParams())

	n := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A")
	if n.Patients != 10 || math.Abs(n.TotalCost-10000) > 1e-9 {
		t.Fatalf("patients=%d cost=%v", n.Patients, n.TotalCost)
	}
	if math.Abs(n.CostPerPatientPerAnnum-2000) > 1e-9 {
		t.Errorf("CPPA = %v, want 2000", n.CostPerPatientPerAnnum)
	}
}

func TestBuildThresholdPruningWithoutRedistribution(t *testing.T) {
	records := append(threePatientRecords(),
		rec("p9", "Z", "2024-01-01", 50), // lone pathway, below threshold
	)
	p := testParams()
	p.MinPatients = 2
	result := Build(records, p)

	for _, n := range result.Nodes {
		if n.Label == "Z" {
			t.Errorf("below-threshold node %s survived", n.Path)
		}
	}
	// The pruned patient is not redistributed: ancestors keep counting it.
	if got := nodeByPath(t, result.Nodes, "all|RX1|Cardiology").Patients; got != 4 {
		t.Errorf("grouping count = %d, want 4", got)
	}
	if got := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A").Patients; got != 3 {
		t.Errorf("A count = %d, want 3", got)
	}
}

func TestBuildWindowExcludesPatients(t *testing.T) {
	records := []model.InterventionRecord{
		rec("old", "A", "2019-01-01", 10),
		rec("new", "A", "2025-03-01", 10),
	}
	p := testParams()
	p.Window = model.FilterWindow{Name: "initiated-12m", InitiatedWithinMonths: 12}
	result := Build(records, p)

	if result.Patients != 1 {
		t.Fatalf("patients in window = %d, want 1", result.Patients)
	}
	n := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A")
	if n.Patients != 1 {
		t.Errorf("A count = %d, want 1", n.Patients)
	}
}

func TestBuildLabelOverride(t *testing.T) {
	p := testParams()
	p.Variant = model.VariantIndication
	p.Labels = map[string]string{"p1": "Hypertension"}
	result := Build([]model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10),
		rec("p2", "A", "2024-01-01", 10),
	}, p)

	if got := nodeByPath(t, result.Nodes, "all|RX1|Hypertension|A").Patients; got != 1 {
		t.Errorf("override branch count = %d", got)
	}
	if got := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A").Patients; got != 1 {
		t.Errorf("default branch count = %d", got)
	}
}

func TestBuildCollapsesConsecutiveRepeats(t *testing.T) {
	records := []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10),
		rec("p1", "A", "2024-01-08", 10),
		rec("p1", "A", "2024-01-15", 10),
		rec("p1", "B", "2024-02-01", 10),
	}
	result := Build(records, testParams())

	n := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A>B")
	if n.Patients != 1 {
		t.Fatalf("A>B count = %d", n.Patients)
	}
	// Weekly repeats of A collapse into one line with a weekly cadence.
	a := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A")
	if a.Cadence != "weekly" {
		t.Errorf("cadence of A line = %q, want weekly", a.Cadence)
	}
}

func TestBuildExcludesDelimiterCarryingRecords(t *testing.T) {
	bad := rec("p9", "A", "2024-01-01", 10)
	bad.Org = "RX|1"
	records := append(threePatientRecords(), bad)
	result := Build(records, testParams())

	if result.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", result.Excluded)
	}
	if result.Patients != 3 {
		t.Errorf("patients = %d, want 3", result.Patients)
	}
	// The delimiter-carrying organization must not leak into the tree as
	// extra misleveled segments.
	for _, n := range result.Nodes {
		if n.Label == "1" || n.Path == "all|RX|1" {
			t.Errorf("corrupted path emitted: %q", n.Path)
		}
		key, err := n.Key()
		if err != nil {
			t.Fatalf("undecodable path %q: %v", n.Path, err)
		}
		if key.Level() != n.Level {
			t.Errorf("path %q decodes to level %d, node says %d", n.Path, key.Level(), n.Level)
		}
	}
}

func TestBuildLabelOverrideWithDelimiterFallsBack(t *testing.T) {
	p := testParams()
	p.Variant = model.VariantIndication
	p.Labels = map[string]string{"p1": "Hyper|tension"}
	result := Build([]model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10),
	}, p)

	n := nodeByPath(t, result.Nodes, "all|RX1|Cardiology|A")
	if n.Patients != 1 {
		t.Errorf("fallback branch count = %d, want 1", n.Patients)
	}
	for _, node := range result.Nodes {
		if _, err := node.Key(); err != nil {
			t.Errorf("undecodable path %q: %v", node.Path, err)
		}
	}
}

func TestBuildExcludesMalformedRecords(t *testing.T) {
	records := []model.InterventionRecord{
		rec("p1", "A", "2024-01-01", 10),
		{PatientID: "", Drug: "A", Date: date("2024-01-01")},
		{PatientID: "p2", Drug: "", Date: date("2024-01-01")},
	}
	result := Build(records, testParams())
	if result.Excluded != 2 {
		t.Errorf("excluded = %d, want 2", result.Excluded)
	}
	if result.Patients != 1 {
		t.Errorf("patients = %d, want 1", result.Patients)
	}
}
