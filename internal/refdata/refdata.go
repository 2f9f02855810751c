// Package refdata loads the shared reference tables used for label
// resolution. Tables are loaded once into immutable lookup structures and
// passed explicitly into the components that need them.
package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
)

// Condition maps a clinical-condition code to the drug-name fragments that
// suggest it. Fragments are matched as case-insensitive substrings of the
// standardized drug name, not exact matches.
type Condition struct {
	Code      string
	Fragments []string
}

// Reference holds the immutable reference lookups.
type Reference struct {
	// DrugGroupings maps a standardized drug name to its clinically valid
	// level-2 groupings.
	DrugGroupings map[string][]string

	// Conditions is the drug-fragment-to-condition table used by the
	// diagnosis matcher, ordered by condition code.
	Conditions []Condition
}

// ValidGroupings returns the clinically valid groupings for a drug.
func (r *Reference) ValidGroupings(drug string) []string {
	return r.DrugGroupings[strings.ToLower(drug)]
}

// ConditionsForDrug returns the condition codes whose fragments match the
// drug name, in catalog order.
func (r *Reference) ConditionsForDrug(drug string) []string {
	lower := strings.ToLower(drug)
	var codes []string
	for _, c := range r.Conditions {
		for _, f := range c.Fragments {
			if strings.Contains(lower, strings.ToLower(f)) {
				codes = append(codes, c.Code)
				break
			}
		}
	}
	return codes
}

// Load reads both reference tables. Either path may be empty, leaving that
// table empty; the assigner and matcher degrade to their fallback steps.
func Load(drugGroupingsPath, conditionsPath string) (*Reference, error) {
	ref := &Reference{DrugGroupings: map[string][]string{}}
	if drugGroupingsPath != "" {
		m, err := LoadDrugGroupings(drugGroupingsPath)
		if err != nil {
			return nil, fmt.Errorf("loading drug groupings: %w", err)
		}
		ref.DrugGroupings = m
	}
	if conditionsPath != "" {
		cs, err := LoadConditions(conditionsPath)
		if err != nil {
			return nil, fmt.Errorf("loading conditions: %w", err)
		}
		ref.Conditions = cs
	}
	return ref, nil
}

// LoadDrugGroupings reads a two-column CSV (drug, grouping) into a lookup
// map. Repeated (drug, grouping) pairs are collapsed.
func LoadDrugGroupings(path string) (map[string][]string, error) {
	rc, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = 2

	m := map[string][]string{}
	seen := map[string]struct{}{}
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "drug") {
			continue // header
		}
		drug := strings.ToLower(strings.TrimSpace(rec[0]))
		grouping := strings.TrimSpace(rec[1])
		if drug == "" || grouping == "" {
			continue
		}
		key := drug + "\t" + grouping
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		m[drug] = append(m[drug], grouping)
	}
	for _, gs := range m {
		sort.Strings(gs)
	}
	return m, nil
}

// LoadConditions reads a two-column CSV (condition, fragment) into the
// ordered condition table.
func LoadConditions(path string) ([]Condition, error) {
	rc, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = 2

	byCode := map[string][]string{}
	var order []string
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "condition") {
			continue
		}
		code := strings.TrimSpace(rec[0])
		fragment := strings.TrimSpace(rec[1])
		if code == "" || fragment == "" {
			continue
		}
		if _, ok := byCode[code]; !ok {
			order = append(order, code)
		}
		byCode[code] = append(byCode[code], fragment)
	}

	sort.Strings(order)
	conditions := make([]Condition, 0, len(order))
	for _, code := range order {
		conditions = append(conditions, Condition{Code: code, Fragments: byCode[code]})
	}
	return conditions, nil
}

// openMaybeGzip opens a file, transparently decompressing .gz inputs.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip %s: %w", path, err)
	}
	return &gzipReadCloser{zr: zr, f: f}, nil
}

type gzipReadCloser struct {
	zr *pgzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
