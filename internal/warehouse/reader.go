// Package warehouse reads intervention-record extracts from the data
// warehouse export format: CSV, optionally gzip-compressed, one row per
// administration event.
package warehouse

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/gyeh/rx-pathways/internal/model"
)

// Columns expected in warehouse extracts, in order. Descriptors are
// semicolon-separated free text; all other columns are single values.
var columns = []string{
	"patient_id", "drug", "date", "cost", "org", "grouping", "descriptors",
}

const dateLayout = "2006-01-02"

// ReadResult is the outcome of one extract read.
type ReadResult struct {
	Records []model.InterventionRecord
	Skipped int // rows dropped for parse failures
}

// ReadFile reads one extract from disk, transparently decompressing .gz.
func ReadFile(path string) (*ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	return Read(r)
}

// Read parses an extract stream. A header row is required and validated
// against the expected column set; malformed data rows are counted and
// skipped rather than failing the whole extract.
func Read(r io.Reader) (*ReadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, want := range columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], want)
		}
	}

	result := &ReadResult{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, ok := parseRow(row)
		if !ok {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func parseRow(row []string) (model.InterventionRecord, bool) {
	date, err := time.Parse(dateLayout, strings.TrimSpace(row[2]))
	if err != nil {
		return model.InterventionRecord{}, false
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil || cost < 0 {
		return model.InterventionRecord{}, false
	}

	rec := model.InterventionRecord{
		PatientID: strings.TrimSpace(row[0]),
		Drug:      strings.TrimSpace(row[1]),
		Date:      date,
		Cost:      cost,
		Org:       strings.TrimSpace(row[4]),
		Grouping:  strings.TrimSpace(row[5]),
	}
	if ds := strings.TrimSpace(row[6]); ds != "" {
		for _, d := range strings.Split(ds, ";") {
			if d = strings.TrimSpace(d); d != "" {
				rec.Descriptors = append(rec.Descriptors, d)
			}
		}
	}
	if !rec.Valid() {
		return model.InterventionRecord{}, false
	}
	return rec, true
}
