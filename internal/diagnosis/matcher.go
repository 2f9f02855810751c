// Package diagnosis resolves clinical-condition labels from an external
// coded-diagnosis source, used as the level-2 grouping in the indication
// hierarchy variant.
package diagnosis

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Source is the external coded-diagnosis store. Implementations must be
// safe for concurrent use.
type Source interface {
	// EvidenceCounts returns, per patient, the number of coded diagnosis
	// events supporting each of the candidate conditions. Patients with no
	// evidence may be absent from the result.
	EvidenceCounts(ctx context.Context, patients []string, conditions []string) (map[string]map[string]int, error)
}

// Reference is the drug-fragment-to-condition lookup the matcher consults
// for candidate conditions. Satisfied by *refdata.Reference.
type Reference interface {
	ConditionsForDrug(drug string) []string
}

const (
	defaultBatchSize    = 500
	defaultConcurrency  = 4
	defaultBatchTimeout = 15 * time.Second

	// FallbackSuffix marks patients with no diagnosis evidence; their
	// label is the assigner-resolved grouping plus this suffix.
	FallbackSuffix = " (no GP dx)"
)

// Matcher resolves one condition label per patient. The external source is
// queried in bounded batches, concurrently up to a small fixed cap, and
// results are merged deterministically by patient identifier. A failed or
// timed-out batch degrades to "unmatched" for its patients; matching never
// blocks tree construction.
type Matcher struct {
	Source Source
	Ref    Reference

	BatchSize    int           // patients per source query; default 500
	Concurrency  int           // concurrent batch queries; default 4
	BatchTimeout time.Duration // per-batch deadline; default 15s

	// Logf receives batch-failure diagnostics; defaults to stderr.
	Logf func(format string, args ...any)
}

// Match resolves a final level-2 label for every patient. drugByPatient
// carries the patient's first drug line, which determines the candidate
// conditions; fallback carries the assigner-resolved grouping used when no
// evidence is found. Every patient in drugByPatient gets a non-empty label.
func (m *Matcher) Match(ctx context.Context, drugByPatient map[string]string, fallback map[string]string) map[string]string {
	batchSize := m.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := m.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := m.BatchTimeout
	if timeout <= 0 {
		timeout = defaultBatchTimeout
	}
	logf := m.Logf
	if logf == nil {
		logf = func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	}

	// Sorted patient order keeps batch membership, and therefore the
	// degraded set after a batch failure, stable across runs.
	patients := make([]string, 0, len(drugByPatient))
	for p := range drugByPatient {
		patients = append(patients, p)
	}
	sort.Strings(patients)

	candidates := map[string][]string{}
	conditionSet := map[string]struct{}{}
	for _, p := range patients {
		cs := m.Ref.ConditionsForDrug(drugByPatient[p])
		candidates[p] = cs
		for _, c := range cs {
			conditionSet[c] = struct{}{}
		}
	}
	conditions := make([]string, 0, len(conditionSet))
	for c := range conditionSet {
		conditions = append(conditions, c)
	}
	sort.Strings(conditions)

	evidence := map[string]map[string]int{}
	if m.Source != nil && len(conditions) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		sem := make(chan struct{}, concurrency)

		for start := 0; start < len(patients); start += batchSize {
			end := start + batchSize
			if end > len(patients) {
				end = len(patients)
			}
			batch := patients[start:end]

			wg.Add(1)
			go func(batch []string) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					logf("diagnosis: batch of %d patients skipped: %v", len(batch), ctx.Err())
					return
				}
				defer func() { <-sem }()

				bctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				counts, err := m.Source.EvidenceCounts(bctx, batch, conditions)
				if err != nil {
					// Degrade to unmatched for this batch only.
					logf("diagnosis: batch of %d patients unmatched: %v", len(batch), err)
					return
				}
				mu.Lock()
				for p, c := range counts {
					evidence[p] = c // each patient belongs to exactly one batch
				}
				mu.Unlock()
			}(batch)
		}
		wg.Wait()
	}

	labels := make(map[string]string, len(patients))
	for _, p := range patients {
		if label, ok := bestCondition(candidates[p], evidence[p]); ok {
			labels[p] = label
			continue
		}
		labels[p] = fallback[p] + FallbackSuffix
	}
	return labels
}

// bestCondition picks the candidate condition with the highest supporting
// evidence count; ties break lexicographically.
func bestCondition(candidates []string, counts map[string]int) (string, bool) {
	best := ""
	bestCount := 0
	for _, c := range candidates {
		n := counts[c]
		if n == 0 {
			continue
		}
		if n > bestCount || (n == bestCount && c < best) {
			best = c
			bestCount = n
		}
	}
	return best, best != ""
}
