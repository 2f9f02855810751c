package diagnosis

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource reads coded diagnosis events from the warehouse's coded_events
// table. One row per coded event; evidence is the event count per
// (patient, condition).
type PGSource struct {
	Pool *pgxpool.Pool
}

func (s *PGSource) EvidenceCounts(ctx context.Context, patients []string, conditions []string) (map[string]map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT patient_id, condition_code, COUNT(*)
		FROM coded_events
		WHERE patient_id = ANY($1) AND condition_code = ANY($2)
		GROUP BY patient_id, condition_code`,
		patients, conditions)
	if err != nil {
		return nil, fmt.Errorf("querying coded events: %w", err)
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var patient, condition string
		var n int64
		if err := rows.Scan(&patient, &condition, &n); err != nil {
			return nil, fmt.Errorf("scanning coded event row: %w", err)
		}
		inner, ok := counts[patient]
		if !ok {
			inner = map[string]int{}
			counts[patient] = inner
		}
		inner[condition] = int(n)
	}
	return counts, rows.Err()
}
