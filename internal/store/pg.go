// Package store persists built pathway trees in PostgreSQL. Each
// (window, variant) pair owns one tree; ReplaceTree swaps a tree
// atomically so readers never observe a half-written build.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/rx-pathways/internal/model"
)

//go:embed schema.sql
var schema string

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and pings it.
func Open(ctx context.Context, connStr string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Init creates the schema if it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for components that run their own
// queries, such as the indication matcher's evidence source.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

var nodeColumns = []string{
	"window_name", "variant", "path", "parent", "label", "level",
	"patients", "total_cost", "cost_per_patient", "cost_per_patient_per_annum",
	"first_seen", "last_seen", "avg_duration_days", "avg_interval_days", "cadence",
}

// ReplaceTree replaces the stored tree for one (window, variant) pair in
// a single transaction: delete then bulk COPY.
func (s *Store) ReplaceTree(ctx context.Context, window string, variant model.Variant, nodes []model.PathwayNode) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM pathway_nodes WHERE window_name = $1 AND variant = $2`,
		window, string(variant)); err != nil {
		return fmt.Errorf("clear tree %s/%s: %w", window, variant, err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"pathway_nodes"},
		nodeColumns,
		pgx.CopyFromSlice(len(nodes), func(i int) ([]any, error) {
			n := nodes[i]
			return []any{
				window, string(variant), n.Path, n.Parent, n.Label, n.Level,
				n.Patients, n.TotalCost, n.CostPerPatient, n.CostPerPatientPerAnnum,
				n.FirstSeen, n.LastSeen, n.AvgDurationDays, n.AvgIntervalDays, n.Cadence,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy pathway_nodes: %w", err)
	}
	if copied != int64(len(nodes)) {
		return fmt.Errorf("copy pathway_nodes: wrote %d of %d rows", copied, len(nodes))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tree %s/%s: %w", window, variant, err)
	}
	return nil
}

// LoadTree reads one stored tree. Parent date ranges are not persisted;
// they are rejoined from the loaded rows.
func (s *Store) LoadTree(ctx context.Context, window string, variant model.Variant) ([]model.PathwayNode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, parent, label, level, patients, total_cost,
		        cost_per_patient, cost_per_patient_per_annum,
		        first_seen, last_seen, avg_duration_days, avg_interval_days, cadence
		   FROM pathway_nodes
		  WHERE window_name = $1 AND variant = $2
		  ORDER BY path`,
		window, string(variant))
	if err != nil {
		return nil, fmt.Errorf("query tree %s/%s: %w", window, variant, err)
	}
	defer rows.Close()

	var nodes []model.PathwayNode
	for rows.Next() {
		var n model.PathwayNode
		if err := rows.Scan(&n.Path, &n.Parent, &n.Label, &n.Level,
			&n.Patients, &n.TotalCost, &n.CostPerPatient, &n.CostPerPatientPerAnnum,
			&n.FirstSeen, &n.LastSeen, &n.AvgDurationDays, &n.AvgIntervalDays, &n.Cadence); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tree %s/%s: %w", window, variant, err)
	}

	byPath := make(map[string]int, len(nodes))
	for i, n := range nodes {
		byPath[n.Path] = i
	}
	for i := range nodes {
		if j, ok := byPath[nodes[i].Parent]; ok {
			nodes[i].ParentFirstSeen = nodes[j].FirstSeen
			nodes[i].ParentLastSeen = nodes[j].LastSeen
		}
	}
	return nodes, nil
}

// Windows lists the (window, variant) pairs with a stored tree.
func (s *Store) Windows(ctx context.Context) ([][2]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT window_name, variant FROM pathway_nodes ORDER BY window_name, variant`)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var w, v string
		if err := rows.Scan(&w, &v); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		out = append(out, [2]string{w, v})
	}
	return out, rows.Err()
}
