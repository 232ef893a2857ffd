package planq

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Monitor answers operator/reporting queries against the plan_stats view.
// It runs over database/sql with its own connection, outside the engine's
// pgx pool, so heavy aggregate reads never compete with the execution path.
type Monitor struct {
	db *sql.DB
}

// NewMonitor opens a reporting connection with the given PostgreSQL DSN.
func NewMonitor(dsn string) (*Monitor, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open monitor connection: %w", err)
	}

	return &Monitor{db: db}, nil
}

func (m *Monitor) Close() error {
	return m.db.Close()
}

// GetPlanStats returns per-label aggregates over all stored plans.
func (m *Monitor) GetPlanStats(ctx context.Context) ([]PlanStats, error) {
	const query = `
SELECT
	label,
	total_plans,
	completed,
	failed,
	running,
	avg_duration_seconds
FROM planq.plan_stats`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PlanStats
	for rows.Next() {
		var s PlanStats
		var avgSeconds *float64

		err := rows.Scan(
			&s.Label,
			&s.TotalPlans,
			&s.CompletedPlans,
			&s.FailedPlans,
			&s.RunningPlans,
			&avgSeconds,
		)
		if err != nil {
			return nil, err
		}

		if avgSeconds != nil {
			s.AverageDuration = time.Duration(*avgSeconds * float64(time.Second))
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// GetRunningPlanCount reports how many plans are currently running.
func (m *Monitor) GetRunningPlanCount(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM planq.execution_plans WHERE status = 'running'`

	var count int
	err := m.db.QueryRowContext(ctx, query).Scan(&count)

	return count, err
}
