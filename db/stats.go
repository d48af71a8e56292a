package db

import (
	"context"

	"github.com/teranos/pulseflow/errors"
)

// Tables holds the runtime tables reported by Stats, in schema order
var Tables = []string{
	"executions",
	"variables",
	"tasks",
	"event_subscriptions",
	"external_tasks",
	"jobs",
	"incidents",
}

// TableCount is a row count for one table
type TableCount struct {
	Table string
	Rows  int64
}

// Stats counts rows in every runtime table
func Stats(ctx context.Context, q Querier) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(Tables))
	for _, table := range Tables {
		var n int64
		// Table names come from the fixed list above
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		counts = append(counts, TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
