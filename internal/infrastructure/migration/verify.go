package migration

import (
	"context"
	"database/sql"
	"fmt"
)

// PayrollTables are the tables the service cannot start without
var PayrollTables = []string{"employees", "payroll_documents", "status_audit_records"}

// MissingTables reports which of tables are absent from the current schema
func MissingTables(ctx context.Context, db *sql.DB, tables ...string) ([]string, error) {
	var missing []string
	for _, table := range tables {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
