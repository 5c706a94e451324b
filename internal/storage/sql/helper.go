package sql

import (
	"fmt"
	"strings"

	"github.com/model-forge/model-forge/internal/storage/sql/schemas"
	"github.com/model-forge/model-forge/pkg/api"
)

// SQLite: use ? placeholders
const SQLITE_INSERT_RUN_STATEMENT = `INSERT INTO pipeline_runs (id, status, stage, entity) VALUES (?, ?, ?, ?);`

// PostgreSQL: use $1, $2 placeholders and RETURNING id clause
const POSTGRES_INSERT_RUN_STATEMENT = `INSERT INTO pipeline_runs (id, status, stage, entity) VALUES ($1, $2, $3, $4) RETURNING id;`

const SQLITE_INSERT_EVENT_STATEMENT = `INSERT INTO stage_events (run_id, stage, outcome, message) VALUES (?, ?, ?, ?);`

const POSTGRES_INSERT_EVENT_STATEMENT = `INSERT INTO stage_events (run_id, stage, outcome, message) VALUES ($1, $2, $3, $4);`

func schemasForDriver(driver string) (string, error) {
	switch driver {
	case SQLITE_DRIVER:
		return strings.ReplaceAll(schemas.SQLITE_SCHEMA, "'running'", fmt.Sprintf("'%s'", api.StatusRunning)), nil
	case POSTGRES_DRIVER:
		return strings.ReplaceAll(schemas.POSTGRES_SCHEMA, "'running'", fmt.Sprintf("'%s'", api.StatusRunning)), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// quoteIdentifier properly quotes an identifier for the given driver
func quoteIdentifier(_ /*driver*/ string, identifier string) string {
	// Escape double quotes by doubling them
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

// placeholder returns the n-th (1 based) bind parameter of the driver
func placeholder(driver string, n int) string {
	if driver == POSTGRES_DRIVER {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func createAddRunStatement(driver string) (string, error) {
	switch driver {
	case POSTGRES_DRIVER:
		return POSTGRES_INSERT_RUN_STATEMENT, nil
	case SQLITE_DRIVER:
		return SQLITE_INSERT_RUN_STATEMENT, nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

func createAddEventStatement(driver string) (string, error) {
	switch driver {
	case POSTGRES_DRIVER:
		return POSTGRES_INSERT_EVENT_STATEMENT, nil
	case SQLITE_DRIVER:
		return SQLITE_INSERT_EVENT_STATEMENT, nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createGetRunStatement returns a driver-specific SELECT statement
// to retrieve a run by ID
func createGetRunStatement(driver string) (string, error) {
	switch driver {
	case POSTGRES_DRIVER, SQLITE_DRIVER:
		return fmt.Sprintf(`SELECT id, created_at, updated_at, status, stage, entity FROM %s WHERE id = %s;`,
			quoteIdentifier(driver, TABLE_PIPELINE_RUNS), placeholder(driver, 1)), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createListEventsStatement returns the events of one run in the order they were recorded
func createListEventsStatement(driver string) (string, error) {
	switch driver {
	case POSTGRES_DRIVER, SQLITE_DRIVER:
		return fmt.Sprintf(`SELECT stage, outcome, message, created_at FROM %s WHERE run_id = %s ORDER BY id ASC;`,
			quoteIdentifier(driver, TABLE_STAGE_EVENTS), placeholder(driver, 1)), nil
	default:
		return "", getUnsupportedDriverError(driver)
	}
}

// createCountRunsStatement returns a driver-specific COUNT statement,
// optionally filtered by status
func createCountRunsStatement(driver string, statusFilter string) (string, []any, error) {
	if driver != POSTGRES_DRIVER && driver != SQLITE_DRIVER {
		return "", nil, getUnsupportedDriverError(driver)
	}
	quotedTable := quoteIdentifier(driver, TABLE_PIPELINE_RUNS)
	if statusFilter != "" {
		return fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = %s;`, quotedTable, placeholder(driver, 1)), []any{statusFilter}, nil
	}
	return fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, quotedTable), nil, nil
}

// createListRunsStatement returns a driver-specific SELECT statement to list runs,
// newest first, with pagination (LIMIT and OFFSET), optionally filtered by status
func createListRunsStatement(driver string, limit, offset int, statusFilter string) (string, []any, error) {
	if driver != POSTGRES_DRIVER && driver != SQLITE_DRIVER {
		return "", nil, getUnsupportedDriverError(driver)
	}
	quotedTable := quoteIdentifier(driver, TABLE_PIPELINE_RUNS)
	columns := "id, created_at, updated_at, status, stage, entity"
	if statusFilter != "" {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s;`,
			columns, quotedTable, placeholder(driver, 1), placeholder(driver, 2), placeholder(driver, 3))
		return query, []any{statusFilter, limit, offset}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s;`,
		columns, quotedTable, placeholder(driver, 1), placeholder(driver, 2))
	return query, []any{limit, offset}, nil
}

// createUpdateRunStatement returns a driver-specific UPDATE statement for the runs table,
// setting only the non-empty fields (status, stage, entity) and updated_at, filtered by id.
// Returns the query and the args in SET order then id.
func createUpdateRunStatement(driver, id, status, stage, entityJSON string) (string, []any, error) {
	if driver != POSTGRES_DRIVER && driver != SQLITE_DRIVER {
		return "", nil, getUnsupportedDriverError(driver)
	}

	var setParts []string
	var args []any
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = %s", quoteIdentifier(driver, column), placeholder(driver, len(args))))
	}
	add("status", status)
	add("stage", stage)
	add("entity", entityJSON)
	setParts = append(setParts, fmt.Sprintf("%s = CURRENT_TIMESTAMP", quoteIdentifier(driver, "updated_at")))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = %s;`,
		quoteIdentifier(driver, TABLE_PIPELINE_RUNS),
		strings.Join(setParts, ", "),
		quoteIdentifier(driver, "id"),
		placeholder(driver, len(args)))
	return query, args, nil
}
