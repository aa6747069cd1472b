package msmcp

import (
	"context"
	"fmt"
	"time"

	"github.com/rickchristie/mssql-mcp/internal/session"
)

const listTablesSQL = `
SELECT TABLE_NAME
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME
`

// ListTables returns the names of all base tables in the database, ordered
// by name. Does NOT go through the admission/hook/sanitization pipeline.
func (m *SQLServerMcp) ListTables(ctx context.Context, input ListTablesInput) (*ListTablesOutput, error) {
	startTime := time.Now()
	database := m.conn.Database(input.Database)

	tables := []string{}
	_, err := m.runStatement(ctx, database, listTablesSQL, nil, func(s *session.Session) error {
		rows, err := s.Fetch(true)
		if err != nil {
			return err
		}
		for _, row := range rows {
			tables = append(tables, asString(row[0]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("database", database).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesOutput{Database: database, Tables: tables}, nil
}

// asString reads a catalog text value. go-mssqldb returns nvarchar as string
// and varchar under some collations as []byte.
func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// asInt reads a catalog integer value; NULL reads as 0.
func asInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case bool:
		if val {
			return 1
		}
	}
	return 0
}
