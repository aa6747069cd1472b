package msmcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickchristie/mssql-mcp/internal/session"
)

// IsPrimaryKey is not a COLUMNPROPERTY property, so primary key membership
// comes from the key constraint views.
const describeTableSQL = `
SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, c.COLUMN_DEFAULT,
       COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity') AS IsIdentity,
       CASE WHEN EXISTS (
           SELECT 1
           FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
           JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
               ON kcu.CONSTRAINT_SCHEMA = tc.CONSTRAINT_SCHEMA
               AND kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
           WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
               AND kcu.TABLE_SCHEMA = c.TABLE_SCHEMA
               AND kcu.TABLE_NAME = c.TABLE_NAME
               AND kcu.COLUMN_NAME = c.COLUMN_NAME
       ) THEN 1 ELSE 0 END AS IsPrimaryKey
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_NAME = %s
ORDER BY c.TABLE_SCHEMA, c.ORDINAL_POSITION
`

// DescribeTable returns the columns of a table. The table name is bound as a
// parameter. An unknown table yields no columns, not an error.
func (m *SQLServerMcp) DescribeTable(ctx context.Context, input DescribeTableInput) (*DescribeTableOutput, error) {
	startTime := time.Now()
	if input.Table == "" {
		return nil, errors.New("table_name must be non-empty")
	}
	database := m.conn.Database(input.Database)

	columns := []ColumnDescription{}
	sql := fmt.Sprintf(describeTableSQL, m.conn.Placeholder(1))
	_, err := m.runStatement(ctx, database, sql, []any{input.Table}, func(s *session.Session) error {
		rows, err := s.Fetch(true)
		if err != nil {
			return err
		}
		for _, row := range rows {
			columns = append(columns, describeColumn(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("database", database).
		Str("table", input.Table).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(columns)).
		Msg("DescribeTable executed")

	return &DescribeTableOutput{
		Database: database,
		Table:    input.Table,
		Columns:  columns,
		Text:     describeString(columns),
	}, nil
}

// describeColumn maps one describeTableSQL row. notnull keeps its
// long-standing reading: "NO" for a nullable column.
func describeColumn(row []any) ColumnDescription {
	col := ColumnDescription{
		Name:       asString(row[0]),
		Type:       asString(row[1]),
		NotNull:    "YES",
		Identity:   "NO",
		PrimaryKey: "NO",
	}
	if asString(row[2]) == "YES" {
		col.NotNull = "NO"
	}
	if row[3] != nil {
		dflt := asString(row[3])
		col.DefaultValue = &dflt
	}
	if asInt(row[4]) == 1 {
		col.Identity = "YES"
	}
	if asInt(row[5]) == 1 {
		col.PrimaryKey = "YES"
	}
	return col
}
