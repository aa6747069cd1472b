package msmcp

import (
	"context"
	"fmt"
	"time"

	"github.com/rickchristie/mssql-mcp/internal/session"
)

// dependenciesSQL lists sys.sql_expression_dependencies joined to the
// referencing object. The column names (including referencing_desciption)
// are what existing callers parse, so they stay as they are.
const dependenciesSQL = `
WITH refObj AS (
    SELECT DISTINCT o.Object_Id, OBJECT_NAME(referencing_id) AS referencing_entity_name,
        o.type, o.type_desc AS referencing_desciption, o.create_date, o.modify_date,
        COALESCE(COL_NAME(referencing_id, referencing_minor_id), '(n/a)') AS referencing_minor_id, referencing_class_desc,
        referenced_server_name, referenced_schema_name, referenced_database_name, referenced_database_name AS [database_name],
        referenced_id, referenced_entity_name,
        (SELECT type FROM sys.objects WHERE object_id = OBJECT_ID(referenced_entity_name)) entity_Type
    FROM sys.sql_expression_dependencies AS sed
    INNER JOIN sys.objects AS o ON sed.referencing_id = o.object_id
)
SELECT * FROM refObj WHERE %s = %s
`

const (
	referencingColumn = "referencing_entity_name"
	referencedColumn  = "referenced_entity_name"
)

// TablesLinkedToProcedure returns every dependency row whose referencing
// object is the named procedure, as a markdown grid.
func (m *SQLServerMcp) TablesLinkedToProcedure(ctx context.Context, input DependencyInput) (*DependencyOutput, error) {
	return m.dependencies(ctx, "TablesLinkedToProcedure", referencingColumn, input)
}

// ProceduresLinkedToTable returns every dependency row whose referenced
// entity is the named table, as a markdown grid.
func (m *SQLServerMcp) ProceduresLinkedToTable(ctx context.Context, input DependencyInput) (*DependencyOutput, error) {
	return m.dependencies(ctx, "ProceduresLinkedToTable", referencedColumn, input)
}

func (m *SQLServerMcp) dependencies(ctx context.Context, op, filterColumn string, input DependencyInput) (*DependencyOutput, error) {
	startTime := time.Now()
	database := m.conn.Database(input.Database)
	sql, params := m.dependencyStatement(filterColumn, input.Name)

	output := &DependencyOutput{Database: database}
	_, err := m.runStatement(ctx, database, sql, params, func(s *session.Session) error {
		cols, err := s.Columns()
		if err != nil {
			return err
		}
		types, err := s.ColumnTypes()
		if err != nil {
			return err
		}
		rows, err := s.Fetch(true)
		if err != nil {
			return err
		}
		output.Columns = cols
		output.Markdown = markdownTable(cols, rows)
		output.Rows = convertRows(rows, types)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("database", database).
		Str("name", input.Name).
		Bool("parameterized", m.config.Query.ParameterizeDependencyLookups).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(output.Rows)).
		Msg(op + " executed")

	return output, nil
}

// dependencyStatement builds the lookup statement. Unless
// ParameterizeDependencyLookups is set, name is placed in the SQL text
// verbatim, quotes and all.
func (m *SQLServerMcp) dependencyStatement(filterColumn, name string) (string, []any) {
	if m.config.Query.ParameterizeDependencyLookups {
		return fmt.Sprintf(dependenciesSQL, filterColumn, m.conn.Placeholder(1)), []any{name}
	}
	return fmt.Sprintf(dependenciesSQL, filterColumn, "'"+name+"'"), nil
}
