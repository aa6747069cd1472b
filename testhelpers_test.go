package msmcp

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// newMockInstance creates an engine on the sqlmock driver and returns the
// mock serving its default database. Each call gets its own host, so
// parallel tests never share a mock.
func newMockInstance(t *testing.T, config Config, opts ...Option) (*SQLServerMcp, sqlmock.Sqlmock) {
	t.Helper()
	config.Connection.Driver = "sqlmock"
	config.Connection.Host = "mock-" + uuid.NewString()
	m, err := New(config, Credentials{User: "pyservice", Password: "secret"}, testLogger(), opts...)
	if err != nil {
		t.Fatalf("Failed to create SQLServerMcp: %v", err)
	}
	return m, mockDatabase(t, m, "")
}

// mockDatabase registers a mock under the DSN sessions of m use for
// database. Sessions to a database with no mock fail to connect. Unmet
// expectations fail the test at cleanup.
func mockDatabase(t *testing.T, m *SQLServerMcp, database string) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.NewWithDSN(m.conn.DSN(database))
	if err != nil {
		t.Fatalf("failed to create sqlmock for %q: %v", database, err)
	}
	// The mock's own handle keeps the DSN registered until the test ends.
	t.Cleanup(func() { db.Close() })
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("database %q: %v", database, err)
		}
	})
	return mock
}

// exactSQL matches statement and nothing else. sqlmock collapses runs of
// whitespace on both sides before matching.
func exactSQL(statement string) string {
	return "^" + regexp.QuoteMeta(strings.TrimSpace(statement)) + "$"
}

// expectSession expects one session running statement: the query answered
// with rows, the rows closed, then the connection closed.
func expectSession(mock sqlmock.Sqlmock, statement string, rows *sqlmock.Rows) *sqlmock.ExpectedQuery {
	query := mock.ExpectQuery(statement).WillReturnRows(rows).RowsWillBeClosed()
	mock.ExpectClose()
	return query
}

// expectFailedSession expects one session whose statement fails with err.
func expectFailedSession(mock sqlmock.Sqlmock, statement string, err error) *sqlmock.ExpectedQuery {
	query := mock.ExpectQuery(statement).WillReturnError(err)
	mock.ExpectClose()
	return query
}

// ordersRows is a typed result of three orders.
func ordersRows() *sqlmock.Rows {
	return sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("Id").OfType("INT", int64(0)),
		sqlmock.NewColumn("Customer").OfType("NVARCHAR", ""),
	).
		AddRow(int64(1), "Ada").
		AddRow(int64(2), "Grace").
		AddRow(int64(3), "Linus")
}

// columnRows is the INFORMATION_SCHEMA shape describe_table reads.
func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_DEFAULT", "IsIdentity", "IsPrimaryKey"})
}

// ordersColumnRows describes the Orders table.
func ordersColumnRows() *sqlmock.Rows {
	return columnRows().
		AddRow("Id", "int", "NO", nil, int64(1), int64(1)).
		AddRow("Status", "nvarchar", "NO", "('new')", int64(0), int64(0)).
		AddRow("Notes", "nvarchar", "YES", nil, int64(0), int64(0))
}

// expectPanic calls f and asserts that it panics with a message containing substr.
func expectPanic(t *testing.T, substr string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, but no panic occurred", substr)
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("expected panic string containing %q, got %T: %v", substr, r, r)
		}
		if !strings.Contains(msg, substr) {
			t.Fatalf("expected panic containing %q, got %q", substr, msg)
		}
	}()
	f()
}
