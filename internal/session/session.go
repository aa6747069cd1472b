package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	mssql "github.com/denisenkom/go-mssqldb"
)

const (
	// DefaultDatabase is used when neither the caller nor the config names one.
	DefaultDatabase = "ants"
	// DefaultDriver keeps ODBC-style ? placeholders working in caller SQL.
	DefaultDriver = "mssql"
)

// Config describes how to reach SQL Server. The database name is supplied
// per session, so one Config serves every database on the server.
type Config struct {
	Driver                 string
	Host                   string
	Port                   int
	Instance               string
	User                   string
	Password               string
	DefaultDatabase        string
	Encrypt                string
	TrustServerCertificate bool
	AppName                string
	DialTimeoutSeconds     int
}

// Database resolves the database a session should use.
func (c Config) Database(name string) string {
	if name != "" {
		return name
	}
	if c.DefaultDatabase != "" {
		return c.DefaultDatabase
	}
	return DefaultDatabase
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DefaultDriver
	}
	return c.Driver
}

// Placeholder returns the marker for the n-th (1-based) positional parameter.
// The mssql driver rewrites ODBC-style ? markers and counts only those; the
// sqlserver driver takes @pN.
func (c Config) Placeholder(n int) string {
	if c.driver() == DefaultDriver {
		return "?"
	}
	return "@p" + strconv.Itoa(n)
}

// DSN builds a sqlserver:// connection URL for the given database.
func (c Config) DSN(database string) string {
	query := url.Values{}
	query.Set("database", c.Database(database))
	if c.Encrypt != "" {
		query.Set("encrypt", c.Encrypt)
	}
	if c.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}
	if c.AppName != "" {
		query.Set("app name", c.AppName)
	}
	if c.DialTimeoutSeconds > 0 {
		query.Set("dial timeout", strconv.Itoa(c.DialTimeoutSeconds))
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     host,
		Path:     c.Instance,
		RawQuery: query.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// QueryExecutionError is returned when SQL Server rejects a statement:
// syntax, permissions, or a value the driver cannot map.
type QueryExecutionError struct {
	// Number is the SQL Server error number, 0 when the failure did not come
	// from the server.
	Number int32
	Err    error
}

func (e *QueryExecutionError) Error() string {
	return "SQL Server error: " + e.Err.Error()
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

func newQueryExecutionError(err error) *QueryExecutionError {
	qe := &QueryExecutionError{Err: err}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		qe.Number = msErr.Number
	}
	return qe
}

// ErrAlreadyExecuted is returned when Execute is called twice on one session.
var ErrAlreadyExecuted = errors.New("session: a statement was already executed")

// ErrNotExecuted is returned when results are read before Execute.
var ErrNotExecuted = errors.New("session: no statement executed")

// Session owns one connection and at most one open result set for a single
// request. It is not safe for concurrent use and is never shared.
type Session struct {
	database string
	db       *sql.DB
	conn     *sql.Conn
	rows     *sql.Rows
	closed   bool
}

// Open connects to database (or the configured default). If any step
// fails, everything opened so far is released before returning.
func Open(ctx context.Context, cfg Config, database string) (*Session, error) {
	name := cfg.Database(database)
	db, err := sql.Open(cfg.driver(), cfg.DSN(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", name, err)
	}
	// One statement per session, so one connection is all it ever needs.
	db.SetMaxOpenConns(1)

	s := &Session{database: name, db: db}
	conn, err := db.Conn(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to database %q: %w", name, err)
	}
	s.conn = conn
	return s, nil
}

// With opens a session, hands it to fn, and closes it on every exit path,
// including a panic in fn.
func With(ctx context.Context, cfg Config, database string, fn func(*Session) error) error {
	s, err := Open(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Database returns the database this session is connected to.
func (s *Session) Database() string {
	return s.database
}

// Ping checks the connection is alive.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return newQueryExecutionError(err)
	}
	return nil
}

// Execute runs text with positional params. Only one statement may be run
// per session.
func (s *Session) Execute(ctx context.Context, text string, params ...any) error {
	if s.closed {
		return errors.New("session: closed")
	}
	if s.rows != nil {
		return ErrAlreadyExecuted
	}
	rows, err := s.conn.QueryContext(ctx, text, params...)
	if err != nil {
		return newQueryExecutionError(err)
	}
	s.rows = rows
	return nil
}

// Columns returns the result column names in order.
func (s *Session) Columns() ([]string, error) {
	if s.rows == nil {
		return nil, ErrNotExecuted
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, newQueryExecutionError(err)
	}
	return cols, nil
}

// ColumnTypes returns the SQL Server type name of each result column, upper
// case (e.g. "NVARCHAR", "DECIMAL", "UNIQUEIDENTIFIER").
func (s *Session) ColumnTypes() ([]string, error) {
	if s.rows == nil {
		return nil, ErrNotExecuted
	}
	types, err := s.rows.ColumnTypes()
	if err != nil {
		return nil, newQueryExecutionError(err)
	}
	names := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.DatabaseTypeName()
	}
	return names, nil
}

// Fetch returns every remaining row when all is true, otherwise at most the
// next row. Each row is positionally aligned with Columns.
func (s *Session) Fetch(all bool) ([][]any, error) {
	if s.rows == nil {
		return nil, ErrNotExecuted
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, newQueryExecutionError(err)
	}

	result := make([][]any, 0)
	for s.rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := s.rows.Scan(dest...); err != nil {
			return nil, newQueryExecutionError(err)
		}
		result = append(result, values)
		if !all {
			break
		}
	}
	if err := s.rows.Err(); err != nil {
		return nil, newQueryExecutionError(err)
	}
	return result, nil
}

// Close releases the result set, then the connection, then the handle.
// Safe to call more than once; only the first call does anything.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.rows != nil {
		errs = append(errs, s.rows.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
