package msmcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rickchristie/mssql-mcp/internal/admission"
	"github.com/rickchristie/mssql-mcp/internal/errprompt"
	"github.com/rickchristie/mssql-mcp/internal/sanitize"
	"github.com/rickchristie/mssql-mcp/internal/timeout"
)

func TestConcurrent_ReadQueryUsesOwnSessions(t *testing.T) {
	t.Parallel()
	m, _ := newMockInstance(t, Config{})

	const goroutines = 20
	const queriesPerGoroutine = 10

	// Every session must reach its own database and release its rows and
	// connection; the mocks verify both at cleanup.
	var mocks [3]sqlmock.Sqlmock
	for i := range mocks {
		mocks[i] = mockDatabase(t, m, fmt.Sprintf("db%d", i))
		mocks[i].MatchExpectationsInOrder(false)
	}
	for id := 0; id < goroutines; id++ {
		for j := 0; j < queriesPerGoroutine; j++ {
			statement := fmt.Sprintf("SELECT TOP 10 * FROM (SELECT %d AS id, %d AS iter) AS limited_result", id, j)
			rows := sqlmock.NewRows([]string{"id", "iter"}).AddRow(int64(id), int64(j))
			expectSession(mocks[id%3], exactSQL(statement), rows)
		}
	}

	var wg sync.WaitGroup
	var errCount atomic.Int64
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < queriesPerGoroutine; j++ {
				output := m.ReadQuery(context.Background(), ReadQueryInput{
					Query:    fmt.Sprintf("SELECT %d AS id, %d AS iter", id, j),
					Database: fmt.Sprintf("db%d", id%3),
				})
				if output.Error != "" {
					errCount.Add(1)
					t.Errorf("goroutine %d iter %d: %s", id, j, output.Error)
					continue
				}
				if len(output.Rows) != 1 || output.Rows[0]["id"] != int64(id) || output.Rows[0]["iter"] != int64(j) {
					t.Errorf("goroutine %d iter %d: got another session's rows %v", id, j, output.Rows)
				}
			}
		}(i)
	}
	wg.Wait()

	if errCount.Load() > 0 {
		t.Fatalf("%d errors in concurrent queries", errCount.Load())
	}
}

func TestConcurrent_SemaphoreLimit(t *testing.T) {
	t.Parallel()
	const calls = 8
	const delay = 50 * time.Millisecond
	m, mock := newMockInstance(t, Config{MaxConcurrentCalls: 2})
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < calls; i++ {
		expectSession(mock, exactSQL("SELECT TOP 1 * FROM Orders"), ordersRows()).WillDelayFor(delay)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if output := m.ReadQuery(context.Background(), ReadQueryInput{Query: "SELECT TOP 1 * FROM Orders"}); output.Error != "" {
				t.Errorf("unexpected error: %s", output.Error)
			}
		}()
	}
	wg.Wait()

	// Two slots means at least calls/2 rounds of delay.
	if elapsed := time.Since(start); elapsed < calls/2*delay {
		t.Fatalf("expected at most 2 statements in flight, %d calls finished in %v", calls, elapsed)
	}
}

func TestConcurrent_Admission(t *testing.T) {
	t.Parallel()
	queries := []string{
		"SELECT * FROM Orders",
		"select 1; select 2",
		"DELETE FROM Orders",
		"WITH x AS (SELECT 1 AS a) SELECT a FROM x",
		"SELECT ';' AS semi",
	}
	filter := admission.NewFilter(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = filter.Admit(queries[(id+j)%len(queries)], 10)
			}
		}(i)
	}
	wg.Wait()
}

func TestConcurrent_SanitizationAndPrompts(t *testing.T) {
	t.Parallel()
	s, err := sanitize.NewSanitizer([]sanitize.Rule{
		{Pattern: `\d{3}-\d{4}`, Replacement: "***-****"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matcher, err := errprompt.NewDefaultMatcher(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	manager := timeout.NewManager(timeout.Config{
		Default: 30 * time.Second,
		Rules:   []timeout.Rule{{Pattern: `(?i)sys\.`, Timeout: time.Minute}},
	})

	messages := []string{
		"mssql: Invalid object name 'Ordrs'.",
		"mssql: Invalid column name 'Nmae'.",
		"connection refused",
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rows := []map[string]any{{"phone": "555-1234", "name": "Ada"}}
				s.SanitizeRows(rows)
				_ = matcher.Annotate(messages[(id+j)%len(messages)])
				_, _ = manager.Resolve("SELECT * FROM sys.objects")
			}
		}(i)
	}
	wg.Wait()
}

func TestConcurrent_MixedOperations(t *testing.T) {
	t.Parallel()
	m, mock := newMockInstance(t, Config{})
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 10; i++ {
		expectSession(mock, exactSQL("SELECT TOP 3 * FROM Orders"), ordersRows())
		expectSession(mock, exactSQL(listTablesSQL), tableRows("Orders"))
		expectSession(mock, describeStatement, ordersColumnRows()).WithArgs("Orders")
		expectSession(mock, dependencySQL(referencedColumn, "'Orders'"), dependencyRows())
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(4)
		go func() {
			defer wg.Done()
			if output := m.ReadQuery(context.Background(), ReadQueryInput{Query: "SELECT TOP 3 * FROM Orders"}); output.Error != "" {
				t.Errorf("ReadQuery: %s", output.Error)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := m.ListTables(context.Background(), ListTablesInput{}); err != nil {
				t.Errorf("ListTables: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := m.DescribeTable(context.Background(), DescribeTableInput{Table: "Orders"}); err != nil {
				t.Errorf("DescribeTable: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := m.ProceduresLinkedToTable(context.Background(), DependencyInput{Name: "Orders"}); err != nil {
				t.Errorf("ProceduresLinkedToTable: %v", err)
			}
		}()
	}
	wg.Wait()
}
