package msmcp

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rickchristie/mssql-mcp/internal/session"
)

// ReadQuery executes the read_query pipeline and returns only ReadQueryOutput.
// All errors (admission rejections, SQL Server errors, hook rejections, Go
// errors) are converted to output.Error, with any matching error prompts
// appended. Callers only need to check output.Error, never a Go error.
func (m *SQLServerMcp) ReadQuery(ctx context.Context, input ReadQueryInput) *ReadQueryOutput {
	startTime := time.Now()
	sql := input.Query
	database := m.conn.Database(input.Database)

	// 1. Check SQL length (before hooks and admission)
	if len(sql) > m.config.Query.MaxSQLLength {
		return m.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), m.config.Query.MaxSQLLength))
	}

	rowLimit := m.config.Query.DefaultRowLimit
	if input.RowLimit != nil {
		rowLimit = *input.RowLimit
	}
	if rowLimit < 0 {
		return m.handleError(fmt.Errorf("row_limit must be >= 0, got %d", rowLimit))
	}
	fetchAll := input.FetchAll == nil || *input.FetchAll

	// --- Pipeline tracking ---
	var beforeHooks, afterHooks []string

	// 2. Run BeforeQuery hooks (middleware chain)
	var err error
	if m.cmdHooks != nil && m.cmdHooks.HasBeforeQueryHooks() {
		sql, beforeHooks, err = m.cmdHooks.RunBeforeQuery(ctx, database, sql)
		if err != nil {
			return m.handleError(err)
		}
	}

	// 3. Admission (on the potentially modified query)
	sql, err = m.admission.Admit(sql, rowLimit)
	if err != nil {
		return m.handleError(err)
	}

	// 4. Execute in a scoped session
	var columns []string
	var rows []map[string]any
	timeoutRule, err := m.runStatement(ctx, database, sql, input.Params, func(s *session.Session) error {
		cols, err := s.Columns()
		if err != nil {
			return err
		}
		types, err := s.ColumnTypes()
		if err != nil {
			return err
		}
		values, err := s.Fetch(fetchAll)
		if err != nil {
			return err
		}
		columns = cols
		rows = rowsToMaps(cols, values, types)
		return nil
	})
	if err != nil {
		return m.handleError(err)
	}

	// 5. AfterQuery hooks
	if m.cmdHooks != nil && m.cmdHooks.HasAfterQueryHooks() {
		rows, afterHooks, err = m.cmdHooks.RunAfterQuery(ctx, database, sql, rows)
		if err != nil {
			return m.handleError(err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
	}

	// 6. Sanitization
	sanitized := m.sanitizer.HasRules()
	rows = m.sanitizer.SanitizeRows(rows)

	output := &ReadQueryOutput{Columns: columns, Rows: rows}

	// 7. Max result length truncation
	m.truncateIfNeeded(output)

	// 8. Log successful execution with pipeline details
	logEvent := m.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Str("database", database).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(output.Rows))
	if len(beforeHooks) > 0 {
		logEvent = logEvent.Strs("before_hooks", beforeHooks)
	}
	if len(afterHooks) > 0 {
		logEvent = logEvent.Strs("after_hooks", afterHooks)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return output
}

// handleError converts any error into a ReadQueryOutput with error message.
// The error message is evaluated against error prompts; matching guidance is
// appended.
func (m *SQLServerMcp) handleError(err error) *ReadQueryOutput {
	return &ReadQueryOutput{Error: m.errorMessage("read_query", err)}
}

// errorMessage logs err and returns its text with error prompt guidance
// appended.
func (m *SQLServerMcp) errorMessage(tool string, err error) string {
	errMsg := err.Error()
	patterns := m.errPrompts.MatchedPatterns(errMsg)

	logEvent := m.logger.Error().Err(err).Str("tool", tool)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")

	return m.errPrompts.Annotate(errMsg)
}

// truncateIfNeeded truncates query output rows if they exceed MaxResultLength (in characters).
func (m *SQLServerMcp) truncateIfNeeded(output *ReadQueryOutput) {
	jsonBytes, _ := marshalRows(output.Columns, output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= m.config.Query.MaxResultLength {
		return
	}
	runes := []rune(jsonStr)
	truncated := string(runes[:m.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Lower row_limit or select fewer columns."
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
