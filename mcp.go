package msmcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const readQueryDescription = `Execute a query on the SQL Server database. Only one statement starting with SELECT, WITH or sp_helptext is accepted. Statements without TOP or LIMIT are wrapped in SELECT TOP <row_limit>.

Note: if you get an error mentioning 'ODBC SQL type -155' or datetimeoffset, a datetimeoffset column cannot be read by this tool. Get the table schema with describe_table and CAST those columns to datetime.`

// RegisterMCPTools registers the five tools as MCP tools on the given MCP
// server.
func RegisterMCPTools(mcpServer *server.MCPServer, m *SQLServerMcp) {
	mcpServer.AddTools(m.tools()...)
}

// tools returns the tool definitions with their logged handlers.
func (m *SQLServerMcp) tools() []server.ServerTool {
	defaultDB := m.DefaultDatabase()
	databaseOpt := mcp.WithString("database",
		mcp.Description(fmt.Sprintf("Database to run against (defaults to %q)", defaultDB)),
		mcp.DefaultString(defaultDB),
	)

	readQueryTool := mcp.NewTool("read_query",
		mcp.WithDescription(readQueryDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SELECT statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values bound to ? placeholders"),
			mcp.Items(map[string]any{}),
		),
		mcp.WithBoolean("fetch_all",
			mcp.Description("Return every row (true) or only the first row (false)"),
			mcp.DefaultBool(true),
		),
		mcp.WithNumber("row_limit",
			mcp.Description("Row cap applied when the statement has no TOP or LIMIT"),
			mcp.DefaultNumber(float64(m.config.Query.DefaultRowLimit)),
		),
		databaseOpt,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all user tables in the SQL Server database."),
		databaseOpt,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe the schema of a table in SQL Server."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		databaseOpt,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	procedureTablesTool := mcp.NewTool("get_table_linked_to_this_procedure",
		mcp.WithDescription("Get all the tables referencing the stored procedure."),
		mcp.WithString("procedure_name",
			mcp.Required(),
			mcp.Description("The stored procedure name"),
		),
		databaseOpt,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	tableProceduresTool := mcp.NewTool("get_procedure_linked_to_this_table",
		mcp.WithDescription("Get all the procs and functions referencing the table."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name"),
		),
		databaseOpt,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	return []server.ServerTool{
		{Tool: readQueryTool, Handler: m.loggedToolHandler("read_query", m.handleReadQuery)},
		{Tool: listTablesTool, Handler: m.loggedToolHandler("list_tables", m.handleListTables)},
		{Tool: describeTableTool, Handler: m.loggedToolHandler("describe_table", m.handleDescribeTable)},
		{Tool: procedureTablesTool, Handler: m.loggedToolHandler("get_table_linked_to_this_procedure", m.dependencyHandler("get_table_linked_to_this_procedure", "procedure_name", m.TablesLinkedToProcedure))},
		{Tool: tableProceduresTool, Handler: m.loggedToolHandler("get_procedure_linked_to_this_table", m.dependencyHandler("get_procedure_linked_to_this_table", "table_name", m.ProceduresLinkedToTable))},
	}
}

func (m *SQLServerMcp) handleReadQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	input := ReadQueryInput{
		Query:    query,
		Database: req.GetString("database", ""),
	}
	if params, ok := req.GetArguments()["params"].([]any); ok {
		input.Params = params
	}
	fetchAll := req.GetBool("fetch_all", true)
	input.FetchAll = &fetchAll
	rowLimit := req.GetInt("row_limit", m.config.Query.DefaultRowLimit)
	input.RowLimit = &rowLimit

	output := m.ReadQuery(ctx, input)
	if output.Error != "" {
		return mcp.NewToolResultError(output.Error), nil
	}
	jsonBytes, err := marshalRows(output.Columns, output.Rows)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal query result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (m *SQLServerMcp) handleListTables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	output, err := m.ListTables(ctx, ListTablesInput{Database: req.GetString("database", "")})
	if err != nil {
		return mcp.NewToolResultError(m.errorMessage("list_tables", err)), nil
	}
	jsonBytes, err := json.Marshal(output.Tables)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal list tables result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (m *SQLServerMcp) handleDescribeTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table_name")
	if err != nil {
		return mcp.NewToolResultError("table_name parameter is required"), nil
	}
	output, err := m.DescribeTable(ctx, DescribeTableInput{Table: table, Database: req.GetString("database", "")})
	if err != nil {
		return mcp.NewToolResultError(m.errorMessage("describe_table", err)), nil
	}
	return mcp.NewToolResultText(output.Text), nil
}

func (m *SQLServerMcp) dependencyHandler(tool, arg string, lookup func(context.Context, DependencyInput) (*DependencyOutput, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString(arg)
		if err != nil {
			return mcp.NewToolResultError(arg + " parameter is required"), nil
		}
		output, err := lookup(ctx, DependencyInput{Name: name, Database: req.GetString("database", "")})
		if err != nil {
			return mcp.NewToolResultError(m.errorMessage(tool, err)), nil
		}
		return mcp.NewToolResultText(output.Markdown), nil
	}
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (m *SQLServerMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		event := m.logger.Info()
		if result != nil && result.IsError {
			event = m.logger.Warn()
		}
		event.
			Str("tool", tool).
			Str("call_id", callID).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
