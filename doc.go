// Package msmcp provides read-only SQL Server access for AI agents through
// the Model Context Protocol (MCP).
//
// It exposes five tools: read_query, list_tables, describe_table,
// get_table_linked_to_this_procedure and get_procedure_linked_to_this_table.
// Every call opens its own short-lived connection to the requested database,
// runs exactly one statement, and releases the result set and connection
// before returning.
//
// Caller-supplied SQL goes through the admission filter first: one statement
// only, it must start with SELECT, WITH or sp_helptext, and statements with
// no TOP or LIMIT are wrapped in SELECT TOP <row_limit>.
//
// # Library Usage
//
//	m, err := msmcp.New(msmcp.Config{
//		Connection: msmcp.ConnectionConfig{Host: "sql01", Port: 1433},
//	}, msmcp.Credentials{User: "pyservice", Password: pw}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Use directly
//	output := m.ReadQuery(ctx, msmcp.ReadQueryInput{Query: "SELECT * FROM Orders"})
//
//	// Or register as MCP tools
//	msmcp.RegisterMCPTools(mcpServer, m)
//
// # Dependency lookups
//
// The two dependency tools interpolate the object name into the statement
// text, as the tools they replace did. That is an injection vector for
// anyone who can call the tools. Set QueryConfig.ParameterizeDependencyLookups
// to bind the name as a parameter instead.
//
// # Hooks
//
// BeforeQuery and AfterQuery command hooks run around read_query as external
// processes. Each receives a JSON document on stdin and answers with a JSON
// document on stdout; see [HookEntry].
package msmcp
