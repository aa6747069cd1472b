package msmcp

// ReadQueryInput is the input for the ReadQuery tool.
type ReadQueryInput struct {
	Query    string `json:"query"`
	Params   []any  `json:"params,omitempty"`
	Database string `json:"database,omitempty"`
	// FetchAll defaults to true. When false at most one row is returned.
	FetchAll *bool `json:"fetch_all,omitempty"`
	// RowLimit defaults to QueryConfig.DefaultRowLimit.
	RowLimit *int `json:"row_limit,omitempty"`
}

// ReadQueryOutput is the output of the ReadQuery tool. All errors (admission
// rejections, SQL Server errors, hook rejections, Go errors) are placed in
// Error, with any matching error prompts appended.
type ReadQueryOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Error   string           `json:"error,omitempty"`
}

// ListTablesInput is the input for the ListTables tool.
type ListTablesInput struct {
	Database string `json:"database,omitempty"`
}

// ListTablesOutput is the output of the ListTables tool.
type ListTablesOutput struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
}

// DescribeTableInput is the input for the DescribeTable tool.
type DescribeTableInput struct {
	Table    string `json:"table_name"`
	Database string `json:"database,omitempty"`
}

// ColumnDescription describes a single column. NotNull is "NO" when the
// column is nullable and "YES" when it is not; clients of the original
// tool depend on that reading.
type ColumnDescription struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      string  `json:"notnull"`
	DefaultValue *string `json:"dflt_value"`
	Identity     string  `json:"identity"`
	PrimaryKey   string  `json:"pk"`
}

// DescribeTableOutput is the output of the DescribeTable tool. Text is the
// rendering returned over MCP.
type DescribeTableOutput struct {
	Database string              `json:"database"`
	Table    string              `json:"table"`
	Columns  []ColumnDescription `json:"columns"`
	Text     string              `json:"text"`
}

// DependencyInput is the input for the two dependency lookup tools. Name is
// a procedure name or a table name depending on the tool.
type DependencyInput struct {
	Name     string `json:"name"`
	Database string `json:"database,omitempty"`
}

// DependencyOutput is the output of the dependency lookup tools. Markdown is
// the rendering returned over MCP.
type DependencyOutput struct {
	Database string   `json:"database"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Markdown string   `json:"markdown"`
}
