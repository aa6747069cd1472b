package msmcp

// Config is the base configuration used by library mode via New().
type Config struct {
	Connection                ConnectionConfig   `json:"connection"`
	Query                     QueryConfig        `json:"query"`
	ErrorPrompts              []ErrorPromptRule  `json:"error_prompts"`
	Sanitization              []SanitizationRule `json:"sanitization"`
	MaxConcurrentCalls        int                `json:"max_concurrent_calls"` // 0 means unbounded
	DefaultHookTimeoutSeconds int                `json:"default_hook_timeout_seconds"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Server      ServerSettings    `json:"server"`
	Logging     LoggingConfig     `json:"logging"`
	ServerHooks ServerHooksConfig `json:"server_hooks"`
}

// ConnectionConfig holds SQL Server connection parameters. The database is
// chosen per call; DefaultDatabase applies when a call names none.
type ConnectionConfig struct {
	Driver                 string `json:"driver"` // mssql (default, ? placeholders) or sqlserver (@p1 placeholders)
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	Instance               string `json:"instance"`
	DefaultDatabase        string `json:"default_database"`
	Encrypt                string `json:"encrypt"` // disable, false, true
	TrustServerCertificate bool   `json:"trust_server_certificate"`
	AppName                string `json:"app_name"`
	DialTimeoutSeconds     int    `json:"dial_timeout_seconds"`
}

// Credentials are never read from the config file. The CLI takes them from
// the environment or an interactive prompt.
type Credentials struct {
	User     string `json:"-"`
	Password string `json:"-"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `json:"transport"` // http (default) or stdio
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, stdout, or file path
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	DefaultRowLimit int           `json:"default_row_limit"`
	TimeoutSeconds  int           `json:"timeout_seconds"` // 0 means no deadline
	TimeoutRules    []TimeoutRule `json:"timeout_rules"`
	MaxSQLLength    int           `json:"max_sql_length"`
	MaxResultLength int           `json:"max_result_length"`
	// AllowedPrefixes replaces the select/with/sp_helptext allow-list.
	AllowedPrefixes []string `json:"allowed_prefixes"`
	// ParameterizeDependencyLookups binds the object name in the two
	// dependency tools instead of interpolating it into the SQL text.
	ParameterizeDependencyLookups bool `json:"parameterize_dependency_lookups"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based value sanitization rule. Columns
// limits the rule to the named result columns; empty means every column.
type SanitizationRule struct {
	Pattern     string   `json:"pattern"`
	Replacement string   `json:"replacement"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

// ServerHooksConfig holds command-based hook configuration for CLI mode.
type ServerHooksConfig struct {
	BeforeQuery []HookEntry `json:"before_query"`
	AfterQuery  []HookEntry `json:"after_query"`
}

// HookEntry defines a single command-based hook. The command receives a JSON
// document on stdin ({"database","query"} before, plus "rows" after) and
// must print {"accept": bool, "modified_query"|"modified_rows", "error_message"}.
type HookEntry struct {
	Pattern        string   `json:"pattern"`
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}
