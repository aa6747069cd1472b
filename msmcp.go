package msmcp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/mssql-mcp/internal/admission"
	"github.com/rickchristie/mssql-mcp/internal/errprompt"
	"github.com/rickchristie/mssql-mcp/internal/hooks"
	"github.com/rickchristie/mssql-mcp/internal/sanitize"
	"github.com/rickchristie/mssql-mcp/internal/session"
	"github.com/rickchristie/mssql-mcp/internal/timeout"
)

const (
	defaultMaxSQLLength    = 100000
	defaultMaxResultLength = 100000
)

// SQLServerMcp is the core engine behind the five tools. It holds no
// connections between calls; every call opens and closes its own session.
// All exported methods are safe for concurrent use from multiple goroutines.
type SQLServerMcp struct {
	config     Config
	conn       session.Config
	semaphore  chan struct{} // nil when MaxConcurrentCalls is 0
	admission  *admission.Filter
	cmdHooks   *hooks.Runner
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	serverHooks *ServerHooksConfig
}

// WithServerHooks passes command-based hook configuration to SQLServerMcp.
func WithServerHooks(h ServerHooksConfig) Option {
	return func(o *options) {
		o.serverHooks = &h
	}
}

// New creates a new SQLServerMcp. No connection is made; use Ping to check
// connectivity. Panics on invalid config. Returns an error when a configured
// regex pattern does not compile.
func New(config Config, creds Credentials, logger zerolog.Logger, opts ...Option) (*SQLServerMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if config.MaxConcurrentCalls < 0 {
		panic("msmcp: max_concurrent_calls must be >= 0")
	}
	if config.Query.TimeoutSeconds < 0 {
		panic("msmcp: query.timeout_seconds must be >= 0")
	}
	if config.Query.DefaultRowLimit < 0 {
		panic("msmcp: query.default_row_limit must be >= 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("msmcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("msmcp: query.max_result_length must be > 0")
	}
	if config.Connection.Port < 0 || config.Connection.Port > 65535 {
		panic(fmt.Sprintf("msmcp: connection.port %d out of range", config.Connection.Port))
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("msmcp: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// Apply defaults for zero values
	if config.Query.DefaultRowLimit == 0 {
		config.Query.DefaultRowLimit = admission.DefaultRowLimit
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = defaultMaxSQLLength
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = defaultMaxResultLength
	}

	// --- Initialize internal components ---

	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		return nil, err
	}
	matcher, err := errprompt.NewDefaultMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		Default: time.Duration(config.Query.TimeoutSeconds) * time.Second,
		Rules:   timeoutRules,
	})

	var cmdHooks *hooks.Runner
	if o.serverHooks != nil && (len(o.serverHooks.BeforeQuery) > 0 || len(o.serverHooks.AfterQuery) > 0) {
		hookEntries := func(entries []HookEntry) []hooks.HookEntry {
			result := make([]hooks.HookEntry, len(entries))
			for i, e := range entries {
				result[i] = hooks.HookEntry{
					Pattern: e.Pattern,
					Command: e.Command,
					Args:    e.Args,
					Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
				}
			}
			return result
		}
		cmdHooks = hooks.NewRunner(hooks.Config{
			DefaultTimeout: time.Duration(config.DefaultHookTimeoutSeconds) * time.Second,
			BeforeQuery:    hookEntries(o.serverHooks.BeforeQuery),
			AfterQuery:     hookEntries(o.serverHooks.AfterQuery),
		}, logger)
	}

	var sem chan struct{}
	if config.MaxConcurrentCalls > 0 {
		sem = make(chan struct{}, config.MaxConcurrentCalls)
	}

	return &SQLServerMcp{
		config:     config,
		conn:       sessionConfig(config.Connection, creds),
		semaphore:  sem,
		admission:  admission.NewFilter(config.Query.AllowedPrefixes),
		cmdHooks:   cmdHooks,
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		logger:     logger,
	}, nil
}

// Ping opens a session to database (or the default) and pings the server.
func (m *SQLServerMcp) Ping(ctx context.Context, database string) error {
	return session.With(ctx, m.conn, database, func(s *session.Session) error {
		return s.Ping(ctx)
	})
}

// DefaultDatabase returns the database used when a call names none.
func (m *SQLServerMcp) DefaultDatabase() string {
	return m.conn.Database("")
}

// runStatement opens a session on database, executes sql with params and
// hands the session to fn. The session is closed before runStatement
// returns. It returns the timeout rule pattern that applied, if any.
func (m *SQLServerMcp) runStatement(ctx context.Context, database, sql string, params []any, fn func(*session.Session) error) (string, error) {
	if m.semaphore != nil {
		select {
		case m.semaphore <- struct{}{}:
		case <-ctx.Done():
			return "", fmt.Errorf("failed to acquire call slot: all %d slots are in use, context cancelled while waiting: %w", cap(m.semaphore), ctx.Err())
		}
		defer func() { <-m.semaphore }()
	}

	queryCtx, cancel, timeoutRule := m.timeoutMgr.Context(ctx, sql)
	defer cancel()

	err := session.With(queryCtx, m.conn, database, func(s *session.Session) error {
		if err := s.Execute(queryCtx, sql, params...); err != nil {
			return err
		}
		return fn(s)
	})
	return timeoutRule, err
}

func sessionConfig(c ConnectionConfig, creds Credentials) session.Config {
	return session.Config{
		Driver:                 c.Driver,
		Host:                   c.Host,
		Port:                   c.Port,
		Instance:               c.Instance,
		User:                   creds.User,
		Password:               creds.Password,
		DefaultDatabase:        c.DefaultDatabase,
		Encrypt:                c.Encrypt,
		TrustServerCertificate: c.TrustServerCertificate,
		AppName:                c.AppName,
		DialTimeoutSeconds:     c.DialTimeoutSeconds,
	}
}

// mapSanitizationRules converts msmcp SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
		}
	}
	return result
}

// mapErrorPromptRules converts msmcp ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
