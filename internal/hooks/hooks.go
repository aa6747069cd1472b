package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Config is the hook runner's own config type.
type Config struct {
	DefaultTimeout time.Duration
	BeforeQuery    []HookEntry
	AfterQuery     []HookEntry
}

// HookEntry defines a single command-based hook. Pattern is matched against
// the statement text in both stages.
type HookEntry struct {
	Pattern string
	Command string
	Args    []string
	Timeout time.Duration // 0 means use DefaultTimeout
}

// BeforeQueryInput is written to a before_query hook's stdin.
type BeforeQueryInput struct {
	Database string `json:"database"`
	Query    string `json:"query"`
}

// BeforeQueryResult is the JSON response from a before_query hook.
type BeforeQueryResult struct {
	Accept        bool   `json:"accept"`
	ModifiedQuery string `json:"modified_query,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// AfterQueryInput is written to an after_query hook's stdin.
type AfterQueryInput struct {
	Database string           `json:"database"`
	Query    string           `json:"query"`
	Rows     []map[string]any `json:"rows"`
}

// AfterQueryResult is the JSON response from an after_query hook.
type AfterQueryResult struct {
	Accept       bool            `json:"accept"`
	ModifiedRows json.RawMessage `json:"modified_rows,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type compiledHook struct {
	pattern *regexp.Regexp
	command string
	args    []string
	timeout time.Duration
}

// Runner executes command-based hooks around read_query.
type Runner struct {
	beforeQuery []compiledHook
	afterQuery  []compiledHook
	logger      zerolog.Logger
}

// NewRunner creates a new Runner. Panics on invalid regex or invalid config.
func NewRunner(config Config, logger zerolog.Logger) *Runner {
	if config.DefaultTimeout <= 0 && (len(config.BeforeQuery) > 0 || len(config.AfterQuery) > 0) {
		panic("hooks: default_hook_timeout_seconds must be > 0 when hooks are configured")
	}

	compile := func(stage string, entries []HookEntry) []compiledHook {
		compiled := make([]compiledHook, len(entries))
		for i, e := range entries {
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				panic(fmt.Sprintf("hooks: %s[%d]: invalid regex pattern %q: %v", stage, i, e.Pattern, err))
			}
			if e.Command == "" {
				panic(fmt.Sprintf("hooks: %s[%d]: command must be set", stage, i))
			}
			timeout := e.Timeout
			if timeout == 0 {
				timeout = config.DefaultTimeout
			}
			compiled[i] = compiledHook{pattern: re, command: e.Command, args: e.Args, timeout: timeout}
		}
		return compiled
	}

	return &Runner{
		beforeQuery: compile("before_query", config.BeforeQuery),
		afterQuery:  compile("after_query", config.AfterQuery),
		logger:      logger,
	}
}

// HasBeforeQueryHooks returns true if any BeforeQuery hooks are configured.
func (r *Runner) HasBeforeQueryHooks() bool {
	return len(r.beforeQuery) > 0
}

// HasAfterQueryHooks returns true if any AfterQuery hooks are configured.
func (r *Runner) HasAfterQueryHooks() bool {
	return len(r.afterQuery) > 0
}

// RunBeforeQuery runs matching hooks in order; each sees the query as left by
// the previous one. Returns the final query and the commands that ran.
func (r *Runner) RunBeforeQuery(ctx context.Context, database, query string) (string, []string, error) {
	var executed []string
	current := query
	for _, hook := range r.beforeQuery {
		if !hook.pattern.MatchString(current) {
			continue
		}
		var result BeforeQueryResult
		if err := r.call(ctx, hook, BeforeQueryInput{Database: database, Query: current}, &result); err != nil {
			return "", executed, fmt.Errorf("before_query hook error: %w", err)
		}
		executed = append(executed, hook.command)

		if !result.Accept {
			return "", executed, rejection(result.ErrorMessage, "query rejected by hook")
		}
		if result.ModifiedQuery != "" {
			current = result.ModifiedQuery
		}
	}
	return current, executed, nil
}

// RunAfterQuery runs matching hooks in order over the result rows. Numbers in
// rows replaced by a hook decode as json.Number.
func (r *Runner) RunAfterQuery(ctx context.Context, database, query string, rows []map[string]any) ([]map[string]any, []string, error) {
	var executed []string
	current := rows
	for _, hook := range r.afterQuery {
		if !hook.pattern.MatchString(query) {
			continue
		}
		var result AfterQueryResult
		if err := r.call(ctx, hook, AfterQueryInput{Database: database, Query: query, Rows: current}, &result); err != nil {
			return nil, executed, fmt.Errorf("after_query hook error: %w", err)
		}
		executed = append(executed, hook.command)

		if !result.Accept {
			return nil, executed, rejection(result.ErrorMessage, "result rejected by hook")
		}
		if len(result.ModifiedRows) > 0 {
			var modified []map[string]any
			dec := json.NewDecoder(bytes.NewReader(result.ModifiedRows))
			dec.UseNumber()
			if err := dec.Decode(&modified); err != nil {
				return nil, executed, fmt.Errorf("after_query hook returned invalid modified_rows (command: %s): %w", hook.command, err)
			}
			current = modified
		}
	}
	return current, executed, nil
}

func rejection(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}

// call runs hook with input as JSON on stdin and decodes its stdout into out.
func (r *Runner) call(ctx context.Context, hook compiledHook, input any, out any) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode hook input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, hook.timeout)
	defer cancel()

	// No shell: the command is executed directly with its args.
	cmd := exec.CommandContext(ctx, hook.command, hook.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if stderr.Len() > 0 {
		level := r.logger.Debug()
		if err != nil {
			level = r.logger.Warn()
		}
		level.Str("command", hook.command).Str("stderr", stderr.String()).Msg("hook stderr output")
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook timed out: %s", hook.command)
		}
		return fmt.Errorf("hook failed (command: %s): %w", hook.command, err)
	}

	if err := json.Unmarshal(output, out); err != nil {
		return fmt.Errorf("hook returned unparseable response (command: %s): %w", hook.command, err)
	}
	return nil
}
