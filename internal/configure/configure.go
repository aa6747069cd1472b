package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	msmcp "github.com/rickchristie/mssql-mcp"
)

// Run runs the interactive configuration wizard. It reads the existing
// config (if any), prompts for each field, and writes the result to
// configPath.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "gomsmcp configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n", configPath)
	fmt.Fprintf(output, "Credentials are not stored here; set GOMSMCP_MSSQL_USER and GOMSMCP_MSSQL_PASSWORD or enter them at startup.\n\n")

	// Connection
	fmt.Fprintf(output, "=== Connection ===\n")
	cfg.Connection.Driver = p.promptEnum("connection.driver", cfg.Connection.Driver, drivers)
	cfg.Connection.Host = p.promptRequiredStringWithHint("connection.host", cfg.Connection.Host, "required")
	cfg.Connection.Port = p.promptNonNegativeInt("connection.port", cfg.Connection.Port, "0 = resolve through the instance name")
	cfg.Connection.Instance = p.promptStringWithHint("connection.instance", cfg.Connection.Instance, "named instance, empty for the default instance")
	cfg.Connection.DefaultDatabase = p.promptStringWithHint("connection.default_database", cfg.Connection.DefaultDatabase, "used when a tool call names no database")
	cfg.Connection.Encrypt = p.promptEnum("connection.encrypt", cfg.Connection.Encrypt, encryptModes)
	cfg.Connection.TrustServerCertificate = p.promptBool("connection.trust_server_certificate", cfg.Connection.TrustServerCertificate)
	cfg.Connection.AppName = p.promptString("connection.app_name", cfg.Connection.AppName)
	cfg.Connection.DialTimeoutSeconds = p.promptNonNegativeInt("connection.dial_timeout_seconds", cfg.Connection.DialTimeoutSeconds, "seconds, 0 = driver default")

	// Server
	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Transport = p.promptEnum("server.transport", cfg.Server.Transport, transports)
	cfg.Server.Port = p.promptPositiveInt("server.port", cfg.Server.Port, "must be > 0, ignored for stdio")
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptStringWithHint("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /healthz, required when health_check_enabled is true")

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stdout, stderr, or file path")

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultRowLimit = p.promptPositiveInt("query.default_row_limit", cfg.Query.DefaultRowLimit, "rows, must be > 0")
	cfg.Query.TimeoutSeconds = p.promptNonNegativeInt("query.timeout_seconds", cfg.Query.TimeoutSeconds, "seconds, 0 = no deadline")
	cfg.Query.MaxSQLLength = p.promptPositiveInt("query.max_sql_length", cfg.Query.MaxSQLLength, "bytes, must be > 0")
	cfg.Query.MaxResultLength = p.promptPositiveInt("query.max_result_length", cfg.Query.MaxResultLength, "characters, must be > 0")
	cfg.Query.AllowedPrefixes = p.promptList("query.allowed_prefixes", cfg.Query.AllowedPrefixes, "comma-separated, empty = select, with, sp_helptext")
	cfg.Query.ParameterizeDependencyLookups = p.promptBool("query.parameterize_dependency_lookups", cfg.Query.ParameterizeDependencyLookups)

	// General
	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.MaxConcurrentCalls = p.promptNonNegativeInt("max_concurrent_calls", cfg.MaxConcurrentCalls, "0 = unbounded")
	cfg.DefaultHookTimeoutSeconds = p.promptNonNegativeInt("default_hook_timeout_seconds", cfg.DefaultHookTimeoutSeconds, "seconds, must be > 0 when hooks are configured")

	// Array fields
	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = p.promptTimeoutRules(cfg.Query.TimeoutRules)

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = p.promptErrorPrompts(cfg.ErrorPrompts)

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = p.promptSanitizationRules(cfg.Sanitization)

	fmt.Fprintf(output, "\n=== Server Hooks: Before Query ===\n")
	cfg.ServerHooks.BeforeQuery = p.promptHookEntries("server_hooks.before_query", cfg.ServerHooks.BeforeQuery)

	fmt.Fprintf(output, "\n=== Server Hooks: After Query ===\n")
	cfg.ServerHooks.AfterQuery = p.promptHookEntries("server_hooks.after_query", cfg.ServerHooks.AfterQuery)

	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

func loadExisting(configPath string) (*msmcp.ServerConfig, bool) {
	cfg := &msmcp.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Ignore unmarshal errors, start with whatever was parseable.
	_ = json.Unmarshal(data, cfg)
	return cfg, false
}

// applyDefaults sets the defaults for a new configuration.
func applyDefaults(cfg *msmcp.ServerConfig) {
	cfg.Connection.Driver = "mssql"
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 1433
	cfg.Connection.DefaultDatabase = "ants"
	cfg.Connection.Encrypt = "true"
	cfg.Connection.AppName = "gomsmcp"
	cfg.Server.Transport = "http"
	cfg.Server.Port = 8009
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Query.DefaultRowLimit = 10
	cfg.Query.MaxSQLLength = 100000
	cfg.Query.MaxResultLength = 100000
}

var (
	drivers      = []string{"mssql", "sqlserver"}
	encryptModes = []string{"disable", "false", "true"}
	transports   = []string{"http", "stdio"}
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"json", "text"}
)

func writeConfig(configPath string, cfg *msmcp.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}
	return nil
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
	eof     bool
}

// readLine returns the next trimmed line. At end of input it returns "" and
// sets eof so prompts that reject empty input stop retrying.
func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	p.eof = true
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) promptString(field string, current string) string {
	fmt.Fprintf(p.output, "%s (%s: %q): ", field, p.valueLabel(), current)
	if input := p.readLine(); input != "" {
		return input
	}
	return current
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
	if input := p.readLine(); input != "" {
		return input
	}
	return current
}

// promptRequiredStringWithHint is promptStringWithHint that refuses to keep
// an empty value.
func (p *prompter) promptRequiredStringWithHint(field string, current string, hint string) string {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input != "" {
			return input
		}
		if current != "" || p.eof {
			return current
		}
		fmt.Fprintf(p.output, "  Value is required, try again.\n")
	}
}

func (p *prompter) promptPositiveInt(field string, current int, hint string) int {
	prompt := fmt.Sprintf("%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
	return p.askInt(prompt, 1, current, current <= 0)
}

func (p *prompter) promptNonNegativeInt(field string, current int, hint string) int {
	prompt := fmt.Sprintf("%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
	return p.askInt(prompt, 0, current, false)
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	return p.askInt(fmt.Sprintf("  %s (must be > 0): ", name), 1, 0, true)
}

func (p *prompter) promptNewNonNegativeIntField(name string) int {
	return p.askInt(fmt.Sprintf("  %s (must be >= 0): ", name), 0, 0, false)
}

// askInt repeats prompt until it reads an integer >= min. Empty input yields
// fallback unless required is set; end of input always yields fallback.
func (p *prompter) askInt(prompt string, min, fallback int, required bool) int {
	bound := ">= 0"
	if min > 0 {
		bound = "> 0"
	}
	for {
		fmt.Fprint(p.output, prompt)
		input := p.readLine()
		if input == "" {
			if !required || p.eof {
				return fallback
			}
			fmt.Fprintf(p.output, "  Value must be %s, try again.\n", bound)
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val < min {
			fmt.Fprintf(p.output, "  Value must be %s, try again.\n", bound)
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	for {
		fmt.Fprintf(p.output, "%s (%s: %v): ", field, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1":
			return true
		case "false", "f", "no", "n", "0":
			return false
		default:
			fmt.Fprintf(p.output, "  Invalid value %q, use true/false/yes/no, try again.\n", input)
		}
	}
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	options := strings.Join(allowed, ", ")
	for {
		fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", field, p.valueLabel(), current, options)
		input := p.readLine()
		if input == "" {
			return current
		}
		if slices.Contains(allowed, input) {
			return input
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, options)
	}
}

// promptList reads a comma-separated list. A single "-" clears it.
func (p *prompter) promptList(field string, current []string, hint string) []string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), strings.Join(current, ", "))
	input := p.readLine()
	switch input {
	case "":
		return current
	case "-":
		return nil
	}
	return splitList(input)
}

func splitList(input string) []string {
	var out []string
	for _, item := range strings.Split(input, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Array field editors

// editEntries runs the add/remove/continue loop for one array field. show
// renders an entry for the listing, add prompts for a new one.
func editEntries[T any](p *prompter, label string, items []T, show func(T) string, add func() T) []T {
	for {
		if len(items) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, item := range items {
			fmt.Fprintf(p.output, "  [%d] %s\n", i, show(item))
		}
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		switch strings.ToLower(p.readLine()) {
		case "a":
			items = append(items, add())
		case "r":
			items = removeByIndex(p, label, items)
		case "c", "":
			return items
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) promptTimeoutRules(current []msmcp.TimeoutRule) []msmcp.TimeoutRule {
	return editEntries(p, "query.timeout_rules", current,
		func(r msmcp.TimeoutRule) string {
			return fmt.Sprintf("pattern=%q timeout_seconds=%d", r.Pattern, r.TimeoutSeconds)
		},
		func() msmcp.TimeoutRule {
			return msmcp.TimeoutRule{
				Pattern:        p.promptNewRegexField("pattern"),
				TimeoutSeconds: p.promptNewPositiveIntField("timeout_seconds"),
			}
		})
}

func (p *prompter) promptErrorPrompts(current []msmcp.ErrorPromptRule) []msmcp.ErrorPromptRule {
	return editEntries(p, "error_prompts", current,
		func(r msmcp.ErrorPromptRule) string {
			return fmt.Sprintf("pattern=%q message=%q", r.Pattern, r.Message)
		},
		func() msmcp.ErrorPromptRule {
			return msmcp.ErrorPromptRule{
				Pattern: p.promptNewRegexField("pattern"),
				Message: p.promptNewField("message"),
			}
		})
}

func (p *prompter) promptSanitizationRules(current []msmcp.SanitizationRule) []msmcp.SanitizationRule {
	return editEntries(p, "sanitization", current,
		func(r msmcp.SanitizationRule) string {
			return fmt.Sprintf("pattern=%q replacement=%q columns=%v description=%q", r.Pattern, r.Replacement, r.Columns, r.Description)
		},
		func() msmcp.SanitizationRule {
			return msmcp.SanitizationRule{
				Pattern:     p.promptNewRegexField("pattern"),
				Replacement: p.promptNewField("replacement"),
				Columns:     splitList(p.promptNewField("columns (comma-separated, empty = all)")),
				Description: p.promptNewField("description"),
			}
		})
}

func (p *prompter) promptHookEntries(label string, current []msmcp.HookEntry) []msmcp.HookEntry {
	return editEntries(p, label, current,
		func(e msmcp.HookEntry) string {
			return fmt.Sprintf("pattern=%q command=%q args=%v timeout_seconds=%d", e.Pattern, e.Command, e.Args, e.TimeoutSeconds)
		},
		func() msmcp.HookEntry {
			return msmcp.HookEntry{
				Pattern:        p.promptNewRegexField("pattern"),
				Command:        p.promptNewField("command"),
				Args:           splitList(p.promptNewField("args (comma-separated)")),
				TimeoutSeconds: p.promptNewNonNegativeIntField("timeout_seconds"),
			}
		})
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

// removeByIndex removes the element at a prompted index.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	idx, err := strconv.Atoi(p.readLine())
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return slices.Delete(items, idx, idx+1)
}
