package timeout

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Rule maps a SQL pattern to a deadline.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type. A zero Default means
// statements run without a deadline unless a rule matches.
type Config struct {
	Default time.Duration
	Rules   []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement deadlines based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Panics on invalid regex patterns.
func NewManager(config Config) *Manager {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("timeout: invalid regex pattern %q: %v", r.Pattern, err))
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.Default}
}

// Resolve returns the deadline for sql and the pattern that chose it.
// First matching rule wins; pattern is empty when the default applies.
func (m *Manager) Resolve(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Context derives a context bounded by the deadline for sql. With no
// deadline it returns ctx itself and a no-op cancel.
func (m *Manager) Context(ctx context.Context, sql string) (context.Context, context.CancelFunc, string) {
	d, pattern := m.Resolve(sql)
	if d <= 0 {
		return ctx, func() {}, pattern
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, cancel, pattern
}
