package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule masks values matching Pattern. When Columns is non-empty the rule only
// applies to those result columns (case-insensitive, as SQL Server compares
// identifiers).
type Rule struct {
	Pattern     string
	Replacement string
	Columns     []string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	columns     map[string]bool
}

func (r compiledRule) appliesTo(column string) bool {
	return len(r.columns) == 0 || r.columns[strings.ToLower(column)]
}

// Sanitizer rewrites string values in read_query result rows.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer compiles rules. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		var cols map[string]bool
		if len(r.Columns) > 0 {
			cols = make(map[string]bool, len(r.Columns))
			for _, c := range r.Columns {
				cols[strings.ToLower(c)] = true
			}
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement, columns: cols}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows rewrites rows in place and returns them. Only string values
// are touched; SQL Server scalars never nest.
func (s *Sanitizer) SanitizeRows(rows []map[string]any) []map[string]any {
	if !s.HasRules() {
		return rows
	}
	for _, row := range rows {
		for col, v := range row {
			str, ok := v.(string)
			if !ok {
				continue
			}
			row[col] = s.SanitizeValue(col, str)
		}
	}
	return rows
}

// SanitizeValue applies every rule that covers column to value, in order.
func (s *Sanitizer) SanitizeValue(column, value string) string {
	for _, rule := range s.rules {
		if rule.appliesTo(column) {
			value = rule.pattern.ReplaceAllString(value, rule.replacement)
		}
	}
	return value
}
