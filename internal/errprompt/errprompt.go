package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule pairs an error message pattern with guidance for the agent.
type Rule struct {
	Pattern string
	Message string
}

// Defaults are the built-in SQL Server guidance rules. They are evaluated
// before any configured rules.
var Defaults = []Rule{
	{
		Pattern: `(?i)datetimeoffset|SQL type -155`,
		Message: "A datetimeoffset column could not be read. Use describe_table to find datetimeoffset columns and CAST them to datetime in the select list.",
	},
	{
		Pattern: `(?i)Invalid object name`,
		Message: "The object does not exist in this database. Use list_tables to see available tables, or pass the database argument.",
	},
	{
		Pattern: `(?i)Invalid column name`,
		Message: "Use describe_table to check the column names of the table.",
	},
	{
		Pattern: `(?i)multiple statements not allowed`,
		Message: "Send exactly one statement per read_query call.",
	},
	{
		Pattern: `(?i)only read statements allowed`,
		Message: "read_query only runs read statements. Start the statement with one of the allowed prefixes named in the error.",
	},
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules in order. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{pattern: re, message: r.Message})
	}
	return &Matcher{rules: compiled}, nil
}

// NewDefaultMatcher compiles Defaults followed by extra.
func NewDefaultMatcher(extra []Rule) (*Matcher, error) {
	rules := make([]Rule, 0, len(Defaults)+len(extra))
	rules = append(rules, Defaults...)
	rules = append(rules, extra...)
	return NewMatcher(rules)
}

// Match returns the messages of all matching rules joined with newlines,
// or an empty string.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the patterns that matched errMsg, for logging.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

// Annotate appends matching guidance to errMsg, separated by a blank line.
func (m *Matcher) Annotate(errMsg string) string {
	prompt := m.Match(errMsg)
	if prompt == "" {
		return errMsg
	}
	return errMsg + "\n\n" + prompt
}
