package admission

import (
	"errors"
	"fmt"
	"strings"
)

// Terminator separates T-SQL statements.
const Terminator = ';'

// DefaultRowLimit is the row cap applied when the caller does not pass one.
const DefaultRowLimit = 10

// DefaultPrefixes are the statement-leading keywords accepted by Admit.
var DefaultPrefixes = []string{"select", "with", "sp_helptext"}

var (
	ErrMultipleStatements = errors.New("multiple statements not allowed")
	ErrNotReadStatement   = errors.New("only read statements allowed")
)

// Rejection is returned when a statement fails admission. It never reaches
// the database. errors.Is matches the sentinel that caused it.
type Rejection struct {
	Reason string
	kind   error
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.kind
}

func reject(kind error, detail string) *Rejection {
	reason := kind.Error()
	if detail != "" {
		reason = reason + ": " + detail
	}
	return &Rejection{Reason: reason, kind: kind}
}

// Filter decides whether caller-supplied SQL may run and rewrites it into its
// final, row-bounded form.
type Filter struct {
	prefixes []string
}

// NewFilter creates a Filter accepting statements that start with one of
// prefixes (case-insensitive). A nil or empty list means DefaultPrefixes.
func NewFilter(prefixes []string) *Filter {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	lowered := make([]string, len(prefixes))
	for i, p := range prefixes {
		lowered[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &Filter{prefixes: lowered}
}

var defaultFilter = NewFilter(nil)

// Admit runs rawText through the default filter.
func Admit(rawText string, rowLimit int) (string, error) {
	return defaultFilter.Admit(rawText, rowLimit)
}

// Prefixes returns the accepted statement prefixes.
func (f *Filter) Prefixes() []string {
	out := make([]string, len(f.prefixes))
	copy(out, f.prefixes)
	return out
}

// Admit returns the statement text to execute, or a *Rejection.
//
// One trailing terminator is dropped. Any other terminator outside a quoted
// literal rejects the statement. Empty text has no allowed prefix, so it is
// rejected as not a read statement. When neither "limit" nor "top" appears
// anywhere in the text, the statement is wrapped as
// SELECT TOP <rowLimit> * FROM (<text>) AS limited_result.
func (f *Filter) Admit(rawText string, rowLimit int) (string, error) {
	text := strings.TrimSpace(rawText)
	if strings.HasSuffix(text, string(Terminator)) {
		text = strings.TrimSpace(text[:len(text)-1])
	}
	if HasUnquotedTerminator(text) {
		return "", reject(ErrMultipleStatements, "")
	}

	lower := strings.ToLower(text)
	if !f.hasAllowedPrefix(lower) {
		return "", reject(ErrNotReadStatement, fmt.Sprintf("statement must start with %s", strings.Join(f.prefixes, ", ")))
	}

	if !strings.Contains(lower, "limit") && !strings.Contains(lower, "top") {
		return Wrap(text, rowLimit), nil
	}
	return text, nil
}

func (f *Filter) hasAllowedPrefix(lower string) bool {
	for _, p := range f.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Wrap bounds text as a sub-query returning at most rowLimit rows. It is a
// textual wrap: a trailing ORDER BY without TOP/OFFSET will not survive it.
func Wrap(text string, rowLimit int) string {
	return fmt.Sprintf("SELECT TOP %d * FROM (%s) AS limited_result", rowLimit, text)
}

// HasUnquotedTerminator reports whether text contains a terminator outside
// single- or double-quoted literals. Doubled quotes are not treated as
// escapes; they toggle twice, which keeps parity for the common '' case.
func HasUnquotedTerminator(text string) bool {
	inSingle := false
	inDouble := false
	for _, ch := range text {
		switch {
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case ch == Terminator && !inSingle && !inDouble:
			return true
		}
	}
	return false
}
