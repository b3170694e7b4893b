package executor

import (
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/apperr"
	"github.com/querypilot/querypilot/internal/sqltext"
)

// Violation is a statement refused before any warehouse call. Reason is a
// short label for metrics; Message is shown to the caller.
type Violation struct {
	Reason  string
	Message string
}

func (v *Violation) Error() string { return v.Message }

// Err returns the violation as an execution safety error.
func (v *Violation) Err() error {
	return apperr.New(apperr.ExecutionSafety, v.Message)
}

// Check applies the read-only preconditions in order: non-empty, no
// denylisted keyword, allowed first verb, a single statement, terminated by ;.
func (p Policy) Check(sql string) *Violation {
	if strings.TrimSpace(sql) == "" {
		return violation("empty", "SQL is empty")
	}
	deny := make(map[string]struct{}, len(RequiredDenylist)+len(p.Denylist))
	for _, kw := range RequiredDenylist {
		deny[kw] = struct{}{}
	}
	for _, kw := range p.Denylist {
		deny[strings.ToUpper(kw)] = struct{}{}
	}
	for _, word := range sqltext.Words(sql) {
		if _, ok := deny[word]; ok {
			return violation("denylist", "blocked keyword: "+word)
		}
	}
	verb := sqltext.FirstKeyword(sql)
	allowed := false
	for _, v := range p.AllowedVerbs {
		if v == verb {
			allowed = true
			break
		}
	}
	if !allowed {
		if verb == "" {
			verb = "(none)"
		}
		return violation("verb", fmt.Sprintf("statement must start with one of %s, got %s", strings.Join(p.AllowedVerbs, ", "), verb))
	}
	if sqltext.HasInnerSeparator(sql) {
		return violation("multi_statement", "multiple statements are not allowed")
	}
	if !sqltext.Terminated(sql) {
		return violation("terminator", "SQL must end with ;")
	}
	return nil
}

func violation(reason, message string) *Violation {
	return &Violation{Reason: reason, Message: message}
}
