package infra

import (
	"strings"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// wildcardPackage is never enforced.
const wildcardPackage = "*"

// RuleBook resolves a running package to the rule that blocks it.
type RuleBook struct {
	apps      map[string]domain.AppDecision
	global    domain.GlobalDecision
	tracked   map[string]bool
	protected map[string]bool
}

// NewRuleBook indexes a decision. Package names compare case-insensitively.
func NewRuleBook(decision domain.EnforcementDecision, tracked, protected []string) RuleBook {
	rb := RuleBook{
		apps:      make(map[string]domain.AppDecision, len(decision.Apps)),
		global:    decision.Global,
		tracked:   lowerSet(tracked),
		protected: lowerSet(protected),
	}
	for pkg, d := range decision.Apps {
		if !d.Active {
			continue
		}
		rb.apps[strings.ToLower(strings.TrimSpace(pkg))] = d
	}
	return rb
}

// Resolve returns the rule for pkg: its direct rule if any, else the global
// limit when pkg is a tracked package. Blank, wildcard and protected packages
// never resolve.
func (rb RuleBook) Resolve(pkg string) (domain.AppDecision, bool) {
	key := strings.ToLower(strings.TrimSpace(pkg))
	if key == "" || key == wildcardPackage || rb.protected[key] {
		return domain.AppDecision{}, false
	}
	if d, ok := rb.apps[key]; ok {
		return d, true
	}
	if rb.global.Active && rb.tracked[key] {
		return domain.AppDecision{Active: true, Reason: rb.global.Reason, Message: rb.global.Message}, true
	}
	return domain.AppDecision{}, false
}

// Empty reports whether nothing can resolve.
func (rb RuleBook) Empty() bool {
	return len(rb.apps) == 0 && !rb.global.Active
}

func lowerSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out[v] = true
		}
	}
	return out
}
