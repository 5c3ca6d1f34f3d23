// Package policy turns parent controls, local usage and remote blocks into a
// single blocking decision. Everything here is pure: same inputs, same output.
package policy

import (
	"math"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Messages shown by the blocker when the parent did not supply one.
const (
	MessageBlocked    = "Blocked by Parent"
	MessageDailyLimit = "Daily Limit Reached"
)

// Inputs bundles the three sources the decision depends on.
type Inputs struct {
	Controls     domain.ControlsState
	Usage        *domain.UsageSnapshot
	RemoteBlocks []domain.RemoteBlock
}

// EmptyDecision returns the canonical "block nothing" decision.
func EmptyDecision() domain.EnforcementDecision {
	return domain.EnforcementDecision{
		Apps: map[string]domain.AppDecision{},
		Global: domain.GlobalDecision{
			Active:  false,
			Reason:  domain.ReasonDailyLimit,
			Message: MessageDailyLimit,
		},
	}
}

// Evaluate computes the blocking decision.
//
// Remote blocks are applied first and always win over the local rule for the
// same package: a parent's direct action overrides daily-limit bookkeeping.
func Evaluate(in Inputs) domain.EnforcementDecision {
	decision := EmptyDecision()
	usage := usageByPackage(in.Usage)
	grace := in.Controls.Meta.GraceMillis
	if grace < 0 {
		grace = 0
	}

	for _, block := range in.RemoteBlocks {
		if block.PackageName == "" {
			continue
		}
		decision.Apps[block.PackageName] = RemoteDecision(block)
	}

	for pkg, rule := range in.Controls.Apps {
		if pkg == "" {
			continue
		}
		if _, ok := decision.Apps[pkg]; ok {
			continue
		}
		overLimit := rule.DailyLimitMillis != nil &&
			*rule.DailyLimitMillis >= 0 &&
			reached(usage[pkg], *rule.DailyLimitMillis, grace)
		if !rule.Blocked && !overLimit {
			continue
		}
		if rule.Blocked {
			decision.Apps[pkg] = domain.AppDecision{Active: true, Reason: domain.ReasonBlocked, Message: MessageBlocked}
		} else {
			decision.Apps[pkg] = domain.AppDecision{Active: true, Reason: domain.ReasonDailyLimit, Message: MessageDailyLimit}
		}
	}

	if limit := in.Controls.Meta.GlobalDailyLimitMillis; limit != nil && *limit >= 0 {
		var total int64
		if in.Usage != nil {
			total = in.Usage.TotalDurationMs
		}
		decision.Global.Active = reached(total, *limit, grace)
	}

	return decision
}

// reached reports used >= limit+grace. A threshold past the int64 range is
// never reached.
func reached(used, limit, grace int64) bool {
	if limit > math.MaxInt64-grace {
		return false
	}
	return used >= limit+grace
}

// RemoteDecision is the app decision a remote block produces.
func RemoteDecision(block domain.RemoteBlock) domain.AppDecision {
	reason := block.Reason
	if !reason.Valid() {
		reason = domain.ReasonRemoteBlock
	}
	message := block.Message
	if message == "" {
		message = MessageBlocked
	}
	return domain.AppDecision{Active: true, Reason: reason, Message: message}
}

func usageByPackage(snapshot *domain.UsageSnapshot) map[string]int64 {
	out := make(map[string]int64)
	if snapshot == nil {
		return out
	}
	for _, t := range snapshot.Totals {
		if t.PackageName == "" {
			continue
		}
		out[t.PackageName] = t.DurationMs
	}
	return out
}
