package redis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
)

// toNumberOrNull parses a numeric field. Missing, blank, unparseable and
// non-finite values are all null; values outside int64 saturate.
func toNumberOrNull(data map[string]string, field string) *int64 {
	raw, ok := data[field]
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= catches every overflow.
	var n int64
	switch {
	case f >= math.MaxInt64:
		n = math.MaxInt64
	case f <= math.MinInt64:
		n = math.MinInt64
	default:
		n = int64(f)
	}
	return &n
}

// truthy coerces a stored flag the way a loosely typed document would.
func truthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "null", "undefined", "nan":
		return false
	}
	return true
}

func formatNumber(n *int64) string {
	if n == nil {
		return "null"
	}
	return strconv.FormatInt(*n, 10)
}

// parseMeta converts the meta document. A null grace is 0.
func parseMeta(data map[string]string) domain.ControlsMeta {
	meta := domain.ControlsMeta{
		GlobalDailyLimitMillis: toNumberOrNull(data, "globalDailyLimitMillis"),
	}
	if grace := toNumberOrNull(data, "graceMillis"); grace != nil {
		meta.GraceMillis = *grace
	}
	if tz := strings.TrimSpace(data["timezone"]); tz != "" && tz != "null" {
		meta.Timezone = &tz
	}
	return meta
}

func parseAppRule(data map[string]string) domain.AppRule {
	return domain.AppRule{
		Blocked:          truthy(data["blocked"]),
		DailyLimitMillis: toNumberOrNull(data, "dailyLimitMillis"),
	}
}

// parseControls builds the full state from the collection's documents.
func parseControls(docs map[string]map[string]string) domain.ControlsState {
	state := domain.DefaultControlsState()
	for id, data := range docs {
		if id == MetaDocID {
			state.Meta = parseMeta(data)
			continue
		}
		state.Apps[id] = parseAppRule(data)
	}
	return state
}

func metaFields(meta domain.ControlsMeta) map[string]interface{} {
	tz := "null"
	if meta.Timezone != nil && *meta.Timezone != "" {
		tz = *meta.Timezone
	}
	return map[string]interface{}{
		"globalDailyLimitMillis": formatNumber(meta.GlobalDailyLimitMillis),
		"graceMillis":            strconv.FormatInt(meta.GraceMillis, 10),
		"timezone":               tz,
	}
}

func appRuleFields(rule domain.AppRule) map[string]interface{} {
	return map[string]interface{}{
		"blocked":          strconv.FormatBool(rule.Blocked),
		"dailyLimitMillis": formatNumber(rule.DailyLimitMillis),
	}
}

// parseRemoteStatus converts a remote status hash.
func parseRemoteStatus(packageName string, data map[string]string) (*RemoteStatus, error) {
	if len(data) == 0 {
		return nil, domain.ErrNotFound
	}

	status := &RemoteStatus{
		PackageName:       packageName,
		IsBlocked:         truthy(data["isBlocked"]),
		Message:           data["message"],
		Reason:            domain.BlockReason(data["reason"]),
		UpdatedAt:         data["updatedAt"],
		Enforced:          truthy(data["enforced"]),
		EnforcementMethod: data["enforcementMethod"],
		EnforcedBy:        data["enforcedBy"],
	}
	if raw := data["enforcedAt"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse enforcedAt: %w", err)
		}
		status.EnforcedAt = at
	}
	return status, nil
}

// activeBlocks filters blocked records and stamps their status version.
func activeBlocks(docs map[string]map[string]string) []domain.RemoteBlock {
	blocks := make([]domain.RemoteBlock, 0, len(docs))
	for pkg, data := range docs {
		if !truthy(data["isBlocked"]) {
			continue
		}
		blocks = append(blocks, domain.RemoteBlock{
			PackageName:   pkg,
			Message:       data["message"],
			Reason:        domain.BlockReason(data["reason"]),
			StatusVersion: policy.StatusVersion(true, data["reason"], data["message"], data["updatedAt"]),
		})
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].PackageName < blocks[j].PackageName
	})
	return blocks
}
