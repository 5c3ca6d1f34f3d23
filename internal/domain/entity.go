// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrInvalidContext is returned when an enforcement context lacks a child or family id.
	ErrInvalidContext = errors.New("enforcement context requires childId and familyId")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrNotLinked is returned when no child context has been persisted on this device.
	ErrNotLinked = errors.New("device is not linked to a child")
)

// BlockReason tags why a package (or the whole device) is blocked.
type BlockReason string

const (
	ReasonRemoteBlock BlockReason = "remoteBlock"
	ReasonBlocked     BlockReason = "blocked"
	ReasonDailyLimit  BlockReason = "dailyLimit"
)

// Valid reports whether r is one of the known reasons.
func (r BlockReason) Valid() bool {
	switch r {
	case ReasonRemoteBlock, ReasonBlocked, ReasonDailyLimit:
		return true
	}
	return false
}

// MethodUnknown is recorded when the blocker does not report how it enforced a decision.
const MethodUnknown = "unknown"

// ControlsMeta holds the child-wide limits. Nil pointers mean "not set".
type ControlsMeta struct {
	GlobalDailyLimitMillis *int64  `json:"globalDailyLimitMillis"`
	GraceMillis            int64   `json:"graceMillis"`
	Timezone               *string `json:"timezone"`
}

// AppRule is the per-package control set by the parent.
type AppRule struct {
	Blocked          bool   `json:"blocked"`
	DailyLimitMillis *int64 `json:"dailyLimitMillis"`
}

// ControlsState is the full rule set for one (family, child) pairing.
// It is always replaced wholesale on update.
type ControlsState struct {
	Meta ControlsMeta       `json:"meta"`
	Apps map[string]AppRule `json:"apps"`
}

// DefaultControlsState returns the state used before any controls arrive.
func DefaultControlsState() ControlsState {
	return ControlsState{Apps: map[string]AppRule{}}
}

// UsageTotal is the foreground time of one package for the current local day.
type UsageTotal struct {
	PackageName string `json:"packageName"`
	DurationMs  int64  `json:"durationMs"`
}

// UsageSnapshot is produced by the usage aggregator.
// TotalDurationMs >= every individual DurationMs.
type UsageSnapshot struct {
	Totals          []UsageTotal `json:"totals"`
	TotalDurationMs int64        `json:"totalDurationMs"`
	Date            string       `json:"date,omitempty"`
	Timezone        string       `json:"timezone,omitempty"`
}

// RemoteBlock is an active force-block issued from the parent side.
type RemoteBlock struct {
	PackageName   string      `json:"packageName"`
	Message       string      `json:"message"`
	Reason        BlockReason `json:"reason"`
	StatusVersion string      `json:"statusVersion"`
}

// AppDecision is the blocker instruction for one package.
type AppDecision struct {
	Active  bool        `json:"active"`
	Reason  BlockReason `json:"reason"`
	Message string      `json:"message"`
}

// GlobalDecision is the device-wide daily limit instruction.
type GlobalDecision struct {
	Active  bool        `json:"active"`
	Reason  BlockReason `json:"reason"`
	Message string      `json:"message"`
}

// EnforcementDecision is the payload pushed to the platform blocker.
// Apps only holds active entries; an empty map with an inactive global blocks nothing.
type EnforcementDecision struct {
	Apps   map[string]AppDecision `json:"apps"`
	Global GlobalDecision         `json:"global"`
}

// IsEmpty reports whether the decision blocks nothing.
func (d EnforcementDecision) IsEmpty() bool {
	return len(d.Apps) == 0 && !d.Global.Active
}

// ActivePackages returns the number of blocked packages.
func (d EnforcementDecision) ActivePackages() int {
	return len(d.Apps)
}

// EnforcementContext identifies which pairing is being enforced.
type EnforcementContext struct {
	ChildID  string `json:"childId"`
	FamilyID string `json:"familyId"`
	ParentID string `json:"parentId,omitempty"`
}

// EnforcementConfirmation is written back to a remote status record after a block was applied.
type EnforcementConfirmation struct {
	Enforced   bool
	EnforcedAt time.Time
	Method     string
	ChildID    string
}

// PermissionStatus reports what the platform blocker is allowed to do.
type PermissionStatus struct {
	Accessibility       bool `json:"accessibility"`
	Overlay             bool `json:"overlay"`
	BatteryOptimization bool `json:"batteryOptimization"`
}

// LinkedDevice is the locally persisted pairing of this device with a child.
type LinkedDevice struct {
	DeviceID string
	Context  EnforcementContext
	LinkedAt time.Time
}

// AgentState is the last known liveness record of the running agent.
type AgentState struct {
	PID           int
	SessionID     string
	APIAddress    string
	LastHeartbeat time.Time
	AppVersion    string
}

// SessionStatus is a point-in-time view of an enforcement session.
type SessionStatus struct {
	Started           bool                 `json:"started"`
	SessionID         string               `json:"sessionId,omitempty"`
	Context           EnforcementContext   `json:"context"`
	Fingerprint       string               `json:"fingerprint,omitempty"`
	LastDecision      *EnforcementDecision `json:"lastDecision,omitempty"`
	LastAppliedAt     time.Time            `json:"lastAppliedAt,omitempty"`
	EnforcementMethod string               `json:"enforcementMethod"`
	RemoteBlocks      int                  `json:"remoteBlocks"`
	Confirmed         int                  `json:"confirmed"`
}
