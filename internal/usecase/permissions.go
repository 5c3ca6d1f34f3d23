package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// PermissionChecker reports blocker permission grants.
// Every call goes to the blocker; failures read as "not granted".
type PermissionChecker struct {
	blocker domain.PlatformBlocker
	logger  *zap.Logger
}

// NewPermissionChecker creates a permission passthrough for blocker.
func NewPermissionChecker(blocker domain.PlatformBlocker, logger *zap.Logger) *PermissionChecker {
	return &PermissionChecker{blocker: blocker, logger: logger}
}

// Status returns all three grants.
func (p *PermissionChecker) Status(ctx context.Context) domain.PermissionStatus {
	if p.blocker == nil || !p.blocker.Available() {
		return domain.PermissionStatus{}
	}
	status, err := p.blocker.PermissionStatus(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch blocker permissions", zap.Error(err))
		return domain.PermissionStatus{}
	}
	return status
}

// IsAccessibilityEnabled reports whether the blocker can observe running apps.
func (p *PermissionChecker) IsAccessibilityEnabled(ctx context.Context) bool {
	return p.Status(ctx).Accessibility
}

// CanDrawOverlays reports whether the blocker can act on other users' apps.
func (p *PermissionChecker) CanDrawOverlays(ctx context.Context) bool {
	return p.Status(ctx).Overlay
}

// IsIgnoringBatteryOptimizations reports whether the agent is protected from being reaped.
func (p *PermissionChecker) IsIgnoringBatteryOptimizations(ctx context.Context) bool {
	return p.Status(ctx).BatteryOptimization
}
