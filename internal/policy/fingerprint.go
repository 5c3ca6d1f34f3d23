package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// Fingerprint returns a stable hash of the decision.
// encoding/json sorts map keys, so package order never changes the result.
func Fingerprint(d domain.EnforcementDecision) string {
	if d.Apps == nil {
		d.Apps = map[string]domain.AppDecision{}
	}
	// Only strings and bools: Marshal cannot fail.
	raw, _ := json.Marshal(d)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// StatusVersion fingerprints the mutable fields of a remote status record.
// Telemetry fields are left out so writing a confirmation never changes the version.
func StatusVersion(isBlocked bool, reason, message, updatedAt string) string {
	raw, _ := json.Marshal([]any{isBlocked, reason, message, updatedAt})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
