package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
)

// RemoteStatus is one remote status record, telemetry fields included.
type RemoteStatus struct {
	PackageName       string             `json:"packageName"`
	IsBlocked         bool               `json:"isBlocked"`
	Message           string             `json:"message"`
	Reason            domain.BlockReason `json:"reason"`
	UpdatedAt         string             `json:"updatedAt"`
	Enforced          bool               `json:"enforced"`
	EnforcedAt        time.Time          `json:"enforcedAt"`
	EnforcementMethod string             `json:"enforcementMethod"`
	EnforcedBy        string             `json:"enforcedBy"`
}

// StatusVersion is the version a confirmation for this record refers to.
func (r RemoteStatus) StatusVersion() string {
	return policy.StatusVersion(r.IsBlocked, string(r.Reason), r.Message, r.UpdatedAt)
}

// RemoteStatusStore implements domain.RemoteStatusStore.
type RemoteStatusStore struct {
	store *Store
	now   func() time.Time
}

// SubscribeToRemoteStatus emits the active remote blocks, then the full set after every change.
func (r *RemoteStatusStore) SubscribeToRemoteStatus(ctx context.Context, childID string, onUpdate func([]domain.RemoteBlock)) (domain.Unsubscribe, error) {
	if childID == "" {
		return nil, domain.ErrInvalidContext
	}
	return r.store.watch(ctx, remoteStatusChannel(childID), func(ctx context.Context) error {
		docs, err := r.load(ctx, childID)
		if err != nil {
			return fmt.Errorf("failed to load remote status: %w", err)
		}
		onUpdate(activeBlocks(docs))
		return nil
	})
}

// ConfirmEnforcement writes the telemetry fields of an existing record.
// It returns domain.ErrNotFound when the record was removed meanwhile.
func (r *RemoteStatusStore) ConfirmEnforcement(ctx context.Context, childID, packageName string, c domain.EnforcementConfirmation) error {
	script := redis.NewScript(confirmEnforcementScript)

	method := c.Method
	if method == "" {
		method = domain.MethodUnknown
	}
	keys := []string{remoteStatusDocKey(childID, packageName), remoteStatusChannel(childID)}
	args := []interface{}{
		strconv.FormatBool(c.Enforced),
		c.EnforcedAt.UTC().Format(time.RFC3339Nano),
		method,
		c.ChildID,
		packageName,
	}

	written, err := script.Run(ctx, r.store.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetRemoteStatus writes the parent-controlled fields of a record and drops
// any earlier enforcement telemetry, which belonged to the previous version.
func (r *RemoteStatusStore) SetRemoteStatus(ctx context.Context, childID, packageName string, isBlocked bool, reason domain.BlockReason, message string) (*RemoteStatus, error) {
	packageName = strings.TrimSpace(packageName)
	if childID == "" {
		return nil, domain.ErrInvalidContext
	}
	if packageName == "" {
		return nil, fmt.Errorf("package name is required")
	}

	status := &RemoteStatus{
		PackageName: packageName,
		IsBlocked:   isBlocked,
		Message:     message,
		Reason:      reason,
		UpdatedAt:   r.now().UTC().Format(time.RFC3339Nano),
	}
	key := remoteStatusDocKey(childID, packageName)

	_, err := r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, "enforced", "enforcedAt", "enforcementMethod", "enforcedBy")
		pipe.HSet(ctx, key, map[string]interface{}{
			"isBlocked": strconv.FormatBool(isBlocked),
			"message":   message,
			"reason":    string(reason),
			"updatedAt": status.UpdatedAt,
		})
		pipe.SAdd(ctx, remoteStatusIndexKey(childID), packageName)
		pipe.Publish(ctx, remoteStatusChannel(childID), packageName)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// DeleteRemoteStatus removes a record entirely.
func (r *RemoteStatusStore) DeleteRemoteStatus(ctx context.Context, childID, packageName string) error {
	_, err := r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, remoteStatusDocKey(childID, packageName))
		pipe.SRem(ctx, remoteStatusIndexKey(childID), packageName)
		pipe.Publish(ctx, remoteStatusChannel(childID), packageName)
		return nil
	})
	return err
}

// GetRemoteStatus reads one record.
func (r *RemoteStatusStore) GetRemoteStatus(ctx context.Context, childID, packageName string) (*RemoteStatus, error) {
	data, err := r.store.client.HGetAll(ctx, remoteStatusDocKey(childID, packageName)).Result()
	if err != nil {
		return nil, err
	}
	return parseRemoteStatus(packageName, data)
}

// ListRemoteStatus returns every record for a child, sorted by package.
func (r *RemoteStatusStore) ListRemoteStatus(ctx context.Context, childID string) ([]RemoteStatus, error) {
	docs, err := r.load(ctx, childID)
	if err != nil {
		return nil, err
	}

	records := make([]RemoteStatus, 0, len(docs))
	for pkg, data := range docs {
		status, err := parseRemoteStatus(pkg, data)
		if err != nil {
			continue
		}
		records = append(records, *status)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PackageName < records[j].PackageName
	})
	return records, nil
}

func (r *RemoteStatusStore) load(ctx context.Context, childID string) (map[string]map[string]string, error) {
	return r.store.loadCollection(ctx, remoteStatusIndexKey(childID), func(pkg string) string {
		return remoteStatusDocKey(childID, pkg)
	})
}

var _ domain.RemoteStatusStore = (*RemoteStatusStore)(nil)
