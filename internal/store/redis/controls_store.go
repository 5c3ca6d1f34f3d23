package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// ControlsStore implements domain.ControlsStore.
type ControlsStore struct {
	store *Store
}

// SubscribeToControls emits the current controls, then the full state after every change.
func (c *ControlsStore) SubscribeToControls(ctx context.Context, familyID, childID string, onUpdate func(domain.ControlsState)) (domain.Unsubscribe, error) {
	if familyID == "" || childID == "" {
		return nil, domain.ErrInvalidContext
	}
	return c.store.watch(ctx, controlsChannel(familyID, childID), func(ctx context.Context) error {
		state, err := c.GetControlsOnce(ctx, familyID, childID)
		if err != nil {
			return fmt.Errorf("failed to load app controls: %w", err)
		}
		onUpdate(state)
		return nil
	})
}

// GetControlsOnce reads the current controls. An empty collection yields the default state.
func (c *ControlsStore) GetControlsOnce(ctx context.Context, familyID, childID string) (domain.ControlsState, error) {
	docs, err := c.store.loadCollection(ctx, controlsIndexKey(familyID, childID), func(id string) string {
		return controlsDocKey(familyID, childID, id)
	})
	if err != nil {
		return domain.ControlsState{}, err
	}
	return parseControls(docs), nil
}

// SetMeta writes the child-wide settings.
func (c *ControlsStore) SetMeta(ctx context.Context, familyID, childID string, meta domain.ControlsMeta) error {
	return c.write(ctx, familyID, childID, func(pipe redis.Pipeliner) {
		writeDoc(ctx, pipe, familyID, childID, MetaDocID, metaFields(meta))
	})
}

// SetAppRule writes the rule for one package.
func (c *ControlsStore) SetAppRule(ctx context.Context, familyID, childID, packageName string, rule domain.AppRule) error {
	packageName = strings.TrimSpace(packageName)
	if packageName == "" || packageName == MetaDocID {
		return fmt.Errorf("invalid package name %q", packageName)
	}
	return c.write(ctx, familyID, childID, func(pipe redis.Pipeliner) {
		writeDoc(ctx, pipe, familyID, childID, packageName, appRuleFields(rule))
	})
}

// DeleteAppRule removes the rule for one package.
func (c *ControlsStore) DeleteAppRule(ctx context.Context, familyID, childID, packageName string) error {
	return c.write(ctx, familyID, childID, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, controlsDocKey(familyID, childID, packageName))
		pipe.SRem(ctx, controlsIndexKey(familyID, childID), packageName)
	})
}

// ReplaceControls swaps the whole collection for state in one transaction.
func (c *ControlsStore) ReplaceControls(ctx context.Context, familyID, childID string, state domain.ControlsState) error {
	indexKey := controlsIndexKey(familyID, childID)
	existing, err := c.store.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}

	return c.write(ctx, familyID, childID, func(pipe redis.Pipeliner) {
		for _, id := range existing {
			pipe.Del(ctx, controlsDocKey(familyID, childID, id))
		}
		pipe.Del(ctx, indexKey)
		writeDoc(ctx, pipe, familyID, childID, MetaDocID, metaFields(state.Meta))
		for pkg, rule := range state.Apps {
			if pkg == "" || pkg == MetaDocID {
				continue
			}
			writeDoc(ctx, pipe, familyID, childID, pkg, appRuleFields(rule))
		}
	})
}

// write runs fn in a transaction and publishes a change notification.
func (c *ControlsStore) write(ctx context.Context, familyID, childID string, fn func(redis.Pipeliner)) error {
	if familyID == "" || childID == "" {
		return domain.ErrInvalidContext
	}
	_, err := c.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(pipe)
		pipe.Publish(ctx, controlsChannel(familyID, childID), "changed")
		return nil
	})
	return err
}

func writeDoc(ctx context.Context, pipe redis.Pipeliner, familyID, childID, docID string, fields map[string]interface{}) {
	key := controlsDocKey(familyID, childID, docID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, controlsIndexKey(familyID, childID), docID)
}

var _ domain.ControlsStore = (*ControlsStore)(nil)
