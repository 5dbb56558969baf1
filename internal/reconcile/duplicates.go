package reconcile

import (
	"context"
	"fmt"
	"sort"

	"podindex/internal/docstore"
	"podindex/internal/logging"
	"podindex/internal/resourcecache"
)

// DuplicateGroup lists remote documents sharing one sanitized display name.
// Keep is the document retained by Dedupe.
type DuplicateGroup struct {
	Key       string
	Keep      docstore.Document
	Redundant []docstore.Document
}

// FindDuplicates lists the remote store and groups documents whose display
// names sanitize to the same key. The cached handle, when present, is kept.
func (r *Reconciler) FindDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	storeID, err := r.store.CreateOrGetStore(ctx, r.storeName)
	if err != nil {
		return nil, fmt.Errorf("resolve document store %q: %w", r.storeName, err)
	}
	byKey := make(map[string][]docstore.Document)
	var order []string
	err = r.walk(ctx, storeID, func(doc docstore.Document) {
		key := resourcecache.SanitizeKey(doc.DisplayName)
		if key == "" {
			return
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], doc)
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var groups []DuplicateGroup
	for _, key := range order {
		docs := byKey[key]
		if len(docs) < 2 {
			continue
		}
		keep := 0
		if entry, ok := r.cache.Lookup(key); ok {
			for i, doc := range docs {
				if doc.ResourceName == entry.ResourceHandle {
					keep = i
					break
				}
			}
		}
		group := DuplicateGroup{Key: key, Keep: docs[keep]}
		for i, doc := range docs {
			if i != keep {
				group.Redundant = append(group.Redundant, doc)
			}
		}
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

// Dedupe deletes the redundant documents of every duplicate group and
// returns how many were removed. With dryRun nothing is deleted.
func (r *Reconciler) Dedupe(ctx context.Context, dryRun bool) (int, error) {
	groups, err := r.FindDuplicates(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, group := range groups {
		for _, doc := range group.Redundant {
			if dryRun {
				r.logger.Info("would delete duplicate document",
					logging.String(logging.FieldDisplayName, group.Key),
					logging.String("resource_name", doc.ResourceName))
				continue
			}
			if err := r.store.Delete(ctx, doc.ResourceName); err != nil {
				return removed, fmt.Errorf("delete %s: %w", doc.ResourceName, err)
			}
			removed++
			r.logger.Info("deleted duplicate document",
				logging.String(logging.FieldDisplayName, group.Key),
				logging.String("resource_name", doc.ResourceName),
				logging.String("kept", group.Keep.ResourceName))
		}
	}
	return removed, nil
}

// RemoveDocument deletes one remote document and drops it from the cache.
// The cache is persisted when it changed.
func (r *Reconciler) RemoveDocument(ctx context.Context, resourceName string) error {
	if err := r.store.Delete(ctx, resourceName); err != nil {
		return fmt.Errorf("delete %s: %w", resourceName, err)
	}
	if key, ok := r.cache.FindByHandle(resourceName); ok {
		r.cache.Remove(key)
		if err := r.cache.Persist(); err != nil {
			return fmt.Errorf("persist resource cache: %w", err)
		}
	}
	return nil
}
