// Package reconcile rebuilds the resource cache from the remote document
// store. A rebuild is wholesale: the store offers no change feed, so every
// document is listed and the entry map is re-derived from scratch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podindex/internal/docstore"
	"podindex/internal/logging"
	"podindex/internal/resourcecache"
)

const progressInterval = 500

// Result summarizes one reconcile call.
type Result struct {
	StoreID    string
	Skipped    bool
	Documents  int
	Entries    int
	Duplicates int
	Duration   time.Duration
}

// Reconciler keeps a resourcecache.Cache in step with a docstore.Store.
type Reconciler struct {
	store     docstore.Store
	cache     *resourcecache.Cache
	storeName string
	logger    *slog.Logger
}

// New constructs a Reconciler for the named remote store.
func New(store docstore.Store, cache *resourcecache.Cache, storeName string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		cache:     cache,
		storeName: storeName,
		logger:    logging.NewComponentLogger(logger, "reconcile"),
	}
}

// Cache returns the cache being reconciled.
func (r *Reconciler) Cache() *resourcecache.Cache {
	return r.cache
}

// Reconcile returns immediately when the cache is fresh and force is false.
// Otherwise it lists the whole remote store, replaces the cache entries and
// persists the snapshot. On a listing error the cache is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, force bool) (Result, error) {
	if r.store == nil || r.cache == nil {
		return Result{}, errors.New("reconciler requires a document store and cache")
	}
	if !force && !r.cache.IsStale() {
		return Result{StoreID: r.cache.StoreIdentifier(), Skipped: true, Entries: r.cache.Len()}, nil
	}

	start := time.Now()
	storeID, err := r.store.CreateOrGetStore(ctx, r.storeName)
	if err != nil {
		return Result{}, fmt.Errorf("resolve document store %q: %w", r.storeName, err)
	}
	r.logger.Info("rebuilding resource cache",
		logging.String("store", storeID),
		logging.Int("cached_entries", r.cache.Len()),
		logging.Bool("forced", force))

	result := Result{StoreID: storeID}
	entries := make(map[string]resourcecache.Entry)
	sampler := logging.NewProgressSampler(progressInterval)
	err = r.walk(ctx, storeID, func(doc docstore.Document) {
		result.Documents++
		key := resourcecache.SanitizeKey(doc.DisplayName)
		if key == "" || doc.ResourceName == "" {
			return
		}
		if _, exists := entries[key]; exists {
			result.Duplicates++
			return
		}
		entries[key] = resourcecache.Entry{
			ResourceHandle: doc.ResourceName,
			Metadata:       docstore.NormalizeMetadata(doc.Metadata),
		}
		if sampler.ShouldLog(result.Documents, "listing") {
			r.logger.Info("resource cache rebuild progress",
				logging.Int("documents", result.Documents),
				logging.Int("entries", len(entries)))
		}
	})
	if err != nil {
		return result, fmt.Errorf("list documents: %w", err)
	}

	r.cache.Replace(storeID, entries)
	if err := r.cache.Persist(); err != nil {
		return result, fmt.Errorf("persist resource cache: %w", err)
	}
	result.Entries = len(entries)
	result.Duration = time.Since(start)
	r.logger.Info("resource cache rebuilt",
		logging.String("store", storeID),
		logging.Int("documents", result.Documents),
		logging.Int("entries", result.Entries),
		logging.Int("duplicates", result.Duplicates),
		logging.Duration("duration", result.Duration))
	return result, nil
}

func (r *Reconciler) walk(ctx context.Context, storeID string, fn func(docstore.Document)) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.store.ListDocuments(ctx, storeID, token)
		if err != nil {
			return err
		}
		for _, doc := range page.Documents {
			fn(doc)
		}
		if page.NextPageToken == "" || page.NextPageToken == token {
			return nil
		}
		token = page.NextPageToken
	}
}
