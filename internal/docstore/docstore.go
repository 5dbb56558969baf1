// Package docstore defines the remote semantic search store the indexing
// stage uploads transcripts to, independent of any particular provider.
package docstore

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNotFound is returned when a document or store does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one remote document as reported by a listing.
type Document struct {
	ResourceName string
	DisplayName  string
	Metadata     map[string]string
}

// Page is one page of a document listing.
type Page struct {
	Documents     []Document
	NextPageToken string
}

// Upload describes content to index.
type Upload struct {
	DisplayName string
	MIMEType    string
	Content     []byte
	Metadata    map[string]string
}

// Store is the remote document store. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateOrGetStore resolves the named store, creating it when missing,
	// and returns its identifier.
	CreateOrGetStore(ctx context.Context, name string) (string, error)
	// ListDocuments returns one page; an empty pageToken starts the listing.
	ListDocuments(ctx context.Context, storeID, pageToken string) (Page, error)
	// Upload indexes content and blocks until the remote operation completes,
	// returning the resource name.
	Upload(ctx context.Context, storeID string, upload Upload) (string, error)
	// Delete removes a document by resource name.
	Delete(ctx context.Context, resourceName string) error
}

// MaxMetadataValueBytes is the remote per-field limit on metadata values.
const MaxMetadataValueBytes = 256

// Metadata keys, in the order they are sent.
const (
	MetaType        = "type"
	MetaPodcast     = "podcast"
	MetaEpisode     = "episode"
	MetaReleaseDate = "release_date"
	MetaHosts       = "hosts"
	MetaGuests      = "guests"
	MetaKeywords    = "keywords"
	MetaSummary     = "summary"
)

// MetadataKeys lists every metadata key in wire order.
var MetadataKeys = []string{MetaType, MetaPodcast, MetaEpisode, MetaReleaseDate, MetaHosts, MetaGuests, MetaKeywords, MetaSummary}

// TruncateValue shortens value to MaxMetadataValueBytes of UTF-8, ending in
// "..." when cut. It never splits a rune.
func TruncateValue(value string) string {
	if len(value) <= MaxMetadataValueBytes {
		return value
	}
	const ellipsis = "..."
	cut := MaxMetadataValueBytes - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + ellipsis
}

// NormalizeMetadata trims and truncates values and drops empty ones. The
// input map is not modified.
func NormalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = TruncateValue(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// JoinList renders a list value the way the remote store expects it.
func JoinList(values []string) string {
	return strings.Join(values, ", ")
}
