package indexing_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podindex/internal/docstore"
	"podindex/internal/indexing"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/resourcecache"
	"podindex/internal/services"
	"podindex/internal/testsupport"
)

func newCache(t *testing.T) *resourcecache.Cache {
	t.Helper()
	return resourcecache.New(resourcecache.Options{Path: filepath.Join(t.TempDir(), "cache.json")})
}

func sampleEpisode() *queue.Episode {
	published := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	return &queue.Episode{
		ID:             3,
		PodcastTitle:   "The Show",
		Title:          "Ep 1",
		PublishedDate:  &published,
		TranscriptText: "words words",
		TranscriptPath: "/data/transcripts/The_Show/Ep_1_transcription.txt",
		Summary:        "About things.",
		Keywords:       []string{"a", "b"},
		Hosts:          []string{"Ann"},
	}
}

func TestExecuteSkipsUploadOnCacheHit(t *testing.T) {
	store := testsupport.NewFakeDocStore()
	cache := newCache(t)
	if err := cache.Put("Ep_1_transcription.txt", resourcecache.Entry{ResourceHandle: "fileSearchStores/x/documents/cached"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	handler := indexing.NewHandler(store, cache, "podcasts", logging.NewNop())

	result, err := handler.Execute(context.Background(), sampleEpisode())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := result.(queue.IndexingResult)
	if got.ResourceName != "fileSearchStores/x/documents/cached" || got.DisplayName != "Ep_1_transcription.txt" {
		t.Fatalf("unexpected result %+v", got)
	}
	if store.UploadCalls != 0 {
		t.Fatalf("expected zero uploads, got %d", store.UploadCalls)
	}
}

func TestExecuteUploadsAndRecords(t *testing.T) {
	store := testsupport.NewFakeDocStore()
	cache := newCache(t)
	handler := indexing.NewHandler(store, cache, "podcasts", logging.NewNop())

	result, err := handler.Execute(context.Background(), sampleEpisode())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := result.(queue.IndexingResult)
	if store.UploadCalls != 1 {
		t.Fatalf("expected one upload, got %d", store.UploadCalls)
	}
	entry, ok := cache.Lookup("Ep_1_transcription.txt")
	if !ok || entry.ResourceHandle != got.ResourceName {
		t.Fatalf("cache not updated: %+v %v", entry, ok)
	}
	if entry.Metadata[docstore.MetaReleaseDate] != "2024-03-09" || entry.Metadata[docstore.MetaKeywords] != "a, b" {
		t.Fatalf("unexpected metadata %v", entry.Metadata)
	}
	if _, ok := entry.Metadata[docstore.MetaGuests]; ok {
		t.Fatalf("empty guests should be dropped: %v", entry.Metadata)
	}
	if cache.IsStale() {
		t.Fatal("persisted cache should be fresh")
	}

	reloaded := resourcecache.New(resourcecache.Options{Path: cache.Path()})
	if _, ok := reloaded.Lookup("Ep_1_transcription.txt"); !ok {
		t.Fatal("entry not persisted")
	}
}

func TestExecuteErrors(t *testing.T) {
	store := testsupport.NewFakeDocStore()
	store.UploadErr = errors.New("connection reset")
	handler := indexing.NewHandler(store, newCache(t), "podcasts", logging.NewNop())

	ep := sampleEpisode()
	if _, err := handler.Execute(context.Background(), ep); services.Classify(err) != services.FailureTransient {
		t.Fatalf("expected transient, got %v", err)
	}

	ep.TranscriptText, ep.TranscriptPath = "", ""
	if _, err := handler.Execute(context.Background(), ep); services.Classify(err) != services.FailurePermanent {
		t.Fatalf("expected permanent, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		episode queue.Episode
		want    string
	}{
		{"transcript path", queue.Episode{TranscriptPath: "/t/Show/Ep_transcription.txt", Title: "ignored"}, "Ep_transcription.txt"},
		{"title fallback", queue.Episode{ID: 4, Title: "What’s new? Part 2"}, "What_s new_ Part 2_id4_transcription.txt"},
		{"long title", queue.Episode{ID: 5, Title: strings.Repeat("x", 150)}, strings.Repeat("x", 100) + "_id5_transcription.txt"},
		{"empty", queue.Episode{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := indexing.DisplayName(&tt.episode); got != tt.want {
				t.Fatalf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisplayNameSeparatesSameTitleEpisodes(t *testing.T) {
	first := queue.Episode{ID: 1, GUID: "show-bonus-2023", Title: "Bonus Episode"}
	second := queue.Episode{ID: 2, GUID: "show-bonus-2024", Title: "Bonus Episode"}
	a, b := indexing.DisplayName(&first), indexing.DisplayName(&second)
	if a == b {
		t.Fatalf("same-title episodes share display name %q", a)
	}
	if !strings.HasPrefix(a, "Bonus Episode_") || !strings.HasSuffix(a, "_transcription.txt") {
		t.Fatalf("unexpected display name %q", a)
	}
	// The tag comes from the GUID, so a rebuilt database yields the same name.
	rebuilt := queue.Episode{ID: 99, GUID: "show-bonus-2023", Title: "Bonus Episode"}
	if got := indexing.DisplayName(&rebuilt); got != a {
		t.Fatalf("display name changed with row id: %q vs %q", got, a)
	}
}
