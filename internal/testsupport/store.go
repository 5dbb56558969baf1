package testsupport

import (
	"context"
	"testing"
	"time"

	"podindex/internal/config"
	"podindex/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, nil)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedPodcast creates a subscription for tests.
func SeedPodcast(t testing.TB, store *queue.Store, title string) *queue.Podcast {
	t.Helper()

	podcast, err := store.UpsertPodcast(context.Background(), queue.PodcastInput{
		FeedURL: "https://example.com/" + title + ".xml",
		Title:   title,
	})
	if err != nil {
		t.Fatalf("store.UpsertPodcast: %v", err)
	}
	return podcast
}

// SeedEpisode creates an episode for podcast with the given guid and publish time.
func SeedEpisode(t testing.TB, store *queue.Store, podcast *queue.Podcast, guid string, published time.Time) *queue.Episode {
	t.Helper()

	ep, _, err := store.AddEpisode(context.Background(), queue.EpisodeInput{
		PodcastID:     podcast.ID,
		GUID:          guid,
		Title:         "Episode " + guid,
		EnclosureURL:  "https://example.com/audio/" + guid + ".mp3",
		EnclosureType: "audio/mpeg",
		PublishedDate: &published,
	})
	if err != nil {
		t.Fatalf("store.AddEpisode: %v", err)
	}
	return ep
}

// Advance claims and completes stage for the episode with result, failing the
// test on any error.
func Advance(t testing.TB, store *queue.Store, episodeID int64, result queue.Result) {
	t.Helper()

	ctx := context.Background()
	lease, ok, err := store.Claim(ctx, episodeID, result.Stage(), time.Minute)
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	if !ok {
		t.Fatalf("store.Claim(%d, %s) not eligible", episodeID, result.Stage())
	}
	if err := store.Complete(ctx, lease, result); err != nil {
		t.Fatalf("store.Complete: %v", err)
	}
}
