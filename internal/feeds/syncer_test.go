package feeds_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"podindex/internal/feeds"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/testsupport"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Test Show</title>
  <description><![CDATA[<p>A <b>show</b> about tests.</p>]]></description>
  <itunes:image href="https://example.com/cover.jpg"/>
  <item>
    <title>Older</title>
    <guid>ep-1</guid>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    <itunes:duration>1:02:03</itunes:duration>
    <enclosure url="https://example.com/1.mp3" type="audio/mpeg" length="100"/>
  </item>
  <item>
    <title>Newer</title>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    <description><![CDATA[<p>Hello</p><p>world &amp; friends</p>]]></description>
    <enclosure url="https://example.com/2.mp3" type="audio/mpeg" length="100"/>
  </item>
  <item>
    <title>Blog post</title>
    <guid>post-1</guid>
    <pubDate>Wed, 03 Jan 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, sampleFeed)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSubscribeIngestsAudioItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := feedServer(t)
	syncer := feeds.NewSyncer(cfg, store, logging.NewNop(), feeds.WithHTTPClient(server.Client()))
	ctx := context.Background()

	podcast, result, err := syncer.Subscribe(ctx, server.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if podcast.Title != "Test Show" || podcast.ImageURL != "https://example.com/cover.jpg" {
		t.Fatalf("unexpected podcast %+v", podcast)
	}
	if podcast.Description != "A show about tests." {
		t.Fatalf("unexpected description %q", podcast.Description)
	}
	if result.Items != 3 || result.Added != 2 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	episodes, err := store.ListEpisodes(ctx, queue.EpisodeFilter{PodcastID: podcast.ID})
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(episodes))
	}
	byTitle := map[string]*queue.Episode{}
	for _, ep := range episodes {
		byTitle[ep.Title] = ep
	}
	if byTitle["Older"].DurationSeconds != 3723 || byTitle["Older"].GUID != "ep-1" {
		t.Fatalf("unexpected older episode %+v", byTitle["Older"])
	}
	if byTitle["Newer"].GUID != "https://example.com/2.mp3" {
		t.Fatalf("guid should fall back to enclosure URL, got %q", byTitle["Newer"].GUID)
	}
	if byTitle["Newer"].Description != "Hello world & friends" {
		t.Fatalf("unexpected description %q", byTitle["Newer"].Description)
	}

	again, err := syncer.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(again) != 1 || again[0].Added != 0 || again[0].Err != nil {
		t.Fatalf("second sync should add nothing: %+v", again)
	}
	refreshed, err := store.GetPodcast(ctx, podcast.ID)
	if err != nil || refreshed.LastChecked == nil {
		t.Fatalf("expected last_checked to be stamped: %+v %v", refreshed, err)
	}
}

func TestSyncAllContinuesPastBrokenFeed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := feedServer(t)
	ctx := context.Background()

	if _, err := store.UpsertPodcast(ctx, queue.PodcastInput{FeedURL: server.URL + "/missing.xml", Title: "Broken"}); err != nil {
		t.Fatalf("UpsertPodcast: %v", err)
	}
	if _, err := store.UpsertPodcast(ctx, queue.PodcastInput{FeedURL: server.URL + "/feed.xml", Title: "Test Show"}); err != nil {
		t.Fatalf("UpsertPodcast: %v", err)
	}

	syncer := feeds.NewSyncer(cfg, store, logging.NewNop(), feeds.WithHTTPClient(server.Client()))
	results, err := syncer.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	var failed, added int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		added += r.Added
	}
	if failed != 1 || added != 2 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestMaxEpisodesKeepsNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Feeds.MaxEpisodesPerFeed = 1
	store := testsupport.MustOpenStore(t, cfg)
	server := feedServer(t)
	syncer := feeds.NewSyncer(cfg, store, logging.NewNop(), feeds.WithHTTPClient(server.Client()))

	podcast, result, err := syncer.Subscribe(context.Background(), server.URL+"/feed.xml")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// The newest item is the blog post without audio.
	if result.Added != 0 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v for podcast %d", result, podcast.ID)
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]int{"": 0, "90": 90, "01:30": 90, "1:00:01": 3601, "abc": 0, "1:2:3:4": 0}
	for in, want := range tests {
		if got := feeds.ParseDuration(in); got != want {
			t.Fatalf("ParseDuration(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCleanHTML(t *testing.T) {
	tests := map[string]string{
		"plain   text":                "plain text",
		"<p>One</p><p>Two</p>":        "One Two",
		"a<br>b <script>x()</script>": "a b",
		"Tom &amp; Jerry":             "Tom & Jerry",
		"":                            "",
	}
	for in, want := range tests {
		if got := feeds.CleanHTML(in); got != want {
			t.Fatalf("CleanHTML(%q) = %q, want %q", in, got, want)
		}
	}
}
