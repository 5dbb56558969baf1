package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"podindex/internal/config"
	"podindex/internal/logging"
	"podindex/internal/queue"
)

// SyncResult summarizes one feed refresh.
type SyncResult struct {
	PodcastID int64
	Title     string
	Items     int
	Added     int
	Skipped   int
	Err       error
}

// Syncer refreshes subscriptions into the queue.
type Syncer struct {
	store       *queue.Store
	parser      *gofeed.Parser
	maxEpisodes int
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithHTTPClient overrides the client used to fetch feeds.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Syncer) {
		if client != nil {
			s.parser.Client = client
		}
	}
}

// NewSyncer builds a Syncer from configuration.
func NewSyncer(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) *Syncer {
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.Feeds.UserAgent
	parser.Client = &http.Client{Timeout: time.Duration(cfg.Feeds.TimeoutSeconds) * time.Second}
	s := &Syncer{
		store:       store,
		parser:      parser,
		maxEpisodes: cfg.Feeds.MaxEpisodesPerFeed,
		logger:      logging.NewComponentLogger(logger, "feeds"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe fetches feedURL, records the podcast and its episodes.
func (s *Syncer) Subscribe(ctx context.Context, feedURL string) (*queue.Podcast, SyncResult, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, SyncResult{}, errors.New("feed URL required")
	}
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, SyncResult{}, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	podcast, err := s.store.UpsertPodcast(ctx, podcastInput(feedURL, feed))
	if err != nil {
		return nil, SyncResult{}, err
	}
	result, err := s.ingest(ctx, podcast, feed)
	return podcast, result, err
}

// SyncPodcast refreshes one subscription.
func (s *Syncer) SyncPodcast(ctx context.Context, podcast *queue.Podcast) (SyncResult, error) {
	feed, err := s.parser.ParseURLWithContext(podcast.FeedURL, ctx)
	if err != nil {
		return SyncResult{PodcastID: podcast.ID, Title: podcast.Title, Err: err},
			fmt.Errorf("parse feed %s: %w", podcast.FeedURL, err)
	}
	updated, err := s.store.UpsertPodcast(ctx, podcastInput(podcast.FeedURL, feed))
	if err != nil {
		return SyncResult{PodcastID: podcast.ID, Title: podcast.Title, Err: err}, err
	}
	return s.ingest(ctx, updated, feed)
}

// SyncAll refreshes every subscription. A failing feed is logged and
// reported in its SyncResult without stopping the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]SyncResult, error) {
	podcasts, err := s.store.ListPodcasts(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]SyncResult, 0, len(podcasts))
	for _, podcast := range podcasts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.SyncPodcast(ctx, podcast)
		if err != nil {
			result.Err = err
			logging.WarnWithContext(s.logger, "feed sync failed", "feed_sync_failed",
				logging.Int64(logging.FieldPodcastID, podcast.ID),
				logging.String("feed_url", podcast.FeedURL),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the feed URL or network connectivity"),
				logging.String(logging.FieldImpact, "no new episodes discovered for this podcast"))
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Syncer) ingest(ctx context.Context, podcast *queue.Podcast, feed *gofeed.Feed) (SyncResult, error) {
	result := SyncResult{PodcastID: podcast.ID, Title: podcast.Title}
	items := append([]*gofeed.Item(nil), feed.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return itemTime(items[i]).After(itemTime(items[j]))
	})
	if s.maxEpisodes > 0 && len(items) > s.maxEpisodes {
		items = items[:s.maxEpisodes]
	}

	for _, item := range items {
		result.Items++
		input, ok := episodeInput(podcast.ID, item)
		if !ok {
			result.Skipped++
			continue
		}
		_, created, err := s.store.AddEpisode(ctx, input)
		if err != nil {
			return result, fmt.Errorf("add episode %q: %w", input.Title, err)
		}
		if created {
			result.Added++
		}
	}
	if err := s.store.TouchPodcast(ctx, podcast.ID, s.now()); err != nil {
		return result, err
	}
	s.logger.Info("feed synced",
		logging.Int64(logging.FieldPodcastID, podcast.ID),
		logging.String("title", podcast.Title),
		logging.Int("items", result.Items),
		logging.Int("added", result.Added),
		logging.Int("skipped", result.Skipped))
	return result, nil
}

func podcastInput(feedURL string, feed *gofeed.Feed) queue.PodcastInput {
	in := queue.PodcastInput{
		FeedURL:     feedURL,
		Title:       strings.TrimSpace(feed.Title),
		Description: CleanHTML(feed.Description),
	}
	switch {
	case feed.Image != nil && feed.Image.URL != "":
		in.ImageURL = feed.Image.URL
	case feed.ITunesExt != nil && feed.ITunesExt.Image != "":
		in.ImageURL = feed.ITunesExt.Image
	}
	return in
}

func episodeInput(podcastID int64, item *gofeed.Item) (queue.EpisodeInput, bool) {
	enclosure := audioEnclosure(item)
	if enclosure == nil {
		return queue.EpisodeInput{}, false
	}
	description := item.Description
	if strings.TrimSpace(description) == "" {
		description = item.Content
	}
	in := queue.EpisodeInput{
		PodcastID:     podcastID,
		GUID:          strings.TrimSpace(item.GUID),
		Title:         strings.TrimSpace(item.Title),
		Description:   CleanHTML(description),
		EnclosureURL:  strings.TrimSpace(enclosure.URL),
		EnclosureType: strings.TrimSpace(enclosure.Type),
	}
	if item.ITunesExt != nil {
		in.DurationSeconds = ParseDuration(item.ITunesExt.Duration)
	}
	if t := itemTime(item); !t.IsZero() {
		published := t.UTC()
		in.PublishedDate = &published
	}
	return in, true
}

// audioEnclosure prefers an audio/* enclosure and falls back to the first
// enclosure with a URL.
func audioEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	var fallback *gofeed.Enclosure
	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enc.Type), "audio/") {
			return enc
		}
		if fallback == nil {
			fallback = enc
		}
	}
	return fallback
}

func itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	default:
		return time.Time{}
	}
}

// ParseDuration reads an itunes:duration value: plain seconds, MM:SS or
// HH:MM:SS. Unparseable values yield 0.
func ParseDuration(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
