// Package feeds discovers episodes from podcast subscriptions. Feeds are
// parsed with gofeed; every item carrying an audio enclosure becomes an
// episode in the queue, keyed by its GUID so repeated syncs are idempotent.
package feeds
