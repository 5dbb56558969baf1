// Command podindex discovers podcast episodes from RSS feeds, downloads and
// transcribes them, extracts structured metadata with an LLM and indexes the
// transcripts in a remote semantic search store.
//
// `podindex run` starts the daemon; `podindex run --once` drains the queue a
// single time. The remaining commands inspect and maintain the queue, the
// feed subscriptions and the local resource cache.
package main
