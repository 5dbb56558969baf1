// Package downloader implements the download stage: it fetches an episode's
// enclosure into the audio directory and records its size and SHA-256.
package downloader
