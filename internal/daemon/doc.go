// Package daemon coordinates the long-running podindex process.
//
// It wraps the workflow manager and the feed syncer in a single lifecycle
// guarded by a flock-based lock, so a daemon and a one-shot `run --once`
// never process the same database at the same time. Preflight failures stop
// the daemon from starting lanes that would fail on every episode.
package daemon
