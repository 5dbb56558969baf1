// Package workflow drives episodes through the download, transcript,
// metadata and indexing stages.
//
// The Manager selects pending episodes per stage, claims each one, runs the
// stage handler while a heartbeat extends the claim's lease, and resolves the
// claim as completed, retried or permanently failed. Each stage gets its own
// lane with a bounded worker pool, so a slow transcription never holds up
// downloads. A reaper returns expired leases to pending and a cleanup pass
// deletes audio for fully processed episodes.
//
// Before indexing starts, a stale resource cache is rebuilt from the remote
// store in the background; the indexing lane waits for that rebuild.
package workflow
