// Package resourcecache keeps a local snapshot of the remote document store:
// sanitized display name to resource handle and metadata. The indexing stage
// consults it to skip uploads that already happened, including ones whose
// local status update was lost to a crash.
//
// The snapshot is a single JSON document written atomically (temp file,
// fsync, rename). Load failures degrade to an empty, stale cache. Only one
// process may write a given cache file.
package resourcecache
