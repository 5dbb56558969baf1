// Package indexing implements the indexing stage. Before uploading a
// transcript it consults the resource cache under the episode's sanitized
// display name, so an upload that succeeded remotely but was never recorded
// locally is not repeated after a restart.
package indexing
