// Package queue persists podcasts and their episodes, and owns the per-stage
// state machine every episode moves through: download, transcript, metadata,
// indexing.
//
// Each stage has its own status, error, retry counter and lease columns.
// Claims are single conditional UPDATE statements checked by rows affected,
// so two workers racing on one episode cannot both win. A claim carries a
// lease owner and expiry; heartbeats extend it and the reaper returns expired
// leases to pending without charging the retry budget.
//
// Schema changes are goose migrations embedded from migrations/.
package queue
