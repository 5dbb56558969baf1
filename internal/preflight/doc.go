// Package preflight provides readiness checks for the directories, binaries
// and remote services the pipeline depends on.
//
// RunAll covers the local checks the daemon runs before starting lanes. The
// remote checks (CheckLLM, CheckDocumentStore) make network calls and are used
// by `podindex status --check`. Checks for disabled features are skipped.
package preflight
