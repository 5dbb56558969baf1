// Package logging assembles structured slog loggers and formatting helpers used
// across podindex.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context-aware helpers that tag log lines with episode IDs, stages, and
// correlation IDs. NewNop gives tests and wiring code a logger that cannot fail.
package logging
