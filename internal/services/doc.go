// Package services defines shared utilities consumed by the stage handlers and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp episode IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which turns
//     a stage failure into transient, validation, or permanent so the workflow
//     manager can pick between retry and permanently_failed.
//
// Collaborator clients (whisperx, llm, filesearch) live in subpackages.
package services
