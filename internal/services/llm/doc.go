// Package llm provides an OpenRouter-compatible chat client used to extract
// structured episode metadata from transcripts.
//
// Requests ask for a JSON object response. The client retries HTTP 408, 429
// and 5xx responses, network timeouts and empty completions with exponential
// backoff (base 1s, capped at 10s, 5 attempts by default), honouring
// Retry-After. Context cancellation stops retrying immediately.
//
// Entry points: NewClient, Client.CompleteJSON, Client.ExtractEpisodeMetadata
// and Client.HealthCheck.
package llm
