// Package filesearch implements docstore.Store on top of the Gemini File
// Search surface of google.golang.org/genai.
//
// The SDK owns the wire protocol: the API key header, paging and the
// resumable upload handshake. This package adds what the pipeline needs
// around it. Every SDK call takes a token from one shared rate.Limiter, so
// concurrent indexing workers stay under the configured request rate. API
// errors are converted to StatusError, whose Temporary method drives retry
// classification. Uploads are long-running operations; Upload polls the
// operation until it reports done and returns the created document name.
package filesearch
