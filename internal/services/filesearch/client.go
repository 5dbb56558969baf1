package filesearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"podindex/internal/docstore"
	"podindex/internal/logging"
)

const (
	defaultHTTPTimeout   = 60 * time.Second
	defaultUploadTimeout = 5 * time.Minute

	// PageSize is the largest page the API serves for list calls.
	PageSize = 20

	pollInitial = 500 * time.Millisecond
	pollMax     = 5 * time.Second
)

// Config captures the runtime settings for the File Search API.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	UploadTimeout     time.Duration
}

// Client adapts the genai File Search surface to docstore.Store.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	sleeper    func(context.Context, time.Duration) error

	sdk     *genai.Client
	initErr error

	mu     sync.Mutex
	stores map[string]string
}

var _ docstore.Store = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client the SDK sends requests through.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper replaces the operation polling wait, for tests.
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// New constructs a client. A zero RequestsPerSecond disables throttling.
// Configuration problems surface on the first call.
func New(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		stores:     make(map[string]string),
		sleeper:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "filesearch")

	if cfg.APIKey == "" {
		c.initErr = errors.New("file search: api key required")
		return c
	}
	sdk, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  c.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		c.initErr = fmt.Errorf("file search: new client: %w", err)
		return c
	}
	c.sdk = sdk
	return c
}

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("file search: http %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// OperationError is a failed long-running operation.
type OperationError struct {
	Operation string
	Code      int
	Message   string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("file search operation %s failed (code %d): %s", e.Operation, e.Code, e.Message)
}

// CreateOrGetStore returns the store whose display name matches name,
// creating it when none exists. Results are memoized per client.
func (c *Client) CreateOrGetStore(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("file search: store name required")
	}
	c.mu.Lock()
	cached, ok := c.stores[name]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	id, err := c.findStore(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		if err := c.ready(ctx); err != nil {
			return "", err
		}
		created, err := c.sdk.FileSearchStores.Create(ctx, &genai.CreateFileSearchStoreConfig{DisplayName: name})
		if err != nil {
			return "", fmt.Errorf("create store %q: %w", name, statusError(err))
		}
		id = created.Name
		c.logger.Info("created file search store", logging.String("store", id), logging.String(logging.FieldDisplayName, name))
	}

	c.mu.Lock()
	c.stores[name] = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) findStore(ctx context.Context, name string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	page, err := c.sdk.FileSearchStores.List(ctx, &genai.ListFileSearchStoresConfig{PageSize: PageSize})
	for {
		if err != nil {
			return "", fmt.Errorf("list stores: %w", statusError(err))
		}
		for _, store := range page.Items {
			if store != nil && store.DisplayName == name {
				return store.Name, nil
			}
		}
		if page.NextPageToken == "" {
			return "", nil
		}
		if err := c.ready(ctx); err != nil {
			return "", err
		}
		page, err = page.Next(ctx)
	}
}

// ListDocuments returns one page of documents in storeID.
func (c *Client) ListDocuments(ctx context.Context, storeID, pageToken string) (docstore.Page, error) {
	if err := c.ready(ctx); err != nil {
		return docstore.Page{}, err
	}
	result, err := c.sdk.FileSearchStores.Documents.List(ctx, storeID, &genai.ListDocumentsConfig{
		PageSize:  PageSize,
		PageToken: pageToken,
	})
	if err != nil {
		return docstore.Page{}, fmt.Errorf("list documents: %w", statusError(err))
	}
	page := docstore.Page{
		Documents:     make([]docstore.Document, 0, len(result.Items)),
		NextPageToken: result.NextPageToken,
	}
	for _, doc := range result.Items {
		if doc == nil {
			continue
		}
		page.Documents = append(page.Documents, docstore.Document{
			ResourceName: doc.Name,
			DisplayName:  doc.DisplayName,
			Metadata:     fromCustomMetadata(doc.CustomMetadata),
		})
	}
	return page, nil
}

// Upload sends the content through the resumable upload endpoint and waits
// for the resulting operation to finish.
func (c *Client) Upload(ctx context.Context, storeID string, upload docstore.Upload) (string, error) {
	if strings.TrimSpace(upload.DisplayName) == "" {
		return "", errors.New("file search upload: display name required")
	}
	mimeType := upload.MIMEType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if err := c.ready(ctx); err != nil {
		return "", err
	}

	op, err := c.sdk.FileSearchStores.UploadToFileSearchStore(ctx, bytes.NewReader(upload.Content), storeID,
		&genai.UploadToFileSearchStoreConfig{
			MIMEType:       mimeType,
			DisplayName:    upload.DisplayName,
			CustomMetadata: toCustomMetadata(upload.Metadata),
		})
	if err != nil {
		return "", fmt.Errorf("file search upload %q: %w", upload.DisplayName, statusError(err))
	}

	done, err := c.waitOperation(ctx, op)
	if err != nil {
		return "", fmt.Errorf("file search upload %q: %w", upload.DisplayName, err)
	}
	if done.Response != nil && done.Response.DocumentName != "" {
		return done.Response.DocumentName, nil
	}
	return done.Name, nil
}

// Delete removes a document and its chunks.
func (c *Client) Delete(ctx context.Context, resourceName string) error {
	resourceName = strings.TrimSpace(resourceName)
	if resourceName == "" {
		return errors.New("file search delete: resource name required")
	}
	if err := c.ready(ctx); err != nil {
		return err
	}
	force := true
	err := statusError(c.sdk.FileSearchStores.Documents.Delete(ctx, resourceName, &genai.DeleteDocumentConfig{Force: &force}))
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("delete %s: %w", resourceName, docstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", resourceName, err)
	}
	return nil
}

func (c *Client) waitOperation(ctx context.Context, op *genai.UploadToFileSearchStoreOperation) (*genai.UploadToFileSearchStoreOperation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	delay := pollInitial
	for {
		if op == nil {
			return nil, errors.New("operation response missing")
		}
		if op.Error != nil {
			return op, operationError(op)
		}
		if op.Done {
			return op, nil
		}
		if op.Name == "" {
			return op, errors.New("operation response missing name")
		}
		if err := c.sleeper(ctx, delay); err != nil {
			return op, fmt.Errorf("wait for operation %s: %w", op.Name, err)
		}
		delay = min(delay*3/2, pollMax)

		if err := c.ready(ctx); err != nil {
			return op, err
		}
		next, err := c.sdk.Operations.GetUploadToFileSearchStoreOperation(ctx, op, nil)
		if err != nil {
			return op, fmt.Errorf("poll operation %s: %w", op.Name, statusError(err))
		}
		op = next
	}
}

// ready reports construction errors and takes a token from the limiter
// before each SDK call.
func (c *Client) ready(ctx context.Context) error {
	if c.initErr != nil {
		return c.initErr
	}
	return c.limiter.Wait(ctx)
}

// statusError converts SDK API errors into StatusError so callers can
// classify them with Temporary.
func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		message := strings.TrimSpace(apiErr.Message)
		if len(message) > 300 {
			message = message[:300] + "..."
		}
		return &StatusError{StatusCode: apiErr.Code, Message: message}
	}
	return err
}

func operationError(op *genai.UploadToFileSearchStoreOperation) error {
	oe := &OperationError{Operation: op.Name}
	if code, ok := op.Error["code"].(float64); ok {
		oe.Code = int(code)
	}
	if message, ok := op.Error["message"].(string); ok {
		oe.Message = message
	}
	return oe
}

// toCustomMetadata emits values in docstore.MetadataKeys order, then any
// extra keys.
func toCustomMetadata(values map[string]string) []*genai.CustomMetadata {
	values = docstore.NormalizeMetadata(values)
	out := make([]*genai.CustomMetadata, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, key := range docstore.MetadataKeys {
		if v, ok := values[key]; ok {
			out = append(out, &genai.CustomMetadata{Key: key, StringValue: v})
			seen[key] = true
		}
	}
	for key, v := range values {
		if !seen[key] {
			out = append(out, &genai.CustomMetadata{Key: key, StringValue: v})
		}
	}
	return out
}

func fromCustomMetadata(items []*genai.CustomMetadata) map[string]string {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		if item != nil && item.Key != "" && item.StringValue != "" {
			out[item.Key] = item.StringValue
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
