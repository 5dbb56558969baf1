package testsupport

import (
	"context"
	"fmt"
	"sync"

	"podindex/internal/docstore"
)

// FakeDocStore is an in-memory docstore.Store that counts calls.
type FakeDocStore struct {
	mu        sync.Mutex
	docs      []docstore.Document
	nextID    int
	PageSize  int
	ListErr   error
	UploadErr error

	ListCalls   int
	UploadCalls int
	DeleteCalls int
}

// NewFakeDocStore returns a store preloaded with docs.
func NewFakeDocStore(docs ...docstore.Document) *FakeDocStore {
	return &FakeDocStore{docs: append([]docstore.Document(nil), docs...), nextID: len(docs), PageSize: 20}
}

// CreateOrGetStore always resolves to a fixed store id.
func (f *FakeDocStore) CreateOrGetStore(_ context.Context, name string) (string, error) {
	return "fileSearchStores/" + name, nil
}

// ListDocuments pages through the stored documents.
func (f *FakeDocStore) ListDocuments(_ context.Context, _ string, pageToken string) (docstore.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	if f.ListErr != nil {
		return docstore.Page{}, f.ListErr
	}
	start := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "%d", &start); err != nil {
			return docstore.Page{}, fmt.Errorf("bad page token %q", pageToken)
		}
	}
	size := f.PageSize
	if size <= 0 {
		size = 20
	}
	end := start + size
	if end > len(f.docs) {
		end = len(f.docs)
	}
	page := docstore.Page{Documents: append([]docstore.Document(nil), f.docs[start:end]...)}
	if end < len(f.docs) {
		page.NextPageToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// Upload stores a new document and returns its resource name.
func (f *FakeDocStore) Upload(_ context.Context, storeID string, upload docstore.Upload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UploadCalls++
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	f.nextID++
	name := fmt.Sprintf("%s/documents/doc-%d", storeID, f.nextID)
	f.docs = append(f.docs, docstore.Document{ResourceName: name, DisplayName: upload.DisplayName, Metadata: upload.Metadata})
	return name, nil
}

// Delete removes a document by resource name.
func (f *FakeDocStore) Delete(_ context.Context, resourceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	for i, doc := range f.docs {
		if doc.ResourceName == resourceName {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return docstore.ErrNotFound
}

// Documents returns a copy of the stored documents.
func (f *FakeDocStore) Documents() []docstore.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docstore.Document(nil), f.docs...)
}
