package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

// DocStore is an uploader sink backed by a document REST API:
//
//	DELETE {base}/collections/{c}/documents          -> {"deleted": n}
//	POST   {base}/collections/{c}/documents:batch    {"documents": [...]} -> {"inserted": n}
//
// Deletes are retried on throttling and server errors. Batch inserts are sent
// once; the uploader owns their retries.
type DocStore struct {
	client  *Client
	inserts *Client
}

// NewDocStore creates a REST sink for baseURL authenticated with a bearer token
func NewDocStore(baseURL, token string) *DocStore {
	inserts := NewClient(baseURL, token)
	inserts.DisableRetries()
	return &DocStore{client: NewClient(baseURL, token), inserts: inserts}
}

type storedDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type batchRequest struct {
	Documents []storedDocument `json:"documents"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type batchResponse struct {
	Inserted int `json:"inserted"`
}

// DeleteAll removes every document of collection
func (s *DocStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	resp, err := s.client.Delete(ctx, documentsPath(collection), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", collection, err)
	}
	if !resp.IsSuccess() {
		return 0, statusError("delete "+collection, resp)
	}

	var out deleteResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("failed to parse delete response: %w", err)
	}
	return out.Deleted, nil
}

// InsertBatch posts docs in a single request
func (s *DocStore) InsertBatch(ctx context.Context, collection string, docs []uploader.Document) (int, error) {
	payload := batchRequest{Documents: make([]storedDocument, len(docs))}
	for i, d := range docs {
		payload.Documents[i] = storedDocument{ID: d.ID, Fields: d.Fields}
	}

	resp, err := s.inserts.Post(ctx, documentsPath(collection)+":batch", payload)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s batch: %w", collection, err)
	}
	if !resp.IsSuccess() {
		return 0, statusError("insert "+collection, resp)
	}

	var out batchResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("failed to parse insert response: %w", err)
	}
	return out.Inserted, nil
}

func documentsPath(collection string) string {
	return fmt.Sprintf("collections/%s/documents", url.PathEscape(collection))
}
