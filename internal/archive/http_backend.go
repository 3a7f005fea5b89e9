package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eve.evalgo.org/memoryengine/internal/model"
)

// HTTPBackend adapts an external vector database reachable over a small JSON
// HTTP API to the Backend interface, following the retry-with-backoff shape
// of the teacher's http/client.go Execute helper.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	retryWait  time.Duration
}

// NewHTTPBackend creates an HTTPBackend pointed at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retries:    2,
		retryWait:  250 * time.Millisecond,
	}
}

type addRequest struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

type searchRequest struct {
	Query string `json:"query"`
	N     int    `json:"n"`
}

type searchResponse struct {
	Hits []model.SearchHit `json:"hits"`
}

func (h *HTTPBackend) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	u, err := url.JoinPath(h.baseURL, path)
	if err != nil {
		return err
	}

	var lastErr error
	attempts := h.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if r, ok := reader.(*bytes.Reader); ok {
			r.Seek(0, io.SeekStart)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				raw, _ := io.ReadAll(resp.Body)
				lastErr = fmt.Errorf("vector store returned HTTP %d: %s", resp.StatusCode, string(raw))
			} else {
				if out != nil {
					return json.NewDecoder(resp.Body).Decode(out)
				}
				return nil
			}
		} else {
			lastErr = err
		}
		if attempt < attempts-1 {
			time.Sleep(h.retryWait * time.Duration(attempt+1))
		}
	}
	return fmt.Errorf("vector store request failed after %d attempts: %w", attempts, lastErr)
}

func (h *HTTPBackend) Add(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	return h.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/documents", collection),
		addRequest{ID: id, Text: text, Metadata: metadata}, nil)
}

func (h *HTTPBackend) Upsert(ctx context.Context, collection, id, text string, metadata map[string]string) error {
	return h.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/documents/%s", collection, id),
		addRequest{ID: id, Text: text, Metadata: metadata}, nil)
}

func (h *HTTPBackend) Search(ctx context.Context, collection, query string, n int) ([]model.SearchHit, error) {
	var out searchResponse
	err := h.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/search", collection),
		searchRequest{Query: query, N: n}, &out)
	if err != nil {
		return nil, err
	}
	return out.Hits, nil
}

func (h *HTTPBackend) Get(ctx context.Context, collection, id string) (model.ArchiveDocument, bool, error) {
	var out model.ArchiveDocument
	err := h.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/documents/%s", collection, id), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return model.ArchiveDocument{}, false, nil
		}
		return model.ArchiveDocument{}, false, err
	}
	return out, true, nil
}

func (h *HTTPBackend) Delete(ctx context.Context, collection, id string) error {
	return h.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s/documents/%s", collection, id), nil, nil)
}

func (h *HTTPBackend) List(ctx context.Context, collection string) ([]model.ArchiveDocument, error) {
	var out struct {
		Documents []model.ArchiveDocument `json:"documents"`
	}
	err := h.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/documents", collection), nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (h *HTTPBackend) Count(ctx context.Context, collection string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := h.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/count", collection), nil, &out)
	return out.Count, err
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}
