package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	userAgent          = "Kasparro-ETL/1.0"

	// maxResponseBytes caps API response bodies to keep a misbehaving
	// endpoint from exhausting memory. 32 MiB comfortably fits every
	// paginated feed this pipeline consumes.
	maxResponseBytes = 32 << 20
)

// CursorFunc builds the request URL for a fetch starting at cursor.
// Pagination semantics differ per source (offset parameters, since-id
// parameters, opaque page tokens), so the mapping from cursor to URL is
// injected via configuration rather than hardcoded in the adapter. The
// default ignores the cursor and requests the configured endpoint as-is.
type CursorFunc func(endpoint, cursor string) string

// APIAdapter fetches records from an HTTP endpoint returning JSON.
//
// Accepted response shapes, matching what real feeds produce:
//   - a bare JSON array of objects
//   - an object wrapping the array under "results" or "data"
//   - a single object (treated as a one-item page)
type APIAdapter struct {
	cfg     Config
	client  *http.Client
	limiter limiter
	cursor  CursorFunc
}

// limiter is the subset of *rate.Limiter the adapter needs, kept as an
// interface so tests can observe throttling without real clock waits.
type limiter interface {
	Wait(ctx context.Context) error
}

// noopLimiter admits every request immediately.
type noopLimiter struct{}

func (noopLimiter) Wait(context.Context) error { return nil }

// NewAPIAdapter creates an adapter for an HTTP JSON source.
func NewAPIAdapter(cfg Config, opts Options) *APIAdapter {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var lim limiter = noopLimiter{}
	if opts.Limiter != nil {
		lim = opts.Limiter
	}

	return &APIAdapter{
		cfg:     cfg,
		client:  client,
		limiter: lim,
		cursor:  func(endpoint, _ string) string { return endpoint },
	}
}

// WithCursorFunc overrides the default pagination mapping.
func (a *APIAdapter) WithCursorFunc(fn CursorFunc) *APIAdapter {
	if fn != nil {
		a.cursor = fn
	}

	return a
}

// Fetch requests one page of records starting at cursor.
//
// Network failures, non-2xx responses and undecodable response bodies abort
// the fetch with a *TransportError. Individual records that are not JSON
// objects or carry no usable identifier are counted in Page.Malformed and
// skipped. The returned cursor is the external id of the last record on the
// page, which the checkpoint stores once the page has been processed.
func (a *APIAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	url := a.cursor(a.cfg.Location, cursor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Source: a.cfg.Name, URL: url, Err: err}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	if a.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.AuthToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransportError{Source: a.cfg.Name, URL: url, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			Source: a.cfg.Name,
			URL:    url,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Source: a.cfg.Name, URL: url, Err: err}
	}

	records, err := decodeRecords(body)
	if err != nil {
		// The whole body is undecodable - nothing per-record to salvage.
		return nil, &TransportError{Source: a.cfg.Name, URL: url, Err: err}
	}

	page := &Page{Items: make([]Item, 0, len(records))}

	for _, record := range records {
		obj, ok := record.(map[string]any)
		if !ok {
			page.Malformed++

			continue
		}

		payload := Payload(obj)

		externalID := payload.GetString("id", "pk")
		if externalID == "" {
			page.Malformed++

			continue
		}

		page.Items = append(page.Items, Item{ExternalID: externalID, Payload: payload})
		page.NextCursor = externalID
	}

	return page, nil
}

// decodeRecords normalizes the accepted JSON response shapes into a flat
// slice of records.
func decodeRecords(body []byte) ([]any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %w", err)
	}

	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"results", "data"} {
			wrapped, ok := v[key]
			if !ok {
				continue
			}

			if list, ok := wrapped.([]any); ok {
				return list, nil
			}

			if obj, ok := wrapped.(map[string]any); ok {
				return []any{obj}, nil
			}
		}

		// A single object response is a one-item page.
		return []any{v}, nil
	default:
		return nil, fmt.Errorf("%w: top-level JSON value is %T", ErrMalformedPayload, decoded)
	}
}
