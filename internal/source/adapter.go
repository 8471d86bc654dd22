package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for fetch operations.
var (
	// ErrMalformedPayload marks a single record that could not be decoded.
	// Malformed records are counted and skipped; they never abort a fetch.
	ErrMalformedPayload = errors.New("malformed payload")
)

// TransportError wraps network-level fetch failures (connection refused,
// timeout, non-2xx status). Transport errors abort the fetch and are
// retryable at run granularity, unlike per-record payload errors.
type TransportError struct {
	Source string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching source %s from %s: %v", e.Source, e.URL, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As checks.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError

	return errors.As(err, &te)
}

type (
	// Payload is the opaque structured value of one fetched record, kept
	// schema-free and accessed through explicit accessors instead of
	// ad-hoc type assertions scattered through the pipeline.
	Payload map[string]any

	// Item is one fetched record candidate before normalization.
	Item struct {
		// ExternalID is the source-native identifier of the record.
		ExternalID string

		// Payload is the record content exactly as received.
		Payload Payload
	}

	// Page is the result of one fetch: the decoded items, the cursor to
	// resume from on the next run, and the count of records that were
	// skipped because their payload could not be decoded.
	Page struct {
		Items []Item

		// NextCursor is the position to store in the checkpoint once the
		// page has been fully processed. Empty means the source produced
		// no advance (e.g. an empty response).
		NextCursor string

		// Malformed counts per-record decode failures. These records are
		// gone from Items; the caller accounts for them as failed.
		Malformed int
	}

	// Adapter fetches raw records from one configured source.
	//
	// Fetch starts at the given cursor ("" means the beginning) and returns
	// a finite page. Transport failures return a *TransportError; decode
	// failures of individual records are absorbed into Page.Malformed.
	Adapter interface {
		Fetch(ctx context.Context, cursor string) (*Page, error)
	}
)

// GetString returns the first non-empty string value among the given keys.
// Non-string scalars are rendered with fmt.Sprint so numeric IDs and
// timestamps survive the trip through schema-free JSON.
func (p Payload) GetString(keys ...string) string {
	for _, key := range keys {
		v, ok := p[key]
		if !ok || v == nil {
			continue
		}

		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64, int, int64, bool:
			return fmt.Sprint(s)
		}
	}

	return ""
}

// GetTime returns the first parseable timestamp among the given keys.
// RFC 3339 and date-only forms are accepted; anything else yields nil.
func (p Payload) GetTime(keys ...string) *time.Time {
	for _, key := range keys {
		raw := p.GetString(key)
		if raw == "" {
			continue
		}

		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}

	return nil
}

// Options carries the shared runtime dependencies of adapters.
type Options struct {
	// Client is the HTTP client used by api adapters. A nil Client falls
	// back to a default with a 30 second timeout.
	Client *http.Client

	// Limiter throttles outbound api requests. A nil Limiter disables
	// throttling.
	Limiter *rate.Limiter
}

// NewAdapter constructs the adapter matching the source kind.
//
// Unknown kinds fail fast with ErrUnknownKind before any fetch happens.
func NewAdapter(cfg Config, opts Options) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindAPI:
		return NewAPIAdapter(cfg, opts), nil
	case KindFile:
		return NewFileAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
