// Package cloudclient is the outbound HTTP client for the central cloud service: a bounded
// GET health probe and the batch scan upload endpoint (spec.md §4.C). The teacher has no
// outbound HTTP client of its own to crib from; request/response struct shaping follows
// internal/api/types.go's JSON struct-tag style for symmetry with the inbound side.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/timeutil"
)

// Default timeouts (spec.md §4.B, §4.C).
const (
	DefaultConnTimeout   = 5 * time.Second
	DefaultUploadTimeout = 10 * time.Second
)

// ErrMalformedResponse is returned when a 2xx response body cannot be decoded (spec.md §4.C's
// "Malformed response body" outcome class).
var ErrMalformedResponse = errors.New("cloudclient: malformed response body")

// Event is a single uploaded scan, shaped exactly per spec.md §4.C step c.
type Event struct {
	IdempotencyKey string   `json:"idempotency_key"`
	BadgeID        string   `json:"badge_id"`
	StationName    string   `json:"station_name"`
	ScannedAt      string   `json:"scanned_at"`
	Meta           EventMeta `json:"meta"`
}

// EventMeta carries the non-authoritative fields attached to an uploaded event.
type EventMeta struct {
	Matched bool  `json:"matched"`
	LocalID int64 `json:"local_id"`
}

// BatchRequest is the POST body for the batch scan upload endpoint.
type BatchRequest struct {
	Events []Event `json:"events"`
}

// BatchResponse is the decoded 2xx body: {"saved": <int>, "duplicates": <int>}.
type BatchResponse struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
}

// NewEvent converts a domain Scan into its wire Event shape, using the single canonical
// timestamp serializer (internal/timeutil) to avoid the format-drift bug class spec.md §9
// flags.
func NewEvent(s scan.Scan) Event {
	return Event{
		IdempotencyKey: s.IdempotencyKey,
		BadgeID:        s.BadgeID,
		StationName:    s.StationName,
		ScannedAt:      timeutil.FormatUTC(s.ScannedAtUTC),
		Meta:           EventMeta{Matched: s.Matched, LocalID: s.LocalID},
	}
}

// Outcome classifies an upload attempt per spec.md §4.C's outcome table.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePermanentAuth
	OutcomePermanentClient
	OutcomeTransient
	OutcomeMalformed
)

// UploadResult is the classified result of a single batch upload attempt.
type UploadResult struct {
	Outcome    Outcome
	StatusCode int
	Response   BatchResponse
	Err        error
}

// Client is the cloud service HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Client. baseURL must not have a trailing slash.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: httpClient}
}

// Health performs the unauthenticated GET probe (spec.md §4.B); it does not classify outcomes
// beyond 2xx-or-not, the Connectivity Oracle owns hysteresis.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("cloudclient: build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudclient: health probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cloudclient: health probe status %d", resp.StatusCode)
	}

	return nil
}

// UploadBatch POSTs a batch of events and classifies the outcome per spec.md §4.C.
func (c *Client) UploadBatch(ctx context.Context, timeout time.Duration, events []Event) UploadResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(BatchRequest{Events: events})
	if err != nil {
		return UploadResult{Outcome: OutcomeMalformed, Err: fmt.Errorf("cloudclient: marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scans/batch", bytes.NewReader(body))
	if err != nil {
		return UploadResult{Outcome: OutcomeTransient, Err: fmt.Errorf("cloudclient: build batch request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeout, connection reset, DNS failure, TLS failure: all transient network
		// classes per spec.md §4.C.
		return UploadResult{Outcome: OutcomeTransient, Err: fmt.Errorf("cloudclient: upload: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return classifyResponse(resp)
}

func classifyResponse(resp *http.Response) UploadResult {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return UploadResult{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}

		// spec.md §4.C draws the line at "2xx with saved+duplicates fields" for Success;
		// a 2xx whose body lacks either field (e.g. empty or "{}") is malformed, not a
		// zero-item success. Probe for the keys before decoding, since decoding into
		// BatchResponse directly would silently default missing fields to 0.
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return UploadResult{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}

		if _, ok := probe["saved"]; !ok {
			return UploadResult{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing \"saved\" field", ErrMalformedResponse)}
		}

		if _, ok := probe["duplicates"]; !ok {
			return UploadResult{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing \"duplicates\" field", ErrMalformedResponse)}
		}

		var decoded BatchResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return UploadResult{Outcome: OutcomeMalformed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
		}

		return UploadResult{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode, Response: decoded}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return UploadResult{Outcome: OutcomePermanentAuth, StatusCode: resp.StatusCode, Err: fmt.Errorf("cloudclient: auth error status %d", resp.StatusCode)}

	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return UploadResult{Outcome: OutcomePermanentClient, StatusCode: resp.StatusCode, Err: fmt.Errorf("cloudclient: client error status %d", resp.StatusCode)}

	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return UploadResult{Outcome: OutcomeTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("cloudclient: transient status %d", resp.StatusCode)}

	default:
		return UploadResult{Outcome: OutcomePermanentClient, StatusCode: resp.StatusCode, Err: fmt.Errorf("cloudclient: unexpected status %d", resp.StatusCode)}
	}
}
