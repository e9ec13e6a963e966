package remote

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

	"golang.org/x/oauth2"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// HTTPTransport talks to a JSON backend:
//
//	POST {base}/sync/{type}/upsert  {"records": [...]}  -> {"applied": n}
//	POST {base}/sync/{type}/delete  {"ids": [...]}      -> {"applied": n}
//	GET  {base}/sync/{type}?user_id=...                 -> {"records": [...]}
//
// Requests carry the session's bearer token.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for baseURL. A non-empty token is sent
// as a bearer credential on every request.
func NewHTTPTransport(ctx context.Context, baseURL, token string) *HTTPTransport {
	client := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		client = oauth2.NewClient(ctx, ts)
		client.Timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

type upsertRequest struct {
	Records []json.RawMessage `json:"records"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type appliedResponse struct {
	Applied int `json:"applied"`
}

type fetchResponse struct {
	Records []json.RawMessage `json:"records"`
}

// SyncUpsert implements Transport.
func (t *HTTPTransport) SyncUpsert(ctx context.Context, entityType schema.EntityType, payloads []json.RawMessage) (int, error) {
	if err := checkType(entityType); err != nil {
		return 0, err
	}
	var resp appliedResponse
	endpoint := fmt.Sprintf("%s/sync/%s/upsert", t.baseURL, entityType)
	if err := t.do(ctx, http.MethodPost, endpoint, upsertRequest{Records: payloads}, &resp); err != nil {
		return 0, fmt.Errorf("failed to upsert %d %s: %w", len(payloads), entityType, err)
	}
	return resp.Applied, nil
}

// SyncDelete implements Transport.
func (t *HTTPTransport) SyncDelete(ctx context.Context, entityType schema.EntityType, ids []string) (int, error) {
	if err := checkType(entityType); err != nil {
		return 0, err
	}
	var resp appliedResponse
	endpoint := fmt.Sprintf("%s/sync/%s/delete", t.baseURL, entityType)
	if err := t.do(ctx, http.MethodPost, endpoint, deleteRequest{IDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("failed to delete %d %s: %w", len(ids), entityType, err)
	}
	return resp.Applied, nil
}

// FetchAll implements Transport.
func (t *HTTPTransport) FetchAll(ctx context.Context, entityType schema.EntityType, userID string) ([]json.RawMessage, error) {
	if err := checkType(entityType); err != nil {
		return nil, err
	}
	var resp fetchResponse
	endpoint := fmt.Sprintf("%s/sync/%s?user_id=%s", t.baseURL, entityType, url.QueryEscape(userID))
	if err := t.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", entityType, err)
	}
	return resp.Records, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}
	return nil
}

// statusError maps a non-2xx response onto the sentinel errors.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(msg))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownEntityType, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s", ErrTransport, resp.Status, detail)
	default:
		return fmt.Errorf("%w: %s %s", ErrRejected, resp.Status, detail)
	}
}
