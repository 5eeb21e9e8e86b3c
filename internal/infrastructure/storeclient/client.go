// Package storeclient talks to a remote item store over HTTP. It lets this
// service run as a gateway in front of another instance's /v1 API.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/docket-desk/internal/config"
	"github.com/docket-desk/internal/domain"
	"github.com/docket-desk/internal/pkg/batchtoken"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client implements the item store against a remote /v1 API. Every call is a
// single HTTP request. Nothing is retried. The token must carry the gateway
// role so the remote records the forwarded operator instead of the token's
// own identity.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg *config.Config) *Client {
	return NewWithHTTPClient(cfg.ItemStoreURL, cfg.ItemStoreToken, &http.Client{Timeout: cfg.ItemStoreTimeout})
}

func NewWithHTTPClient(baseURL, token string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, token: token, http: hc}
}

type errorEnvelope struct {
	Message   string               `json:"message"`
	Error     string               `json:"error"`
	ErrorCode int                  `json:"error_code"`
	Updated   []int64              `json:"updated"`
	Failed    []domain.ItemFailure `json:"failed"`
}

type batchEnvelope struct {
	Updated []int64              `json:"updated"`
	Failed  []domain.ItemFailure `json:"failed"`
}

func (c *Client) List(ctx context.Context, kind domain.Kind, f domain.ItemFilter) (*domain.ItemPage, error) {
	q := url.Values{}
	if f.State != 0 {
		q.Set("state", strconv.Itoa(int(f.State)))
	}
	if f.From != nil {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.Text != "" {
		q.Set("q", f.Text)
	}
	if f.DeliverTo != "" {
		q.Set("deliver_to", f.DeliverTo)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	var page domain.ItemPage
	if err := c.do(ctx, http.MethodGet, c.path(kind, "", q), nil, &page); err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []domain.Item{}
	}
	return &page, nil
}

// GetMany fetches a batch by token. The remote answers 404 if any id is unknown.
func (c *Client) GetMany(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Item, error) {
	tok, err := batchtoken.Encode(ids)
	if err != nil {
		return nil, err
	}
	var page domain.ItemPage
	if err := c.do(ctx, http.MethodGet, c.path(kind, "", url.Values{"ids": {tok}}), nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) Create(ctx context.Context, kind domain.Kind, it *domain.Item) error {
	req := domain.CreateItemRequest{
		Subject:    it.Subject,
		Reference:  it.Reference,
		Origin:     it.Origin,
		Notes:      it.Notes,
		ReceivedBy: it.ReceivedBy,
	}
	return c.do(ctx, http.MethodPost, c.path(kind, "", nil), req, it)
}

func (c *Client) Deliver(ctx context.Context, kind domain.Kind, req domain.DeliveryRequest) (*domain.BatchResult, error) {
	p := c.path(kind, "/deliver/"+strconv.Itoa(int(req.Mode)), nil)
	return c.batch(ctx, p, req)
}

func (c *Client) Dispose(ctx context.Context, kind domain.Kind, req domain.DispositionRequest) (*domain.BatchResult, error) {
	q := url.Values{"action": {strconv.Itoa(int(req.Action))}}
	var err error
	switch req.Action {
	case domain.ActionAccept:
		err = setToken(q, "items", req.Accepted)
	case domain.ActionReject:
		err = setToken(q, "items", req.Rejected)
	default:
		if err = setToken(q, "itemsAccepted", req.Accepted); err == nil {
			err = setToken(q, "itemsRejected", req.Rejected)
		}
	}
	if err != nil {
		return nil, err
	}
	var body interface{}
	if req.Reason != "" {
		body = struct {
			Reason string `json:"reason"`
		}{req.Reason}
	}
	return c.batch(ctx, c.path(kind, "/actions", q), body)
}

func (c *Client) Delete(ctx context.Context, kind domain.Kind, itemID int64) (*domain.Item, error) {
	var it domain.Item
	if err := c.do(ctx, http.MethodDelete, c.path(kind, "/"+strconv.FormatInt(itemID, 10), nil), nil, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

// batch issues a bulk PATCH. A 409 that lists per-item failures is a partial
// result, not a transport error.
func (c *Client) batch(ctx context.Context, path string, body interface{}) (*domain.BatchResult, error) {
	var env batchEnvelope
	err := c.do(ctx, http.MethodPatch, path, body, &env)
	var se *domain.StoreError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		var partial *partialError
		if errors.As(se.Err, &partial) {
			return &domain.BatchResult{Updated: nonNil(partial.updated), Failed: partial.failed}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.BatchResult{Updated: nonNil(env.Updated), Failed: env.Failed}, nil
}

type partialError struct {
	updated []int64
	failed  []domain.ItemFailure
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%d items failed", len(e.failed))
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	// The remote trusts these only from a gateway token.
	if a, ok := domain.ActorFrom(ctx); ok {
		req.Header.Set(domain.HeaderOperatorID, a.UserID)
		req.Header.Set(domain.HeaderOperatorName, url.QueryEscape(a.Name))
		req.Header.Set(domain.HeaderOperatorRole, a.Role)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.StoreError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.StoreError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}
	return decodeError(resp)
}

// decodeError turns a non-2xx response into a StoreError carrying the
// remote's message verbatim.
func decodeError(resp *http.Response) error {
	se := &domain.StoreError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil {
		se.Message = env.Error
		if se.Message == "" {
			se.Message = env.Message
		}
		if len(env.Failed) > 0 {
			se.Err = &partialError{updated: env.Updated, failed: env.Failed}
		}
	}
	if se.Err == nil {
		se.Err = fmt.Errorf("remote store returned %d", resp.StatusCode)
	}
	return se
}

func (c *Client) path(kind domain.Kind, suffix string, q url.Values) string {
	p := "/v1/" + kind.Plural() + suffix
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	return p
}

func setToken(q url.Values, key string, ids []int64) error {
	tok, err := batchtoken.Encode(ids)
	if err != nil {
		return err
	}
	q.Set(key, tok)
	return nil
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
