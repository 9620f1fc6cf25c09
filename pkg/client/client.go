// Package client talks to a sitekv server over its HTTP API and maps
// responses back onto the dberrors sentinels.
package client

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

	"sitekv/pkg/dberrors"
	"sitekv/pkg/store"
)

const defaultTimeout = 3 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
}

// Usage mirrors the body of GET /api/{tenant}/usage.
type Usage struct {
	Tenant string `json:"tenant"`
	Bytes  int64  `json:"bytes"`
	Quota  int64  `json:"quota"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

func (c *Client) Get(ctx context.Context, tenant, key string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.keyURL(tenant, key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read GET body: %w", err)
	}
	return b, nil
}

func (c *Client) Set(ctx context.Context, tenant, key string, value []byte) error {
	resp, err := c.do(ctx, http.MethodPut, c.keyURL(tenant, key), value)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, tenant, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.keyURL(tenant, key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) Usage(ctx context.Context, tenant string) (Usage, error) {
	var u Usage
	err := c.getJSON(ctx, c.baseURL+"/api/"+url.PathEscape(tenant)+"/usage", &u)
	return u, err
}

func (c *Client) Tenants(ctx context.Context) ([]store.TenantUsage, error) {
	var body struct {
		Tenants []store.TenantUsage `json:"tenants"`
	}
	err := c.getJSON(ctx, c.baseURL+"/api/tenants", &body)
	return body.Tenants, err
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s body: %w", u, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	return resp, nil
}

func (c *Client) keyURL(tenant, key string) string {
	return c.baseURL + "/api/" + url.PathEscape(tenant) + "/kv/" + url.PathEscape(key)
}

// decodeError turns a non-200 response into an error matching the sentinel
// the server started from.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)

	var eb errorBody
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		switch {
		case strings.Contains(msg, dberrors.ErrInvalidTenant.Error()):
			sentinel = dberrors.ErrInvalidTenant
		case strings.Contains(msg, dberrors.ErrInvalidKey.Error()):
			sentinel = dberrors.ErrInvalidKey
		default:
			sentinel = dberrors.ErrInvalidArgument
		}
	case http.StatusRequestEntityTooLarge:
		sentinel = dberrors.ErrValueTooLarge
	case http.StatusInsufficientStorage:
		sentinel = dberrors.ErrQuotaExceeded
	case http.StatusNotFound:
		sentinel = dberrors.ErrNotFound
	case http.StatusServiceUnavailable:
		sentinel = dberrors.ErrClosed
	default:
		return fmt.Errorf("status=%d request_id=%s: %s", resp.StatusCode, eb.RequestID, msg)
	}
	return fmt.Errorf("%w (status=%d request_id=%s): %s", sentinel, resp.StatusCode, eb.RequestID, msg)
}
