// Package gateway talks to the remote object API.
package gateway

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

	"github.com/google/uuid"

	"github.com/kalambet/devinv/internal/records"
)

const maxErrorBodySize = 64 << 10

// Client is an HTTP client for the remote object API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL. If timeout is <= 0, it defaults to 15s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit creates a record from p and returns it with its server id.
// Numeric fields are coerced before sending.
func (c *Client) Submit(ctx context.Context, p records.Payload) (records.Record, error) {
	body, err := json.Marshal(p.Coerce())
	if err != nil {
		return records.Record{}, fmt.Errorf("encoding payload: %w", err)
	}

	var rec records.Record
	if err := c.do(ctx, http.MethodPost, "/objects", bytes.NewReader(body), &rec); err != nil {
		return records.Record{}, err
	}
	if rec.ID == "" {
		return records.Record{}, fmt.Errorf("server returned a record without an id")
	}
	return rec, nil
}

// Fetch returns the records with the given ids in one request.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]records.Record, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}

	var recs []records.Record
	if err := c.do(ctx, http.MethodGet, "/objects?"+q.Encode(), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = json.Unmarshal(data, &eb)
		return newHTTPError(resp.StatusCode, eb)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
