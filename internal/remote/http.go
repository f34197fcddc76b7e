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
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// DefaultTimeout bounds every remote request.
const DefaultTimeout = 15 * time.Second

// HTTPConfig holds remote store connection configuration.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPStore implements Store against a PostgREST-style REST endpoint.
type HTTPStore struct {
	config     HTTPConfig
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPStore creates a new HTTPStore.
func NewHTTPStore(config HTTPConfig) *HTTPStore {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// SetToken sets the user session token sent as the bearer credential. An
// empty token falls back to the API key.
func (c *HTTPStore) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPStore) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		return c.token
	}
	return c.config.APIKey
}

func (c *HTTPStore) endpoint(table string, params url.Values) string {
	u := c.config.BaseURL + "/rest/v1/" + url.PathEscape(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *HTTPStore) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// errorBody is the error document the store returns on rejection.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func responseError(op, table string, resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &Error{Op: op, Table: table, Status: resp.StatusCode}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		e.Code = body.Code
		e.Message = body.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}

// Upsert implements Store.
func (c *HTTPStore) Upsert(ctx context.Context, table string, record models.Record) (models.Record, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	params := url.Values{"on_conflict": {models.FieldID}}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(table, params), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable("upsert", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError("upsert", table, resp)
	}

	var rows []models.Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode upsert response: %w", err)
	}
	if len(rows) == 0 {
		return record.Clone(), nil
	}
	return rows[0], nil
}

// Delete implements Store.
func (c *HTTPStore) Delete(ctx context.Context, table, id string) error {
	params := url.Values{models.FieldID: {"eq." + id}}
	req, err := c.newRequest(ctx, http.MethodDelete, c.endpoint(table, params), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Unavailable("delete", table, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return responseError("delete", table, resp)
	}
	return nil
}

// Select implements Store.
func (c *HTTPStore) Select(ctx context.Context, table string, query Query) ([]models.Record, error) {
	params := url.Values{"select": {"*"}}
	for _, f := range query {
		if len(f.Values) == 1 {
			params.Add(f.Field, "eq."+f.Values[0])
			continue
		}
		params.Add(f.Field, "in.("+strings.Join(f.Values, ",")+")")
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(table, params), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable("select", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("select", table, resp)
	}

	var rows []models.Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", table, err)
	}
	return rows, nil
}

// Ping implements Store. Any answer below 500 means the store is reachable.
func (c *HTTPStore) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, c.config.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Unavailable("ping", "", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Error{Op: "ping", Status: resp.StatusCode}
	}
	return nil
}
