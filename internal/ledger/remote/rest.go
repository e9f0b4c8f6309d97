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
)

// RESTClient is a Store backed by a PostgREST-style HTTP API.
//
// Requests carry the project api key in the apikey header and the user's
// access token (or the api key when no token is set) as a Bearer token.
//
// RESTClient holds no per-request state and is safe for concurrent use.
type RESTClient struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
}

var _ Store = (*RESTClient)(nil)

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithAccessToken sets the user's access token sent as the Bearer token.
func WithAccessToken(token string) RESTOption {
	return func(c *RESTClient) {
		c.accessToken = token
	}
}

// NewRESTClient creates a client for the API rooted at baseURL (for example
// "https://project.example.co"). The /rest/v1 prefix is added per request.
func NewRESTClient(baseURL, apiKey string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs one request against /rest/v1/<table>.
func (c *RESTClient) doRequest(ctx context.Context, method, table string, params url.Values, body any, prefer string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	return resp, nil
}

func (c *RESTClient) bearer() string {
	if c.accessToken != "" {
		return c.accessToken
	}
	return c.apiKey
}

// decodeResponse turns a non-2xx response into an *APIError and otherwise
// decodes the JSON body into target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// insertRow posts row and returns the stored representation.
func insertRow[T any](ctx context.Context, c *RESTClient, table string, row *T) (*T, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, table, nil, row, "return=representation")
	if err != nil {
		return nil, err
	}
	var rows []*T
	if err := decodeResponse(resp, &rows); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s: empty representation", table)
	}
	return rows[0], nil
}

// updateRow patches the row with the given id and returns the stored
// representation, or ErrNotFound when nothing matched.
func updateRow[T any](ctx context.Context, c *RESTClient, table, id string, patch *T) (*T, error) {
	params := url.Values{"id": {"eq." + id}}
	resp, err := c.doRequest(ctx, http.MethodPatch, table, params, patch, "return=representation")
	if err != nil {
		return nil, err
	}
	var rows []*T
	if err := decodeResponse(resp, &rows); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}
	return rows[0], nil
}

func (c *RESTClient) deleteRow(ctx context.Context, table, id string) error {
	params := url.Values{"id": {"eq." + id}}
	resp, err := c.doRequest(ctx, http.MethodDelete, table, params, nil, "")
	if err != nil {
		return err
	}
	if err := decodeResponse(resp, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// selectRows runs q against table. Long id lists are split across several
// requests and the results concatenated.
func selectRows[T any](ctx context.Context, c *RESTClient, table string, q Query) ([]*T, error) {
	if q.IDs != nil && len(q.IDs) == 0 {
		return nil, nil
	}

	queries := []Query{q}
	if len(q.IDs) > maxInIDs {
		queries = queries[:0]
		for _, ids := range chunkIDs(q.IDs) {
			sub := q
			sub.IDs = ids
			queries = append(queries, sub)
		}
	}

	var out []*T
	for _, sub := range queries {
		resp, err := c.doRequest(ctx, http.MethodGet, table, encodeQuery(sub), nil, "")
		if err != nil {
			return nil, err
		}
		var rows []*T
		if err := decodeResponse(resp, &rows); err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// InsertBook implements Store.
func (c *RESTClient) InsertBook(ctx context.Context, b *Book) (string, error) {
	payload := *b
	payload.ID = ""
	payload.CreatedAt, payload.UpdatedAt = time.Time{}, time.Time{}
	row, err := insertRow(ctx, c, TableBooks, &payload)
	if err != nil {
		return "", err
	}
	*b = *row
	return b.ID, nil
}

// UpdateBook implements Store.
func (c *RESTClient) UpdateBook(ctx context.Context, b *Book) error {
	patch := Book{Name: b.Name, HobbyTemplate: b.HobbyTemplate, Icon: b.Icon, Color: b.Color}
	row, err := updateRow(ctx, c, TableBooks, b.ID, &patch)
	if err != nil {
		return err
	}
	*b = *row
	return nil
}

// DeleteBook implements Store.
func (c *RESTClient) DeleteBook(ctx context.Context, id string) error {
	return c.deleteRow(ctx, TableBooks, id)
}

// SelectBooks implements Store.
func (c *RESTClient) SelectBooks(ctx context.Context, q Query) ([]*Book, error) {
	return selectRows[Book](ctx, c, TableBooks, q)
}

// InsertCategory implements Store.
func (c *RESTClient) InsertCategory(ctx context.Context, cat *Category) (string, error) {
	payload := *cat
	payload.ID = ""
	payload.CreatedAt, payload.UpdatedAt = time.Time{}, time.Time{}
	row, err := insertRow(ctx, c, TableCategories, &payload)
	if err != nil {
		return "", err
	}
	*cat = *row
	return cat.ID, nil
}

// UpdateCategory implements Store.
func (c *RESTClient) UpdateCategory(ctx context.Context, cat *Category) error {
	patch := *cat
	patch.ID, patch.UserID = "", ""
	patch.CreatedAt, patch.UpdatedAt = time.Time{}, time.Time{}
	row, err := updateRow(ctx, c, TableCategories, cat.ID, &patch)
	if err != nil {
		return err
	}
	*cat = *row
	return nil
}

// DeleteCategory implements Store.
func (c *RESTClient) DeleteCategory(ctx context.Context, id string) error {
	return c.deleteRow(ctx, TableCategories, id)
}

// SelectCategories implements Store.
func (c *RESTClient) SelectCategories(ctx context.Context, q Query) ([]*Category, error) {
	return selectRows[Category](ctx, c, TableCategories, q)
}

// InsertTransaction implements Store.
func (c *RESTClient) InsertTransaction(ctx context.Context, t *Transaction) (string, error) {
	payload := *t
	payload.ID = ""
	payload.CreatedAt, payload.UpdatedAt = time.Time{}, time.Time{}
	row, err := insertRow(ctx, c, TableTransactions, &payload)
	if err != nil {
		return "", err
	}
	*t = *row
	return t.ID, nil
}

// UpdateTransaction implements Store.
func (c *RESTClient) UpdateTransaction(ctx context.Context, t *Transaction) error {
	patch := *t
	patch.ID, patch.UserID = "", ""
	patch.CreatedAt, patch.UpdatedAt = time.Time{}, time.Time{}
	row, err := updateRow(ctx, c, TableTransactions, t.ID, &patch)
	if err != nil {
		return err
	}
	*t = *row
	return nil
}

// DeleteTransaction implements Store.
func (c *RESTClient) DeleteTransaction(ctx context.Context, id string) error {
	return c.deleteRow(ctx, TableTransactions, id)
}

// SelectTransactions implements Store.
func (c *RESTClient) SelectTransactions(ctx context.Context, q Query) ([]*Transaction, error) {
	return selectRows[Transaction](ctx, c, TableTransactions, q)
}

// UpsertSetting implements Store.
func (c *RESTClient) UpsertSetting(ctx context.Context, s *Setting) error {
	payload := *s
	payload.UpdatedAt = time.Time{}
	params := url.Values{"on_conflict": {"user_id,key"}}
	resp, err := c.doRequest(ctx, http.MethodPost, TableSettings, params, &payload,
		"resolution=merge-duplicates,return=representation")
	if err != nil {
		return err
	}
	var rows []*Setting
	if err := decodeResponse(resp, &rows); err != nil {
		return fmt.Errorf("upsert setting %s: %w", s.Key, err)
	}
	if len(rows) > 0 {
		*s = *rows[0]
	}
	return nil
}

// SelectSettings implements Store.
func (c *RESTClient) SelectSettings(ctx context.Context, userID string) ([]*Setting, error) {
	params := url.Values{
		"select":  {"*"},
		"user_id": {"eq." + userID},
	}
	resp, err := c.doRequest(ctx, http.MethodGet, TableSettings, params, nil, "")
	if err != nil {
		return nil, err
	}
	var rows []*Setting
	if err := decodeResponse(resp, &rows); err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	return rows, nil
}
