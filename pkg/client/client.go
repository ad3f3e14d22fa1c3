// Package client is a Go client for the gridstore REST API.
//
// Errors returned by the server are decoded into *Error, which matches the
// models error sentinels with errors.Is:
//
//	c, _ := client.New("http://localhost:8080", client.WithToken(token))
//	vl, err := c.Get(ctx, network, models.KindVoltageLevel, "baz")
//	if errors.Is(err, models.ErrNotFound) {
//		...
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"evalgo.org/gridstore/internal/validation"
	"evalgo.org/gridstore/models"
)

// listPageSize is the page size used when walking a listing.
const listPageSize = 1000

// Client talks to one gridstore server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Error is a non-2xx answer of the server.
type Error struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"error_code"`
	Message    string            `json:"message"`
	Details    string            `json:"details"`
	Fields     map[string]string `json:"field_errors"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// Unwrap exposes the models sentinel named by the error code.
func (e *Error) Unwrap() error {
	return models.SentinelOf(e.Code)
}

type envelopes struct {
	Data []*models.Resource `json:"data"`
	Meta struct {
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
}

// Networks lists the networks known to the server.
func (c *Client) Networks(ctx context.Context) ([]*models.Resource, error) {
	return c.list(ctx, "/api/v1/networks", nil)
}

// CreateNetwork creates a network. A zero attrs.UUID lets the server pick one.
func (c *Client) CreateNetwork(ctx context.Context, attrs *models.NetworkAttributes) (*models.Resource, error) {
	if attrs == nil {
		attrs = &models.NetworkAttributes{}
	}
	var out envelopes
	in := &models.Resource{Kind: models.KindNetwork, Attributes: attrs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/networks", in, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != 1 {
		return nil, fmt.Errorf("expected one record, got %d", len(out.Data))
	}
	return out.Data[0], nil
}

// Get fetches the record (kind, id) of network.
func (c *Client) Get(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	var out envelopes
	if err := c.do(ctx, http.MethodGet, resourcePath(network, kind, id), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != 1 {
		return nil, fmt.Errorf("expected one record, got %d", len(out.Data))
	}
	return out.Data[0], nil
}

// List returns every record of kind in network, or only those held by
// container when it is not empty. Pages are fetched until the listing is
// complete.
func (c *Client) List(ctx context.Context, network uuid.UUID, kind models.Kind, container string) ([]*models.Resource, error) {
	query := url.Values{}
	if container != "" {
		query.Set("container", container)
	}
	return c.list(ctx, collectionPath(network, kind), query)
}

// Create stores resources of kind in one atomic batch and returns them as
// created, with generated ids filled in.
func (c *Client) Create(ctx context.Context, network uuid.UUID, kind models.Kind, resources ...*models.Resource) ([]*models.Resource, error) {
	var out envelopes
	if err := c.do(ctx, http.MethodPost, collectionPath(network, kind), resources, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Update applies a partial envelope to the record (kind, id).
func (c *Client) Update(ctx context.Context, network uuid.UUID, kind models.Kind, id string, patch map[string]any) (*models.Resource, error) {
	var out envelopes
	if err := c.do(ctx, http.MethodPut, resourcePath(network, kind, id), patch, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != 1 {
		return nil, fmt.Errorf("expected one record, got %d", len(out.Data))
	}
	return out.Data[0], nil
}

// Remove deletes the record (kind, id).
func (c *Client) Remove(ctx context.Context, network uuid.UUID, kind models.Kind, id string) error {
	return c.do(ctx, http.MethodDelete, resourcePath(network, kind, id), nil, nil)
}

// Validate checks a resource envelope on the server without storing it.
// A document that fails validation is not an error.
func (c *Client) Validate(ctx context.Context, document []byte) (*validation.ValidationResult, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/validate", bytes.NewReader(document))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, decodeError(resp)
	}
	var result validation.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values) ([]*models.Resource, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(listPageSize))

	var all []*models.Resource
	for {
		query.Set("offset", strconv.Itoa(len(all)))
		var page envelopes
		if err := c.do(ctx, http.MethodGet, path+"?"+query.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if len(page.Data) == 0 || len(all) >= page.Meta.TotalCount {
			return all, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to API: %w", err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}

func collectionPath(network uuid.UUID, kind models.Kind) string {
	return "/api/v1/networks/" + network.String() + "/" + kind.Path()
}

func resourcePath(network uuid.UUID, kind models.Kind, id string) string {
	return collectionPath(network, kind) + "/" + url.PathEscape(id)
}
