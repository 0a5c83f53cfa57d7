package marketbotsdk

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
	"time"
)

// Client is a minimal Marketbot operator API client.
type Client struct {
	BaseURL     string
	BasePath    string
	TenantID    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// JobStatus is a snapshot of one lifecycle job.
type JobStatus struct {
	Name           string         `json:"name"`
	State          string         `json:"state"`
	Sweeping       bool           `json:"sweeping"`
	NextRun        string         `json:"next_run,omitempty"`
	LastRun        string         `json:"last_run,omitempty"`
	LastDurationMS int64          `json:"last_duration_ms"`
	LastOutcomes   map[string]int `json:"last_outcomes,omitempty"`
	Runs           int64          `json:"runs"`
	SkippedTicks   int64          `json:"skipped_ticks"`
}

// SweepResult is what a manual sweep did with one listing.
type SweepResult struct {
	Listing string `json:"listing"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type Sweep struct {
	Job     string         `json:"job"`
	Counts  map[string]int `json:"counts"`
	Results []SweepResult  `json:"results"`
}

// Listing represents the API listing model (partial).
type Listing struct {
	TenantID   string `json:"tenant_id"`
	RoomID     string `json:"room_id"`
	ItemRef    string `json:"item_ref"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	SellerID   string `json:"seller_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	StartsAt   string `json:"starts_at"`
	EndsAt     string `json:"ends_at"`
}

// ListingFilter narrows Listings. Zero fields are not sent.
type ListingFilter struct {
	RoomID string
	Status string
	Kind   string
	Limit  int
}

// Event represents a log entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	TenantID string         `json:"tenant_id"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

// DecodedAction describes a component identifier.
type DecodedAction struct {
	Verb          string   `json:"verb"`
	Family        string   `json:"family"`
	Discriminator string   `json:"discriminator,omitempty"`
	Segments      []string `json:"segments"`
	Dialog        *struct {
		Title  string   `json:"title"`
		Fields []string `json:"fields"`
	} `json:"dialog,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Jobs returns the status of every lifecycle job.
func (c *Client) Jobs(ctx context.Context) ([]JobStatus, error) {
	var resp []JobStatus
	err := c.do(ctx, http.MethodGet, "jobs", nil, &resp)
	return resp, err
}

// RunJob sweeps the named job once. The token must carry the operator role.
func (c *Client) RunJob(ctx context.Context, name string) (Sweep, error) {
	var resp Sweep
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("jobs/%s/sweep", url.PathEscape(name)), nil, &resp)
	return resp, err
}

// Listings lists the tenant's listings.
func (c *Client) Listings(ctx context.Context, f ListingFilter) ([]Listing, error) {
	q := url.Values{}
	if f.RoomID != "" {
		q.Set("room_id", f.RoomID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Kind != "" {
		q.Set("kind", f.Kind)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	endpoint := c.tenantPath("listings")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Listing
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events for the tenant.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if evtType != "" {
		q.Set("type", evtType)
	}
	endpoint := c.tenantPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DecodeAction asks the server how it reads customID.
func (c *Client) DecodeAction(ctx context.Context, customID string) (DecodedAction, error) {
	var resp DecodedAction
	err := c.do(ctx, http.MethodPost, "actions/decode", map[string]string{"custom_id": customID}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	return fmt.Sprintf("tenants/%s/%s", url.PathEscape(c.TenantID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
