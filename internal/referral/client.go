package referral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/backend-lab/internal/pricing"
	"github.com/noah-isme/backend-lab/internal/resilience"
)

var (
	// ErrNotFound indicates the backend has no referral source with the given id.
	ErrNotFound = errors.New("referral: source not found")
	// ErrUpstream wraps failures talking to the referral backend.
	ErrUpstream = errors.New("referral: upstream failure")
	// ErrReadOnly is returned by mutations when no backend is configured.
	ErrReadOnly = errors.New("referral: backend not configured")
)

// Backend is the referral-source store of record.
type Backend interface {
	List(ctx context.Context) ([]pricing.ReferralSource, error)
	Create(ctx context.Context, src pricing.ReferralSource) (pricing.ReferralSource, error)
	Update(ctx context.Context, id string, src pricing.ReferralSource) (pricing.ReferralSource, error)
	Delete(ctx context.Context, id string) error
}

// APIClient talks to the backend REST API under {BaseURL}/referral-sources.
type APIClient struct {
	BaseURL string
	Token   string
	HTTP    resilience.HTTPClient
}

func (c *APIClient) endpoint(id string) string {
	base := strings.TrimRight(c.BaseURL, "/") + "/referral-sources"
	if id == "" {
		return base
	}
	return base + "/" + url.PathEscape(id)
}

// List fetches every referral source. Both a bare array and a {"data": [...]}
// envelope are accepted.
func (c *APIClient) List(ctx context.Context) ([]pricing.ReferralSource, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint(""), nil)
	if err != nil {
		return nil, err
	}
	var sources []pricing.ReferralSource
	if err := decodeEnvelope(body, &sources); err != nil {
		return nil, fmt.Errorf("%w: decode list: %v", ErrUpstream, err)
	}
	return sources, nil
}

// Create posts a new referral source.
func (c *APIClient) Create(ctx context.Context, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	return c.write(ctx, http.MethodPost, c.endpoint(""), src)
}

// Update replaces the referral source with the given id.
func (c *APIClient) Update(ctx context.Context, id string, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	return c.write(ctx, http.MethodPut, c.endpoint(id), src)
}

// Delete removes the referral source with the given id.
func (c *APIClient) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint(id), nil)
	return err
}

func (c *APIClient) write(ctx context.Context, method, endpoint string, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	payload, err := json.Marshal(src)
	if err != nil {
		return pricing.ReferralSource{}, err
	}
	body, err := c.do(ctx, method, endpoint, payload)
	if err != nil {
		return pricing.ReferralSource{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return src, nil
	}
	var out pricing.ReferralSource
	if err := decodeEnvelope(body, &out); err != nil {
		return pricing.ReferralSource{}, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrUpstream, method, endpoint, resp.StatusCode)
	}
	return body, nil
}

func decodeEnvelope(body []byte, dst any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 {
			trimmed = env.Data
		}
	}
	return json.Unmarshal(trimmed, dst)
}
