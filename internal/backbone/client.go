// Package backbone is the HTTP client for the remote persistence and
// authorization service. The register owns no durable state; sessions,
// catalog, fund sources, and committed transactions all live behind this
// client.
package backbone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/commission"
	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Client talks to the backbone over HTTP with retry and circuit breaking.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *resilience.HTTPClient
	Logger  zerolog.Logger
}

// SearchItems returns catalog candidates for a scan token or manual query.
// The backbone already filters to sellable items (in stock or service).
func (c *Client) SearchItems(ctx context.Context, locationID, query string) ([]Item, error) {
	endpoint := fmt.Sprintf("/v1/locations/%s/items?q=%s", url.PathEscape(locationID), url.QueryEscape(query))
	var out struct {
		Items []Item `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SubmitTransaction commits the assembled transaction as one atomic request.
func (c *Client) SubmitTransaction(ctx context.Context, payload SubmitPayload) (TransactionRecord, error) {
	var record TransactionRecord
	if err := c.call(ctx, http.MethodPost, "/v1/transactions", payload, &record); err != nil {
		return TransactionRecord{}, err
	}
	return record, nil
}

// ActiveSession returns the calling actor's open session, or nil when none
// exists. The actor is identified by the forwarded bearer token.
func (c *Client) ActiveSession(ctx context.Context) (*Session, error) {
	var out struct {
		Session *Session `json:"session"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/sessions/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// OpenSessions lists every open session at the location. Standard actors get
// at most their own; privileged actors see all of them.
func (c *Client) OpenSessions(ctx context.Context, locationID string) ([]Session, error) {
	endpoint := fmt.Sprintf("/v1/locations/%s/sessions?state=open", url.PathEscape(locationID))
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// OpenSession asks the backbone to open a drawer session with the provided
// opening balances keyed by fund source id.
func (c *Client) OpenSession(ctx context.Context, locationID string, openingBalances map[string]int64) (*Session, error) {
	endpoint := fmt.Sprintf("/v1/locations/%s/sessions", url.PathEscape(locationID))
	body := map[string]any{"openingBalances": openingBalances}
	var out struct {
		Session *Session `json:"session"`
	}
	if err := c.call(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// CloseSession asks the backbone to close the actor's session at the
// location, reconciling the provided closing balances.
func (c *Client) CloseSession(ctx context.Context, locationID string, closingBalances map[string]int64) error {
	endpoint := fmt.Sprintf("/v1/locations/%s/sessions/close", url.PathEscape(locationID))
	body := map[string]any{"closingBalances": closingBalances}
	return c.call(ctx, http.MethodPost, endpoint, body, nil)
}

// CommissionTiers fetches the fee schedule of a bank account.
func (c *Client) CommissionTiers(ctx context.Context, accountID string) ([]commission.Tier, error) {
	endpoint := fmt.Sprintf("/v1/accounts/%s/commission-tiers", url.PathEscape(accountID))
	var out struct {
		Tiers []commission.Tier `json:"tiers"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Tiers, nil
}

// FundSources lists the drawers, accounts, and terminals usable at the
// location, with defaults marked.
func (c *Client) FundSources(ctx context.Context, locationID string) ([]FundSource, error) {
	endpoint := fmt.Sprintf("/v1/locations/%s/fund-sources", url.PathEscape(locationID))
	var out struct {
		FundSources []FundSource `json:"fundSources"`
	}
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.FundSources, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	if c == nil || c.HTTP == nil {
		return fmt.Errorf("backbone: client not configured")
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backbone: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	target := strings.TrimRight(c.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("backbone: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if token := bearerTokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("backbone: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backbone: decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	remote := &RemoteError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error RemoteError `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		remote.Code = envelope.Error.Code
		remote.Message = envelope.Error.Message
	} else {
		c.Logger.Debug().Int("status", resp.StatusCode).Msg("backbone returned non-json error body")
	}
	return remote
}

type bearerTokenKey struct{}

// WithBearerToken stores the actor's raw token so outbound backbone calls can
// forward it.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if strings.TrimSpace(token) == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

func bearerTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey{}).(string)
	return token
}
