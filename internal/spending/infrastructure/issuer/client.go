// Package issuer talks to the card-issuing platform's authorization rule API.
package issuer

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

	"cardcrm/internal/common/logging"
	"cardcrm/internal/spending/domain"
)

// APIError is a non-2xx response from the issuer.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("issuer API error: status %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("issuer API error: status %d: %s: %s", e.Status, e.Title, e.Detail)
}

// Client is an HTTP client for the issuer's auth rule endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new issuer API client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type spendLimit struct {
	Daily            *int64 `json:"daily,omitempty"`
	Monthly          *int64 `json:"monthly,omitempty"`
	PerAuthorization *int64 `json:"per_authorization,omitempty"`
}

type conditions struct {
	SpendLimit spendLimit `json:"spend_limit"`
	AllowedMCC []string   `json:"allowed_mcc"`
	BlockedMCC []string   `json:"blocked_mcc"`
}

type ruleParameters struct {
	Conditions conditions `json:"conditions"`
}

type ruleRequest struct {
	Parameters ruleParameters `json:"parameters"`
}

type ruleResponse struct {
	Token string `json:"token"`
}

type cardTokensRequest struct {
	CardTokens []string `json:"card_tokens"`
}

func newRuleRequest(spec domain.RuleSpec) ruleRequest {
	return ruleRequest{Parameters: ruleParameters{Conditions: conditions{
		SpendLimit: spendLimit{
			Daily:            spec.DailyLimitMinorUnits,
			Monthly:          spec.MonthlyLimitMinorUnits,
			PerAuthorization: spec.PerTransactionLimitMinorUnits,
		},
		AllowedMCC: nonNil(spec.AllowedCategories),
		BlockedMCC: nonNil(spec.BlockedCategories),
	}}}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateRule creates an auth rule and returns its token.
func (c *Client) CreateRule(ctx context.Context, spec domain.RuleSpec) (domain.RuleHandle, error) {
	var resp ruleResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth_rules", newRuleRequest(spec), &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("issuer returned no rule token")
	}
	return domain.RuleHandle(resp.Token), nil
}

// UpdateRule replaces the parameters of an existing rule.
func (c *Client) UpdateRule(ctx context.Context, handle domain.RuleHandle, spec domain.RuleSpec) (domain.RuleHandle, error) {
	var resp ruleResponse
	if err := c.do(ctx, http.MethodPut, rulePath(handle), newRuleRequest(spec), &resp); err != nil {
		return "", err
	}
	return domain.RuleHandle(resp.Token), nil
}

// DeleteRule removes a rule.
func (c *Client) DeleteRule(ctx context.Context, handle domain.RuleHandle) error {
	return c.do(ctx, http.MethodDelete, rulePath(handle), nil, nil)
}

// AttachRuleToCard applies a rule to a card.
func (c *Client) AttachRuleToCard(ctx context.Context, handle domain.RuleHandle, cardToken string) error {
	return c.do(ctx, http.MethodPost, rulePath(handle)+"/apply", cardTokensRequest{CardTokens: []string{cardToken}}, nil)
}

// DetachRuleFromCard removes a rule from a card.
func (c *Client) DetachRuleFromCard(ctx context.Context, handle domain.RuleHandle, cardToken string) error {
	return c.do(ctx, http.MethodPost, rulePath(handle)+"/remove", cardTokensRequest{CardTokens: []string{cardToken}}, nil)
}

func rulePath(handle domain.RuleHandle) string {
	return "/v1/auth_rules/" + url.PathEscape(handle.String())
}

// do makes an authenticated JSON request and decodes the response into target.
func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logging.DebugContext(ctx, "issuer API request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Title: http.StatusText(status)}
	var payload struct {
		Title   string `json:"title"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Title != "" {
			apiErr.Title = payload.Title
		}
		apiErr.Detail = payload.Detail
		if apiErr.Detail == "" {
			apiErr.Detail = payload.Message
		}
	}
	return apiErr
}

// Verify interface implementation.
var _ domain.RulePlatform = (*Client)(nil)
