// Package client is a typed HTTP client for the atrium API. It keeps the
// session cookie and CSRF token across calls, so one client instance acts
// as one logged-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const csrfHeader = "X-CSRF-Token"

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	maxRetries uint64

	mu        sync.Mutex
	csrfToken string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxRetries bounds the retry loop for transient failures. Zero disables
// retries entirely.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		log:        zap.NewNop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("client: cookie jar: %w", err)
		}
		c.httpClient = &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		}
	}
	return c, nil
}

// CSRFToken returns the token captured from the last signup, login, or
// explicit fetch.
func (c *Client) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

func (c *Client) setCSRFToken(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	var resp SignupResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	c.setCSRFToken(resp.CSRFToken)
	return &resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &sess)
	if err != nil {
		return nil, err
	}
	if token, ok := sess.Metadata["csrf_token"].(string); ok {
		c.setCSRFToken(token)
	}
	return &sess, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()
	return nil
}

func (c *Client) Me(ctx context.Context) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// FetchCSRFToken refreshes the stored token from the server. SPAs call the
// same endpoint after a page reload.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/csrf", nil, &resp); err != nil {
		return "", err
	}
	c.setCSRFToken(resp.CSRFToken)
	return resp.CSRFToken, nil
}

func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/auth/change-password", ChangePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}, nil)
}

func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodPut, "/auth/profile", req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DeleteAccount removes the caller's account. When the user is the only
// owner of one or more organizations the server rejects the call; inspect
// the error with IsSoleOwnerConflict.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/auth/account", nil, nil)
}

func (c *Client) ListUserOrgs(ctx context.Context) ([]UserOrganization, error) {
	var resp struct {
		Orgs []UserOrganization `json:"orgs"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/user/orgs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orgs, nil
}

func (c *Client) UseOrg(ctx context.Context, orgID string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodPost, "/auth/user/using/"+url.PathEscape(orgID), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) CreateOrganization(ctx context.Context, name, description string) (*Organization, error) {
	var org Organization
	err := c.do(ctx, http.MethodPost, "/api/orgs", map[string]string{"name": name, "description": description}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (c *Client) ListOrganizations(ctx context.Context) ([]UserOrganization, error) {
	var resp struct {
		Data []UserOrganization `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orgs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	var org Organization
	if err := c.do(ctx, http.MethodGet, "/api/orgs/"+url.PathEscape(orgID), nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

func (c *Client) UpdateOrganization(ctx context.Context, orgID, name string) (*Organization, error) {
	var org Organization
	err := c.do(ctx, http.MethodPatch, "/api/orgs/"+url.PathEscape(orgID), map[string]string{"name": name}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (c *Client) DeleteOrganization(ctx context.Context, orgID string) error {
	return c.do(ctx, http.MethodDelete, "/api/orgs/"+url.PathEscape(orgID), nil, nil)
}

func (c *Client) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	var resp struct {
		Data []Member `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/orgs/"+url.PathEscape(orgID)+"/members", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) UpdateMemberRole(ctx context.Context, orgID, memberID, role string) error {
	path := "/api/orgs/" + url.PathEscape(orgID) + "/members/" + url.PathEscape(memberID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"role": role}, nil)
}

func (c *Client) RemoveMember(ctx context.Context, orgID, memberID string) error {
	path := "/api/orgs/" + url.PathEscape(orgID) + "/members/" + url.PathEscape(memberID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) InviteMembers(ctx context.Context, orgID string, invites []InviteRequest) ([]Invite, error) {
	var resp struct {
		Data []Invite `json:"data"`
	}
	path := "/api/orgs/" + url.PathEscape(orgID) + "/invites"
	err := c.do(ctx, http.MethodPost, path, map[string]any{"invites": invites}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListInvites(ctx context.Context, orgID string) ([]Invite, error) {
	var resp struct {
		Data []Invite `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/orgs/"+url.PathEscape(orgID)+"/invites", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) RevokeInvite(ctx context.Context, orgID, inviteID string) error {
	path := "/api/orgs/" + url.PathEscape(orgID) + "/invites/" + url.PathEscape(inviteID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) AcceptInvite(ctx context.Context, code string) (*Organization, error) {
	var org Organization
	err := c.do(ctx, http.MethodPost, "/api/invites/"+url.PathEscape(code)+"/accept", nil, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (c *Client) GetOnboarding(ctx context.Context) (*OnboardingProgress, error) {
	var progress OnboardingProgress
	if err := c.do(ctx, http.MethodGet, "/api/onboarding", nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (c *Client) CompleteOnboardingStep(ctx context.Context, step string) (*OnboardingProgress, error) {
	var progress OnboardingProgress
	err := c.do(ctx, http.MethodPut, "/api/onboarding", map[string]any{"step": step}, &progress)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (c *Client) SkipOnboardingStep(ctx context.Context, step string) (*OnboardingProgress, error) {
	var progress OnboardingProgress
	err := c.do(ctx, http.MethodPut, "/api/onboarding", map[string]any{"step": step, "skip": true}, &progress)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (c *Client) ListPlans(ctx context.Context) (*PlanCatalog, error) {
	var catalog PlanCatalog
	if err := c.do(ctx, http.MethodGet, "/api/plans", nil, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
	}

	operation := func() error {
		return c.doOnce(ctx, method, path, payload, out)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if token := c.CSRFToken(); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed, will retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		if retryableStatus(resp.StatusCode) {
			c.log.Warn("server error, will retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			return apiErr
		}
		return backoff.Permanent(error(apiErr))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("client: decode response: %w", err))
	}
	return nil
}

// retryableStatus reports whether a retry could plausibly succeed. Client
// errors are final; rate limits and transient upstream failures are not.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func decodeAPIError(status int, raw []byte) *APIError {
	var envelope struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Type == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(raw))}
	}
	apiErr := envelope.Error
	apiErr.StatusCode = status
	return &apiErr
}
