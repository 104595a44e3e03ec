package gateway

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
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	pathToken         = "/token"
	pathTokenRefresh  = "/token/refresh"
	pathProfile       = "/user/profile"
	pathPrivilegeList = "/privilege/list"

	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "goSession-gateway"
	maxResponseSize  = 1 << 20
)

// Client talks to the remote auth service. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger attaches a logger. Requests are logged at debug level without
// bodies or tokens.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New returns a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	var out Tokens
	status, err := c.do(ctx, c.http, http.MethodPost, pathToken, map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return Tokens{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Tokens{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return Tokens{}, fmt.Errorf("%w: token reply missing access or refresh", ErrMalformedResponse)
	}
	return out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	access, _, err := c.RefreshWithRotation(ctx, refreshToken)
	return access, err
}

// RefreshWithRotation is Refresh that also returns a rotated refresh token
// when the server sends one. The rotated token is empty otherwise.
func (c *Client) RefreshWithRotation(ctx context.Context, refreshToken string) (access, rotated string, err error) {
	var out Tokens
	status, err := c.do(ctx, c.http, http.MethodPost, pathTokenRefresh, map[string]string{
		"refresh": refreshToken,
	}, &out)
	if err != nil {
		switch status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return "", "", fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
		return "", "", err
	}
	if out.Access == "" {
		return "", "", fmt.Errorf("%w: refresh reply missing access", ErrMalformedResponse)
	}
	return out.Access, out.Refresh, nil
}

// Profile fetches the user behind accessToken.
func (c *Client) Profile(ctx context.Context, accessToken string) (Profile, error) {
	var out Profile
	status, err := c.do(ctx, c.bearerClient(accessToken), http.MethodGet, pathProfile, nil, &out)
	if err != nil {
		return Profile{}, bearerError(status, err)
	}
	if out.ID == "" {
		return Profile{}, fmt.Errorf("%w: profile reply missing id", ErrMalformedResponse)
	}
	return out, nil
}

// ListPrivileges returns the module-grouped privileges granted to roleID.
func (c *Client) ListPrivileges(ctx context.Context, accessToken string, roleID int) ([]ModulePrivileges, error) {
	var out privilegeListReply
	status, err := c.do(ctx, c.bearerClient(accessToken), http.MethodPost, pathPrivilegeList, map[string]int{
		"role_id": roleID,
	}, &out)
	if err != nil {
		return nil, bearerError(status, err)
	}
	if out.Results == nil {
		return nil, fmt.Errorf("%w: privilege reply missing results", ErrMalformedResponse)
	}

	groups := make([]ModulePrivileges, 0, len(out.Results))
	for _, r := range out.Results {
		if r.ModuleID == nil {
			return nil, fmt.Errorf("%w: privilege group missing module_id", ErrMalformedResponse)
		}
		g := ModulePrivileges{ModuleID: *r.ModuleID, Privileges: make([]string, 0, len(r.Privileges))}
		for _, p := range r.Privileges {
			if p.PrivilegeName != "" {
				g.Privileges = append(g.Privileges, p.PrivilegeName)
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (c *Client) bearerClient(accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: strings.TrimPrefix(accessToken, "Bearer "),
		TokenType:   "Bearer",
	})
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: c.http.Transport},
		Timeout:   c.http.Timeout,
	}
}

// do sends a JSON request and decodes a 2xx JSON reply into out. The returned
// status is zero when no response was received.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug().Str("method", method).Str("path", path).Err(err).Msg("auth request failed")
		return 0, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("auth request")
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: reading response: %v", ErrNetworkUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d", ErrNetworkUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return resp.StatusCode, nil
}

func bearerError(status int, err error) error {
	if status == http.StatusUnauthorized && !errors.Is(err, ErrMalformedResponse) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}
