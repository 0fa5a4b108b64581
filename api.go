package sessiongate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Default endpoint paths on the platform API.
const (
	defaultMePath             = "/api/v1/users/me"
	defaultLoginPath          = "/api/v1/auth/login"
	defaultChangePasswordPath = "/api/v1/auth/change-password"
	defaultOTPSendPath        = "/api/v1/auth/otp/send"
	defaultOTPVerifyPath      = "/api/v1/auth/otp/verify"
)

// APIClient talks to the remote platform API. It implements IdentityAPI for
// the session machine and VerificationAPI for the email verification flow.
type APIClient struct {
	serverURL  string
	httpClient *http.Client
}

// APIOption configures an APIClient.
type APIOption func(*APIClient)

// WithHTTPClient sets a custom HTTP client (for timeouts, TLS config, etc.)
func WithHTTPClient(client *http.Client) APIOption {
	return func(c *APIClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewAPIClient creates a client for the platform API at serverURL.
func NewAPIClient(serverURL string, opts ...APIOption) *APIClient {
	// Normalize server URL down to scheme://host
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &APIClient{
		serverURL:  serverURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the server URL this client is configured for.
func (c *APIClient) ServerURL() string { return c.serverURL }

// loginResponse is the body returned by the login endpoint.
type loginResponse struct {
	Token string       `json:"token"`
	User  *UserProfile `json:"user"`
}

// apiMessage is the error body shape used across the platform API.
type apiMessage struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Me revalidates the token against the identity endpoint and returns the
// current user profile.
func (c *APIClient) Me(ctx context.Context, token string) (*UserProfile, error) {
	var user UserProfile
	if err := c.do(ctx, http.MethodGet, defaultMePath, token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a token and profile.
func (c *APIClient) Login(ctx context.Context, email, password string) (string, *UserProfile, error) {
	body := map[string]string{"email": email, "password": password}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, defaultLoginPath, "", body, &resp); err != nil {
		return "", nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return "", nil, fmt.Errorf("%w: login response missing token or user", ErrNetwork)
	}
	return resp.Token, resp.User, nil
}

// ChangePassword updates the password for the user the token belongs to.
func (c *APIClient) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	body := map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, defaultChangePasswordPath, token, body, nil)
}

// SendVerificationCode asks the API to issue an OTP to the given email.
func (c *APIClient) SendVerificationCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, defaultOTPSendPath, "", map[string]string{"email": email}, nil)
}

// VerifyEmailCode submits an OTP for verification.
func (c *APIClient) VerifyEmailCode(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "code": code}
	return c.do(ctx, http.MethodPost, defaultOTPVerifyPath, "", body, nil)
}

// do runs one API call: JSON request body, bearer token when given, JSON
// response decoded into out when non-nil. Failures come back classified into
// the error taxonomy with the server message attached.
func (c *APIClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apiError{kind: ErrNetwork, cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apiError{kind: ErrNetwork, cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return nil
}

// classifyStatus maps an API failure response onto the error taxonomy,
// carrying the server-provided message when there is one.
func classifyStatus(status int, body []byte) error {
	var msg apiMessage
	_ = json.Unmarshal(body, &msg)
	message := msg.Message
	if message == "" {
		message = msg.Error
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuthorization
	case status == http.StatusConflict:
		kind = ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = ErrValidation
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		kind = ErrNetwork
	default:
		kind = ErrProvider
	}
	return &apiError{kind: kind, message: message}
}

// AuthTransport is an http.RoundTripper that adds the session's bearer token
// to outgoing requests. Use it to call the platform API from view code:
//
//	httpClient := &http.Client{Transport: sessiongate.NewAuthTransport(machine)}
type AuthTransport struct {
	Base    http.RoundTripper
	Machine *Machine
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if token := t.Machine.Token(); token != "" {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+token)
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport reading tokens from the machine.
func NewAuthTransport(machine *Machine) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Machine: machine}
}
