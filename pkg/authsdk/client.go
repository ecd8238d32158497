package authsdk

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// SDKClient is a client for the authcore service. It covers the public
// endpoints and creates authenticated Sessions.
//
// The refresh credential is an HttpOnly cookie, so the HTTP client carries
// a cookie jar; one SDKClient behaves like one browser.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// CheckPermissions determines whether Session methods check the
	// permission snapshot of the access token before calling the API.
	// Set to false in tests to exercise the server-side checks.
	// Default: true
	CheckPermissions bool

	// UserAgent is sent with every request when set.
	UserAgent string
}

// NewSDKClient creates a new auth service client with permission checking enabled.
func NewSDKClient(baseURL string) *SDKClient {
	jar, _ := cookiejar.New(nil) // never fails without options

	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
		CheckPermissions: true, // Enabled by default
	}
}

// Login authenticates with a username or email and returns a Session.
// The refresh cookie lands in the client's jar.
func (c *SDKClient) Login(ctx context.Context, identifier, password string) (*Session, error) {
	return c.LoginWithDevice(ctx, identifier, password, "")
}

// LoginWithDevice is Login with a client generated device id.
func (c *SDKClient) LoginWithDevice(ctx context.Context, identifier, password, deviceID string) (*Session, error) {
	tokenResp, err := c.LoginRaw(ctx, LoginRequest{
		Identifier: identifier,
		Password:   password,
		DeviceID:   deviceID,
	})
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}

// LoginRaw posts req to /v1/auth/login and returns the decoded response.
func (c *SDKClient) LoginRaw(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := c.postJSON(ctx, "/v1/auth/login", req, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Refresh exchanges the refresh cookie for a new access token. The cookie
// is replaced in the jar.
func (c *SDKClient) Refresh(ctx context.Context) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := c.postJSON(ctx, "/v1/auth/refresh", nil, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// ResumeSession builds a Session from the refresh cookie already held in
// the jar.
func (c *SDKClient) ResumeSession(ctx context.Context) (*Session, error) {
	tokenResp, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}
