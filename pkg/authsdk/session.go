package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Session represents an authenticated session with automatic token refresh.
// All Session methods automatically handle token expiration and refresh when needed.
type Session struct {
	client *SDKClient

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
	account     AccountResponse
	permissions map[string]bool // Granted permissions for fast lookup
}

// newSession creates a new authenticated session from a token response.
func newSession(client *SDKClient, tokenResp *TokenResponse) *Session {
	s := &Session{client: client}
	s.apply(tokenResp)
	return s
}

// apply stores a token response. Callers hold the write lock or own s.
func (s *Session) apply(tokenResp *TokenResponse) {
	// Subtract 30 seconds buffer to refresh before actual expiry
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second)
	s.accessToken = tokenResp.AccessToken
	s.account = tokenResp.Account

	s.permissions = make(map[string]bool, len(tokenResp.Account.Permissions))
	for _, p := range tokenResp.Account.Permissions {
		s.permissions[p] = true
	}
}

// getValidToken returns a valid access token, automatically refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	// Token expired, need to refresh
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed)
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	tokenResp, err := s.client.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(tokenResp)

	return s.accessToken, nil
}

// AccessToken returns the current access token without checking expiration.
// For most use cases, prefer using the Session methods which handle refresh automatically.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Account returns the account snapshot from the last login or refresh.
func (s *Session) Account() AccountResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// HasPermission returns true if the session has the specified permission.
func (s *Session) HasPermission(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permissions[perm]
}

// checkPermissions returns an error if permission checking is enabled and
// any of required is missing.
func (s *Session) checkPermissions(required ...string) error {
	if !s.client.CheckPermissions || len(required) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, perm := range required {
		if !s.permissions[perm] {
			missing = append(missing, perm)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required permission(s): %s", strings.Join(missing, ", "))
	}

	return nil
}

// ============================================================================
// Account
// ============================================================================

// Me returns the account behind the session.
// Requires: profile:read
func (s *Session) Me(ctx context.Context) (*AccountResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/me", nil, "profile:read")
	if err != nil {
		return nil, err
	}

	var out AccountResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session's refresh cookie. The access token stays
// valid until it expires.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.client.doRequest(ctx, http.MethodPost, "/v1/auth/logout", nil, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// LogoutAll revokes every session of the account.
func (s *Session) LogoutAll(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout-all", nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// ============================================================================
// Administration
// ============================================================================

// CreateInvitation invites email to join with role.
// Requires: invitations:write
func (s *Session) CreateInvitation(ctx context.Context, email, role string) (*InvitationResponse, error) {
	req := CreateInvitationRequest{Email: email, Role: role}
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/invitations", req, "invitations:write")
	if err != nil {
		return nil, err
	}

	var out InvitationResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendInvitation mails a fresh link for a pending invitation.
// Requires: invitations:write
func (s *Session) ResendInvitation(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/invitations/"+url.PathEscape(id)+"/resend", nil, "invitations:write")
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusAccepted)
}

// ListAudit returns audit events matching q, newest first.
// Requires: audit:read
func (s *Session) ListAudit(ctx context.Context, q AuditQuery) ([]AuditEventResponse, error) {
	params := url.Values{}
	if q.ActorID != "" {
		params.Set("actor", q.ActorID)
	}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if !q.Before.IsZero() {
		params.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	path := "/v1/audit"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, "audit:read")
	if err != nil {
		return nil, err
	}

	var out AuditListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Events, nil
}
