package authsdk

import (
	"context"
	"net/http"
)

// ForgotPassword asks for a password reset link for email. The answer is
// the same whether or not the address has an account.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) (*ForgotResponse, error) {
	var out ForgotResponse
	if err := c.postJSON(ctx, "/v1/password/forgot", ForgotRequest{Email: email}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword sets a new password using the token from a reset email.
func (c *SDKClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	req := ResetPasswordRequest{Token: token, NewPassword: newPassword}
	return c.postJSON(ctx, "/v1/password/reset", req, nil, http.StatusOK)
}

// ForgotUsername asks for a username recovery link for email.
func (c *SDKClient) ForgotUsername(ctx context.Context, email string) (*ForgotResponse, error) {
	var out ForgotResponse
	if err := c.postJSON(ctx, "/v1/username/forgot", ForgotRequest{Email: email}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecoverUsername redeems a username recovery token.
func (c *SDKClient) RecoverUsername(ctx context.Context, token string) (string, error) {
	var out RecoverUsernameResponse
	if err := c.postJSON(ctx, "/v1/username/recover", RecoverUsernameRequest{Token: token}, &out, http.StatusOK); err != nil {
		return "", err
	}
	return out.Username, nil
}

// AcceptInvitation creates the invited account.
func (c *SDKClient) AcceptInvitation(ctx context.Context, token, username, password string) (*AcceptInvitationResponse, error) {
	req := AcceptInvitationRequest{Token: token, Username: username, Password: password}

	var out AcceptInvitationResponse
	if err := c.postJSON(ctx, "/v1/invitations/accept", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}
