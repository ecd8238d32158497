/*
Package authsdk provides a client SDK for the authcore authentication service.

# SDKClient vs Session

  - SDKClient: public endpoints (health, recovery, invitation acceptance) and login
  - Session: authenticated endpoints with automatic access token refresh

Create an SDKClient and log in:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.Login(ctx, "alice", "correct horse battery staple")
	if authsdk.IsCode(err, authsdk.ErrorCodeRateLimited) {
		// back off; the *APIError carries ResetAt and RetryAfter
	}

	me, err := session.Me(ctx)

# Refresh Cookie

The service returns the refresh credential as an HttpOnly cookie scoped to
/v1/auth. NewSDKClient installs a cookie jar, so a client behaves like a
single browser: Session methods refresh through the cookie when the access
token is about to expire, and Session.Logout revokes it.

# Recovery

Recovery requests always succeed with the same body, whether or not the
address has an account:

	res, err := client.ForgotPassword(ctx, "alice@example.com")
	fmt.Println(res.MaskedEmail) // a***e@example.com

	// later, with the token from the email
	err = client.ResetPassword(ctx, token, "a new password")

Token errors are reported with the codes invalid_token, expired_token and
token_used.

# Thread Safety

Sessions are safe for concurrent use. Sessions created from the same
SDKClient share its cookie jar.
*/
package authsdk
