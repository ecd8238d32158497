package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

type errorMapping struct {
	err    error
	status int
	desc   string
}

// publicErrors maps service sentinels onto responses. The code is the
// sentinel's text.
var publicErrors = []errorMapping{
	{service.ErrInvalidRequest, http.StatusBadRequest, "The request is malformed or missing required fields."},
	{service.ErrInvalidPassword, http.StatusBadRequest, "Passwords must be between 8 and 128 characters."},
	{service.ErrTokenInvalid, http.StatusBadRequest, "The link is invalid."},
	{service.ErrTokenExpired, http.StatusBadRequest, "The link has expired. Please request a new one."},
	{service.ErrTokenUsed, http.StatusBadRequest, "The link has already been used."},
	{service.ErrUsernameTaken, http.StatusConflict, "That username is already taken."},
	{service.ErrEmailTaken, http.StatusConflict, "An account with that email already exists."},
	{service.ErrInvitationNotFound, http.StatusNotFound, "Invitation not found."},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid username or password."},
	{service.ErrInvalidRefresh, http.StatusUnauthorized, "The session is no longer valid. Please log in again."},
	{service.ErrUnauthorized, http.StatusUnauthorized, "Authentication required."},
}

// writeServiceError writes the response for an error returned by a
// service. Anything unknown is a 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		writeRateLimited(w, rl)
		return
	}

	for _, m := range publicErrors {
		if errors.Is(err, m.err) {
			httpx.WriteJSON(w, m.status, authsdk.ErrorResponse{
				Error:            m.err.Error(),
				ErrorDescription: m.desc,
			})
			return
		}
	}

	slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
	writeServerError(w)
}

func writeServerError(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusInternalServerError, authsdk.ErrorResponse{
		Error:            authsdk.ErrorCodeServerError,
		ErrorDescription: "An internal error occurred.",
	})
}

func writeRateLimited(w http.ResponseWriter, rl *service.RateLimitError) {
	resetAt := rl.ResetAt.UTC()
	retryAfter := rl.RetryAfter(time.Now())

	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	httpx.WriteJSON(w, http.StatusTooManyRequests, authsdk.ErrorResponse{
		Error:            authsdk.ErrorCodeRateLimited,
		ErrorDescription: "Too many attempts. Please try again later.",
		ResetAt:          &resetAt,
	})
}

// writeDecodeError answers a body that DecodeAndValidate rejected.
func writeDecodeError(w http.ResponseWriter, err error) {
	resp := authsdk.ErrorResponse{
		Error:            authsdk.ErrorCodeInvalidRequest,
		ErrorDescription: "The request body is malformed.",
	}

	var verr *httpx.ValidationError
	if errors.As(err, &verr) {
		resp.ErrorDescription = "One or more fields are invalid."
		resp.Fields = verr.Fields
	}
	httpx.WriteJSON(w, http.StatusBadRequest, resp)
}
