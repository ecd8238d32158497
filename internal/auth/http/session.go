package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

type SessionHandler struct {
	Sessions *service.SessionService
	Cookie   CookieConfig
}

// HandleLogin godoc
//
//	@Summary		Log In
//	@Description	Authenticates with a username or email. Returns an access token in the body and
//	@Description	sets the refresh credential as an HttpOnly cookie. Every failure looks the same.
//	@Tags			Sessions
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"identifier, password, device_id"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, account"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited, reset_at"
//	@Router			/v1/auth/login [post].
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeAndValidate[authsdk.LoginRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	res, err := h.Sessions.Login(r.Context(), req.Identifier, req.Password, req.DeviceID, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeTokens(w, res)
}

// HandleRefresh godoc
//
//	@Summary		Refresh Session
//	@Description	Exchanges the refresh cookie for a new access token and a re-signed cookie.
//	@Tags			Sessions
//	@Produce		json
//	@Success		200	{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, account"
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_refresh_token"
//	@Router			/v1/auth/refresh [post].
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.Cookie.read(r)
	if !ok {
		writeServiceError(w, r, service.ErrInvalidRefresh)
		return
	}

	res, err := h.Sessions.Refresh(r.Context(), raw, requestMeta(r))
	if err != nil {
		h.Cookie.clear(w)
		writeServiceError(w, r, err)
		return
	}
	h.writeTokens(w, res)
}

func (h *SessionHandler) writeTokens(w http.ResponseWriter, res service.LoginResult) {
	h.Cookie.set(w, res.Refresh)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: res.Access.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   int(res.Access.TTL().Seconds()),
		Account:     accountResponse(res.Account),
	})
}

// HandleLogout godoc
//
//	@Summary		Log Out
//	@Description	Revokes the session behind the refresh cookie and clears it. Always succeeds.
//	@Tags			Sessions
//	@Success		204
//	@Router			/v1/auth/logout [post].
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if raw, ok := h.Cookie.read(r); ok {
		if err := h.Sessions.Logout(r.Context(), raw, requestMeta(r)); err != nil {
			slogx.FromContext(r.Context()).Info("logout with unusable refresh cookie", "err", err)
		}
	}

	h.Cookie.clear(w)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll godoc
//
//	@Summary		Log Out Everywhere
//	@Description	Revokes every session of the authenticated account.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_token"
//	@Router			/v1/auth/logout-all [post].
func (h *SessionHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	accountID := httpx.UserIDFromContext(r.Context())
	if err := h.Sessions.LogoutAll(r.Context(), accountID, requestMeta(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.Cookie.clear(w)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe godoc
//
//	@Summary		Current Account
//	@Description	Returns the account behind the access token.
//	@Tags			Sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.AccountResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		403	{object}	authsdk.ErrorResponse	"insufficient_scope"
//	@Router			/v1/me [get].
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Sessions.CurrentAccount(r.Context(), httpx.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(acct))
}
