package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

const forgotMessage = "If an account exists for that address, we have sent instructions to it."

type RecoveryHandler struct {
	Recovery *service.RecoveryService
}

// HandleForgotPassword godoc
//
//	@Summary		Request Password Reset
//	@Description	Mails a single-use reset link if the address belongs to an active account.
//	@Description	The response is identical whether or not it does.
//	@Tags			Recovery
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ForgotRequest	true	"email"
//	@Success		200		{object}	authsdk.ForgotResponse	"message, masked_email"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited, reset_at"
//	@Router			/v1/password/forgot [post].
func (h *RecoveryHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.forgot(w, r, h.Recovery.RequestPasswordReset)
}

// HandleForgotUsername godoc
//
//	@Summary		Request Username Recovery
//	@Description	Mails a single-use username recovery link if the address belongs to an active account.
//	@Description	The response is identical whether or not it does.
//	@Tags			Recovery
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ForgotRequest	true	"email"
//	@Success		200		{object}	authsdk.ForgotResponse	"message, masked_email"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited, reset_at"
//	@Router			/v1/username/forgot [post].
func (h *RecoveryHandler) HandleForgotUsername(w http.ResponseWriter, r *http.Request) {
	h.forgot(w, r, h.Recovery.RequestUsernameRecovery)
}

type requestFunc func(ctx context.Context, email string, meta domain.RequestMeta) (service.RequestResult, error)

func (h *RecoveryHandler) forgot(w http.ResponseWriter, r *http.Request, request requestFunc) {
	req, err := httpx.DecodeAndValidate[authsdk.ForgotRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	res, err := request(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.ForgotResponse{
		Message:     forgotMessage,
		MaskedEmail: res.MaskedEmail,
	})
}

// HandleResetPassword godoc
//
//	@Summary		Reset Password
//	@Description	Consumes a reset token, sets the new password and signs the account out of every session.
//	@Tags			Recovery
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ResetPasswordRequest	true	"token, new_password"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request, invalid_password, invalid_token, expired_token, token_used"
//	@Router			/v1/password/reset [post].
func (h *RecoveryHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeAndValidate[authsdk.ResetPasswordRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.Recovery.ResetPassword(r.Context(), req.Token, req.NewPassword, requestMeta(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{
		Message: "Your password has been reset. Please log in again.",
	})
}

// HandleRecoverUsername godoc
//
//	@Summary		Recover Username
//	@Description	Consumes a username recovery token and reveals the username of its account.
//	@Tags			Recovery
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RecoverUsernameRequest	true	"token"
//	@Success		200		{object}	authsdk.RecoverUsernameResponse	"username"
//	@Failure		400		{object}	authsdk.ErrorResponse			"invalid_token, expired_token, token_used"
//	@Router			/v1/username/recover [post].
func (h *RecoveryHandler) HandleRecoverUsername(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeAndValidate[authsdk.RecoverUsernameRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	username, err := h.Recovery.RecoverUsername(r.Context(), req.Token, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RecoverUsernameResponse{Username: username})
}
