package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

type InvitationsHandler struct {
	Recovery *service.RecoveryService
}

// HandleCreate godoc
//
//	@Summary		Create Invitation
//	@Description	Records a pending account for email and mails it an activation link.
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		authsdk.CreateInvitationRequest	true	"email, role"
//	@Success		201		{object}	authsdk.InvitationResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		403		{object}	authsdk.ErrorResponse	"insufficient_scope"
//	@Failure		409		{object}	authsdk.ErrorResponse	"email_taken"
//	@Router			/v1/invitations [post].
func (h *InvitationsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeAndValidate[authsdk.CreateInvitationRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	actor := httpx.UserIDFromContext(r.Context())
	inv, err := h.Recovery.CreateInvitation(r.Context(), actor, req.Email, req.Role, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.InvitationResponse{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt,
	})
}

// HandleResend godoc
//
//	@Summary		Resend Invitation
//	@Description	Mails a fresh activation link and extends the invitation. Earlier links stop working.
//	@Tags			Invitations
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Invitation ID"
//	@Success		202	{object}	authsdk.MessageResponse
//	@Failure		404	{object}	authsdk.ErrorResponse	"invitation_not_found"
//	@Failure		409	{object}	authsdk.ErrorResponse	"token_used"
//	@Router			/v1/invitations/{id}/resend [post].
func (h *InvitationsHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := httpx.UserIDFromContext(r.Context())

	err := h.Recovery.ResendInvitation(r.Context(), actor, id, requestMeta(r))
	if errors.Is(err, service.ErrTokenUsed) {
		writeConflict(w, err, "The invitation has already been accepted.")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, authsdk.MessageResponse{Message: "Invitation sent."})
}

// HandleAccept godoc
//
//	@Summary		Accept Invitation
//	@Description	Consumes an invitation token and creates the account. Exactly one of several
//	@Description	concurrent submissions of a token succeeds.
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.AcceptInvitationRequest		true	"token, username, password"
//	@Success		201		{object}	authsdk.AcceptInvitationResponse	"account_id, username"
//	@Failure		400		{object}	authsdk.ErrorResponse				"invalid_request, invalid_password, invalid_token, expired_token"
//	@Failure		409		{object}	authsdk.ErrorResponse				"token_used, username_taken"
//	@Router			/v1/invitations/accept [post].
func (h *InvitationsHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeAndValidate[authsdk.AcceptInvitationRequest](r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	acct, err := h.Recovery.AcceptInvitation(r.Context(), req.Token, req.Username, req.Password, requestMeta(r))
	if errors.Is(err, service.ErrTokenUsed) {
		writeConflict(w, err, "The invitation has already been accepted.")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.AcceptInvitationResponse{
		AccountID: acct.ID,
		Username:  acct.Username,
	})
}

func writeConflict(w http.ResponseWriter, err error, desc string) {
	httpx.WriteJSON(w, http.StatusConflict, authsdk.ErrorResponse{
		Error:            err.Error(),
		ErrorDescription: desc,
	})
}
