package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

type AuditHandler struct {
	Sessions *service.SessionService
}

// ServeHTTP godoc
//
//	@Summary		List Audit Events
//	@Description	Returns security audit events, newest first.
//	@Tags			Audit
//	@Produce		json
//	@Security		BearerAuth
//	@Param			actor	query		string	false	"Actor account ID"
//	@Param			type	query		string	false	"Event type (e.g. login, failed_login)"
//	@Param			before	query		string	false	"RFC 3339 timestamp; only older events"
//	@Param			limit	query		int		false	"Page size (default 100, max 1000)"
//	@Success		200		{object}	authsdk.AuditListResponse
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		403		{object}	authsdk.ErrorResponse	"insufficient_scope"
//	@Router			/v1/audit [get].
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		ActorID: q.Get("actor"),
		Type:    domain.AuditEventType(q.Get("type")),
	}

	fields := map[string]string{}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fields["limit"] = "must be a positive integer"
		}
		f.Limit = n
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			fields["before"] = "must be an RFC 3339 timestamp"
		}
		f.Before = t
	}
	if len(fields) > 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ErrorResponse{
			Error:            authsdk.ErrorCodeInvalidRequest,
			ErrorDescription: "One or more query parameters are invalid.",
			Fields:           fields,
		})
		return
	}

	events, err := h.Sessions.ListAudit(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := authsdk.AuditListResponse{Events: make([]authsdk.AuditEventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, authsdk.AuditEventResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Type:      string(e.Type),
			Category:  string(e.Category),
			Success:   e.Success,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
