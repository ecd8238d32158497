package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// requestMeta captures the caller context recorded with audit events and
// recovery tokens.
func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		IP:        httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func accountResponse(a domain.Account) authsdk.AccountResponse {
	perms := a.Permissions
	if perms == nil {
		perms = []string{}
	}
	return authsdk.AccountResponse{
		ID:          a.ID,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		Permissions: perms,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
	}
}
