package httpx

import (
	"net/http"
	"strings"
)

// RequirePermission requires every listed permission in the caller's
// access claims. Must run after AuthnMiddleware.
func RequirePermission(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeBearerError(w)
				return
			}
			for _, p := range required {
				if !claims.HasPermission(p) {
					writeInsufficientScope(w, required...)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission requires at least one of the listed permissions.
func RequireAnyPermission(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeBearerError(w)
				return
			}
			for _, p := range required {
				if claims.HasPermission(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeInsufficientScope(w, required...)
		})
	}
}

func writeInsufficientScope(w http.ResponseWriter, required ...string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
	WriteError(w, http.StatusForbidden, "insufficient_scope", "The access token lacks a required permission.")
}
