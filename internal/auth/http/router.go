package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"

	_ "github.com/aussiebroadwan/authcore/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	credentials  service.Credentials
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store
	profiles     httpx.Profiles

	RecoveryService *service.RecoveryService
	SessionService  *service.SessionService

	// Cookie shapes the refresh cookie. Defaults to DefaultCookieConfig.
	Cookie CookieConfig

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// TrustedProxies are the peers whose forwarding headers name the
	// caller. Requests from anyone else are keyed on the socket address.
	TrustedProxies httpx.TrustedProxies
}

func NewRouter(
	creds service.Credentials,
	buildVersion string,
	st store.Store,
	profiles httpx.Profiles,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		credentials:  creds,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		profiles:     profiles,
		logger:       logger,
		Cookie:       DefaultCookieConfig(),
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recoverer,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.middlewares = append([]httpx.Middleware{httpx.RealIP(r.TrustedProxies)}, r.middlewares...)

	r.registerRecovery()
	r.registerInvitations()
	r.registerSessions()
	r.registerAudit()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authcore Authentication Service API
//	@version		0.1.0
//	@description	Session credentials and account recovery. Access tokens are HS256 JWTs sent as
//	@description	bearer tokens; refresh credentials live in an HttpOnly cookie scoped to /v1/auth.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authcore
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerRecovery() {
	h := &RecoveryHandler{Recovery: r.RecoveryService}

	// Request endpoints carry their own per-email and per-IP budgets in the
	// service; a coarse throttle here would make known and unknown
	// addresses distinguishable.
	r.Mux.HandleFunc("POST /v1/password/forgot", h.HandleForgotPassword)
	r.Mux.HandleFunc("POST /v1/username/forgot", h.HandleForgotUsername)

	// Token consumption - strict rate limit by IP (guessing tokens)
	r.Mux.Handle("POST /v1/password/reset",
		httpx.Chain(http.HandlerFunc(h.HandleResetPassword),
			httpx.RateLimitByIP(r.profiles.Strict),
		),
	)
	r.Mux.Handle("POST /v1/username/recover",
		httpx.Chain(http.HandlerFunc(h.HandleRecoverUsername),
			httpx.RateLimitByIP(r.profiles.Strict),
		),
	)
}

func (r *Router) registerInvitations() {
	h := &InvitationsHandler{Recovery: r.RecoveryService}

	// Admin operations - moderate rate limit by user
	securedCreate := httpx.Chain(http.HandlerFunc(h.HandleCreate),
		httpx.AuthnMiddleware(r.credentials),
		httpx.RequirePermission(domain.PermInvitationsWrite),
		httpx.RateLimitByUser(r.profiles.Moderate),
	)
	securedResend := httpx.Chain(http.HandlerFunc(h.HandleResend),
		httpx.AuthnMiddleware(r.credentials),
		httpx.RequirePermission(domain.PermInvitationsWrite),
		httpx.RateLimitByUser(r.profiles.Moderate),
	)

	r.Mux.Handle("POST /v1/invitations", securedCreate)
	r.Mux.Handle("POST /v1/invitations/{id}/resend", securedResend)

	// POST /invitations/accept - strict rate limit by IP (public signup endpoint)
	r.Mux.Handle("POST /v1/invitations/accept",
		httpx.Chain(http.HandlerFunc(h.HandleAccept),
			httpx.RateLimitByIP(r.profiles.Strict),
		),
	)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{Sessions: r.SessionService, Cookie: r.Cookie}

	// Login - lenient by IP; the per-identifier budget lives in the service
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(r.profiles.Lenient),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.profiles.Moderate),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(r.profiles.Moderate),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout-all",
		httpx.Chain(http.HandlerFunc(h.HandleLogoutAll),
			httpx.AuthnMiddleware(r.credentials),
			httpx.RateLimitByUser(r.profiles.Moderate),
		),
	)

	// Authenticated read - lenient rate limit by user
	r.Mux.Handle("GET /v1/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.AuthnMiddleware(r.credentials),
			httpx.RequirePermission(domain.PermProfileRead),
			httpx.RateLimitByUser(r.profiles.Lenient),
		),
	)
}

func (r *Router) registerAudit() {
	h := &AuditHandler{Sessions: r.SessionService}

	r.Mux.Handle("GET /v1/audit",
		httpx.Chain(h,
			httpx.AuthnMiddleware(r.credentials),
			httpx.RequirePermission(domain.PermAuditRead),
			httpx.RateLimitByUser(r.profiles.Moderate),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - public rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.profiles.Public),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.credentials),
			httpx.RateLimitByIP(r.profiles.Public),
		),
	)

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics)
	}
}
