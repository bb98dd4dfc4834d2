// File: internal/infra/api/server.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
)

// Authorizer is the engine command surface the client endpoints consume.
type Authorizer interface {
	Activate(ctx context.Context, code, deviceID string) (*model.Grant, error)
	CheckStatus(ctx context.Context, deviceID string) (*model.Grant, error)
	Renew(ctx context.Context, code, deviceID string) (*model.Grant, error)
}

// Admin is the administrative command surface.
type Admin interface {
	GenerateCodes(ctx context.Context, tier model.Tier, count int) ([]string, error)
	RevokeCode(ctx context.Context, code string) error
	RevokeDevice(ctx context.Context, deviceID string) error
	ListCodes(ctx context.Context, filter repository.CodeFilter, page, pageSize int) ([]*model.ActivationCode, int, error)
	ListDevices(ctx context.Context, filter repository.DeviceFilter, page, pageSize int) ([]*model.Device, int, error)
	Stats(ctx context.Context) (map[model.CodeStatus]int, int, error)
}

// Server wires the HTTP routes to the engine. Transport only: every decision
// is made by the use cases, every denial travels as a Grant value.
type Server struct {
	authz          Authorizer
	admin          Admin
	auth           *AuthManager
	passwordHash   string
	requestTimeout time.Duration
	log            *zerolog.Logger
}

func NewServer(authz Authorizer, admin Admin, auth *AuthManager, passwordHash string, requestTimeout time.Duration, logger *zerolog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	srvLog := logger.With().Str("component", "api.Server").Logger()
	return &Server{
		authz:          authz,
		admin:          admin,
		auth:           auth,
		passwordHash:   passwordHash,
		requestTimeout: requestTimeout,
		log:            &srvLog,
	}
}

// Router builds the chi router with the standard middleware chain.
func (s *Server) Router(logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(TraceID(logger))
	r.Use(RequestLog(logger))
	r.Use(Timeout(s.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/activate", s.handleActivate)
		r.Post("/check_status", s.handleCheckStatus)
		r.Post("/renew", s.handleRenew)

		r.Post("/admin/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/admin/codes", s.handleGenerateCodes)
			r.Get("/admin/codes", s.handleListCodes)
			r.Get("/admin/devices", s.handleListDevices)
			r.Post("/admin/revoke", s.handleRevoke)
			r.Get("/admin/stats", s.handleStats)
		})
	})
	return r
}

// requireAdmin provides bearer-token authentication for the admin API.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.auth.secret) == 0 {
			s.log.Error().Msg("admin JWT secret is not configured")
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
