// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/elevation/internal/domain/elevation"
	"github.com/okian/elevation/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Point answers a point query against the tenant's sources.
	Point(ctx context.Context, tenant string, q elevation.PointQuery) (elevation.PointResponse, error)
	// Profile answers a profile query against the tenant's sources.
	Profile(ctx context.Context, tenant string, q elevation.ProfileQuery) (elevation.ProfileResponse, error)
	// Health reports whether the tenant's sources resolve.
	Health(ctx context.Context, tenant string) error
}

// Server wires HTTP routes for the elevation API.
type Server struct {
	elevationHandler *ElevationHandler
	profileHandler   *ProfileHandler
	healthHandler    *HealthHandler

	tenantHeader   string
	defaultTenant  string
	requestTimeout time.Duration
	logger         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTenantHeader sets the header that selects the tenant.
func WithTenantHeader(h string) Option {
	return func(s *Server) { s.tenantHeader = h }
}

// WithDefaultTenant sets the tenant used when the header is absent.
func WithDefaultTenant(t string) Option {
	return func(s *Server) { s.defaultTenant = t }
}

// WithRequestTimeout bounds every API request by d. It should stay below
// the server's write timeout so the client always gets a body.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		tenantHeader:  "X-Tenant",
		defaultTenant: "default",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}

	s.elevationHandler = NewElevationHandler(deps, s.logger)
	s.profileHandler = NewProfileHandler(deps, s.logger)
	s.healthHandler = NewHealthHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/getelevation", s.wrap(s.elevationHandler.HandleGetElevation, "getelevation"))
	mux.HandleFunc("/getheightprofile", s.wrap(s.profileHandler.HandleGetHeightProfile, "getheightprofile"))
	mux.HandleFunc("/ready", MetricsMiddleware(s.healthHandler.HandleReady, "ready"))
	mux.HandleFunc("/healthz", s.wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
}

func (s *Server) wrap(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return MetricsMiddleware(RequestMiddleware(TimeoutMiddleware(next, s.requestTimeout), s.tenantHeader, s.defaultTenant, s.logger), endpoint)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v before sending any header. When v cannot be encoded
// the client gets a 500 error body instead and the encoding error is returned.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: internalErrorMessage})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
	return err
}

// respond writes a 200 answer.
func respond(ctx context.Context, w http.ResponseWriter, l logger.Logger, v any) {
	if err := writeJSON(w, http.StatusOK, v); err != nil {
		l.Error(ctx, "failed to encode response", append(RequestFields(ctx), logger.Error(err))...)
	}
}

// writeError answers with the status of err's kind and its public message.
// Server side failures are logged with the request fields.
func writeError(ctx context.Context, w http.ResponseWriter, l logger.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		l.Error(ctx, "request failed", append(RequestFields(ctx), logger.Error(err))...)
	} else {
		l.Debug(ctx, "request rejected", append(RequestFields(ctx), logger.Error(err))...)
	}
	_ = writeJSON(w, status, errorResponse{Error: publicMessage(err)})
}
