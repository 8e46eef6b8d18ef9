package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hatchup.org/internal/audit"
	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/document"
	"hatchup.org/internal/obs"
	"hatchup.org/internal/otp"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: проверка готовности: БД и общий кэш.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		return rp.Cache.Ping(ctx)
	}
	return nil
}

// Services are the domain services behind the HTTP layer.
type Services struct {
	Auth      *auth.Service
	OTP       *otp.Service
	Roles     *authz.RoleStore
	Gate      *authz.Gate
	Documents *document.Service
	Audit     *audit.Logger
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	logger     *zap.Logger

	auth      *auth.Service
	otp       *otp.Service
	roles     *authz.RoleStore
	gate      *authz.Gate
	documents *document.Service
	auditLog  *audit.Logger

	rateBurst  int
	ratePerSec int
	maxBody    int64
	proxies    Proxies
}

// Option configures API.
type Option func(*API)

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit sets the per-client token bucket applied to /v1/auth/.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lets the listed proxies report the client address.
func WithTrustedProxies(p Proxies) Option {
	return func(a *API) { a.proxies = p }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		logger:     zap.NewNop(),
		auth:       svc.Auth,
		otp:        svc.OTP,
		roles:      svc.Roles,
		gate:       svc.Gate,
		documents:  svc.Documents,
		auditLog:   svc.Audit,
		rateBurst:  10,
		ratePerSec: 5,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// аутентификация и OTP, с ограничением частоты
	authMux := http.NewServeMux()
	authMux.HandleFunc("/v1/auth/login", a.handleLogin)
	authMux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	authMux.HandleFunc("/v1/auth/otp/request", a.handleOTPRequest)
	authMux.HandleFunc("/v1/auth/otp/verify", a.handleOTPVerify)
	authMux.HandleFunc("/v1/auth/otp/exchange", a.handleOTPExchange)
	a.mux.Handle("/v1/auth/", RateLimit(authMux, a.rateBurst, a.ratePerSec))

	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.Handle("/v1/users/", a.RequireRoles(authz.RoleAdmin, authz.RoleSuperAdmin)(http.HandlerFunc(a.handleUserRoles)))
	a.mux.HandleFunc("/v1/documents", a.handleDocuments)
	a.mux.HandleFunc("/v1/documents/", a.handleDocument)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(a.logger)(h)
	h = RequestID(h)
	h = RealIP(a.proxies)(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "hatchup-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "hatchup-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(r *http.Request, event string, fields map[string]string) {
	if err := a.auditLog.LogEvent(r.Context(), event, fields); err != nil {
		a.logger.Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
