package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"worklane.org/internal/obs"
	"worklane.org/internal/rbac"
	"worklane.org/internal/stream"
	"worklane.org/internal/tracking"
)

// ReadyProbe reports whether the service can take traffic (DB ping when a
// database is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authorization kernel and session tracker.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	rbac     *rbac.Service
	tracking *tracking.Service
	stream   *stream.Stream

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, rbacSvc *rbac.Service, trackingSvc *tracking.Service, streamSvc *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		rbac:       rbacSvc,
		tracking:   trackingSvc,
		stream:     streamSvc,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/modules", a.handleModules)
	a.mux.HandleFunc("/v1/modules/delete", a.handleModulesDelete)
	a.mux.HandleFunc("/v1/modules/", a.handleModuleResource)
	a.mux.HandleFunc("/v1/companies", a.handleCompanies)
	a.mux.HandleFunc("/v1/companies/", a.handleCompanyResource)

	a.mux.HandleFunc("/v1/sessions", a.handleSessions)
	a.mux.HandleFunc("/v1/sessions/sync", a.handleSessionsSync)
	a.mux.HandleFunc("/v1/sessions/active", a.handleSessionActive)
	a.mux.HandleFunc("/v1/sessions/stream", a.handleSessionStream)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)
	a.mux.HandleFunc("/v1/trackers", a.handleTrackers)
	a.mux.HandleFunc("/v1/daily-logs", a.handleDailyLogs)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics on the outside, then
// hardening, request id and logging, rate limiting, and bearer auth closest
// to the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}
