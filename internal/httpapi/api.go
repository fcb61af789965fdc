// Package httpapi is the HTTP surface of the governance core. Handlers stay
// thin: decode, call the domain service, map errors. All policy lives below.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"taxdesk.org/internal/access"
	"taxdesk.org/internal/audit"
	"taxdesk.org/internal/auth"
	"taxdesk.org/internal/obs"
	"taxdesk.org/internal/sla"
	"taxdesk.org/internal/workflow"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the domain services the API fronts.
type Deps struct {
	Identities *auth.Identities
	Authority  *access.Authority
	Workflows  *workflow.Service
	Ledger     audit.Ledger
	Engine     *sla.Engine
	Scheduler  *sla.Scheduler
	Threads    sla.ThreadStore
	Reminders  sla.ReminderStore
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identities *auth.Identities
	authority  *access.Authority
	workflows  *workflow.Service
	ledger     audit.Ledger
	engine     *sla.Engine
	scheduler  *sla.Scheduler
	threads    sla.ThreadStore
	reminders  sla.ReminderStore

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identities: deps.Identities,
		authority:  deps.Authority,
		workflows:  deps.Workflows,
		ledger:     deps.Ledger,
		engine:     deps.Engine,
		scheduler:  deps.Scheduler,
		threads:    deps.Threads,
		reminders:  deps.Reminders,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/identities", a.handleIdentities)

	a.mux.HandleFunc("/v1/entities", a.handleEntities)
	a.mux.HandleFunc("/v1/entities/", a.handleEntityScoped)

	a.mux.HandleFunc("/v1/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/v1/grants", a.handleGrants)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)

	a.mux.HandleFunc("/v1/audit", a.handleAuditQuery)

	a.mux.HandleFunc("/v1/threads", a.handleThreads)
	a.mux.HandleFunc("/v1/threads/", a.handleThreadScoped)
	a.mux.HandleFunc("/v1/reminders", a.handleReminders)
	a.mux.HandleFunc("/v1/reminders/", a.handleReminderScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "taxdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "taxdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
