package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/registry"
	"github.com/justadm/justgpt-control-plane/internal/service/provision"
)

// ProjectRegistry is the registry surface the facade exposes.
type ProjectRegistry interface {
	Load() ([]domain.Project, error)
	Upsert(input registry.UpsertInput) (*domain.Project, error)
}

// Provisioner runs one provisioning pipeline.
type Provisioner interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRead      = 120
	rateLimitWrite     = 30
	rateLimitProvision = 10
	healthCheckTimeout = 2 * time.Second
)

// Router wires HTTP endpoints to the registry and the orchestrator.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	projects    ProjectRegistry
	provisioner Provisioner
	limiter     RateLimiter
	adminToken  string
	dockerPing  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	provisionResults   *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projects ProjectRegistry, provisioner Provisioner, limiter RateLimiter, adminToken string, dockerPing func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		projects:    projects,
		provisioner: provisioner,
		limiter:     limiter,
		adminToken:  strings.TrimSpace(adminToken),
		dockerPing:  dockerPing,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/projects", r.instrument("projects", r.requireAuth(r.withRateLimit("projects", rateLimitWrite, rateWindowDefault, r.handleProjects))))
	r.mux.HandleFunc("/api/projects/", r.instrument("provision", r.requireAuth(r.withRateLimit("provision", rateLimitProvision, rateWindowDefault, r.handleProjectSubroutes))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := map[string]string{"status": "ok"}
	if r.dockerPing != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dockerPing(ctx); err != nil {
			status["docker"] = "unavailable"
		} else {
			status["docker"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.Load()
		if err != nil {
			r.logger.Error("registry load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not load registry")
			return
		}
		if projects == nil {
			projects = []domain.Project{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var payload registry.UpsertInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		project, err := r.projects.Upsert(payload)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || action != "provision" {
		writeError(w, http.StatusNotFound, "unknown route")
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}

	var payload struct {
		Type         string `json:"type"`
		MountPath    string `json:"mountPath"`
		SourceURL    string `json:"sourceUrl"`
		SourceInline string `json:"sourceInline"`
	}
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := r.provisioner.Provision(req.Context(), provision.Request{
		ID:           id,
		Type:         payload.Type,
		MountPath:    payload.MountPath,
		SourceURL:    payload.SourceURL,
		SourceInline: payload.SourceInline,
	})
	if err != nil {
		r.recordProvisionResult(provisionOutcome(err))
		r.logger.Error("provisioning failed", "project_id", id, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	r.recordProvisionResult("success")
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func provisionOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAgentUnconfigured):
		return "agent_unconfigured"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	default:
		return "error"
	}
}
