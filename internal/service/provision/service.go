package provision

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/google/uuid"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/registry"
)

// Registry is the durable project store the orchestrator reads before and
// writes after a run.
type Registry interface {
	Get(id string) (*domain.Project, error)
	Upsert(input registry.UpsertInput) (*domain.Project, error)
	MarkDeployed(id string, info *registry.DeployInfo) (*domain.Project, error)
}

// SourceResolver materialises a project's data payload.
type SourceResolver interface {
	Resolve(ctx context.Context, id, sourceURL, inline string) (string, error)
}

// Generator produces the project and composition descriptors.
type Generator interface {
	Ensure(ctx context.Context, p domain.Project, dataFile string) (projectDesc, composeDesc string, err error)
}

// Credentials ensures the project's bearer token exists.
type Credentials interface {
	Ensure(id string) (token string, fresh bool, err error)
}

// Containers brings the container group up and reads back its host port.
type Containers interface {
	Up(ctx context.Context, composeFile string) error
	HostPort(composeFile string) (int, error)
}

// Ingress patches, validates and reloads the reverse proxy.
type Ingress interface {
	Ensure(ctx context.Context, mountPath string, hostPort int) (changed bool, err error)
	Validate(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Request carries the provisioning parameters for one run.
type Request struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	MountPath    string `json:"mountPath"`
	SourceURL    string `json:"sourceUrl"`
	SourceInline string `json:"sourceInline"`
}

// Result summarises a successful provisioning run. Token is set only when a
// fresh token was generated during this run; an existing token is never
// re-revealed.
type Result struct {
	OK           bool   `json:"ok"`
	MountPath    string `json:"mountPath"`
	HostPort     int    `json:"hostPort"`
	TokenEnvName string `json:"tokenEnvName"`
	Token        string `json:"token,omitempty"`
	ProxyChanged bool   `json:"proxyChanged"`
}

// Service sequences one provisioning run: resolve source, generate
// descriptors, ensure credentials, bring the container group up, wire the
// proxy route, then record the outcome in the registry. Steps run in order,
// are not retried within a run, and are individually idempotent so a
// re-invocation after a partial failure converges.
type Service struct {
	registry    Registry
	source      SourceResolver
	generator   Generator
	credentials Credentials
	containers  Containers
	ingress     Ingress
	agentToken  string
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a provisioning service. agentToken is the deploy credential;
// runs are refused while it is unset.
func New(reg Registry, src SourceResolver, gen Generator, creds Credentials, containers Containers, ing Ingress, agentToken string, logger *slog.Logger) *Service {
	return &Service{
		registry:    reg,
		source:      src,
		generator:   gen,
		credentials: creds,
		containers:  containers,
		ingress:     ing,
		agentToken:  agentToken,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Provision runs the pipeline for one project. Concurrent runs for the same
// id are serialised with a per-id mutex; different ids do not contend.
func (s *Service) Provision(ctx context.Context, req Request) (*Result, error) {
	if !domain.ValidProjectID(req.ID) {
		return nil, fmt.Errorf("invalid project id %q: %w", req.ID, domain.ErrValidation)
	}

	lock := s.lockFor(req.ID)
	lock.Lock()
	defer lock.Unlock()

	runID := uuid.NewString()
	log := s.logger.With("project_id", req.ID, "run_id", runID)
	log.Info("provisioning started")

	project, err := s.registry.Get(req.ID)
	if err != nil {
		return nil, err
	}
	if s.agentToken == "" {
		return nil, fmt.Errorf("deploy credential missing: %w", domain.ErrAgentUnconfigured)
	}

	// Refresh caller-mutable fields before the side-effecting steps.
	if req.Type != "" || req.MountPath != "" || req.SourceURL != "" {
		input := registry.UpsertInput{
			ID:        project.ID,
			Type:      project.Type,
			MountPath: project.MountPath,
			SourceURL: project.SourceURL,
		}
		if req.Type != "" {
			input.Type = req.Type
		}
		if req.MountPath != "" {
			input.MountPath = req.MountPath
		}
		if req.SourceURL != "" {
			input.SourceURL = req.SourceURL
		}
		project, err = s.registry.Upsert(input)
		if err != nil {
			return nil, err
		}
	}

	dataFile := ""
	if project.Type == domain.TypeJSON {
		dataFile, err = s.source.Resolve(ctx, project.ID, req.SourceURL, req.SourceInline)
		if err != nil {
			log.Error("source resolution failed", "error", err)
			return nil, err
		}
	}

	_, composeDesc, err := s.generator.Ensure(ctx, *project, dataFile)
	if err != nil {
		log.Error("generator step failed", "error", err)
		return nil, err
	}

	token, fresh, err := s.credentials.Ensure(project.ID)
	if err != nil {
		log.Error("credential step failed", "error", err)
		return nil, err
	}

	if err := s.containers.Up(ctx, composeDesc); err != nil {
		log.Error("container bring-up failed", "error", err)
		return nil, err
	}
	hostPort, err := s.containers.HostPort(composeDesc)
	if err != nil {
		log.Error("host port lookup failed", "error", err)
		return nil, err
	}

	changed, err := s.ingress.Ensure(ctx, project.MountPath, hostPort)
	if err != nil {
		log.Error("proxy patch failed", "error", err)
		return nil, err
	}
	if changed {
		if err := s.ingress.Validate(ctx); err != nil {
			log.Error("proxy validation failed", "error", err)
			return nil, err
		}
		if err := s.ingress.Reload(ctx); err != nil {
			log.Error("proxy reload failed", "error", err)
			return nil, err
		}
	}

	if _, err := s.registry.MarkDeployed(project.ID, &registry.DeployInfo{
		HostPort:     &hostPort,
		ProxyChanged: &changed,
	}); err != nil {
		return nil, err
	}

	result := &Result{
		OK:           true,
		MountPath:    project.MountPath,
		HostPort:     hostPort,
		TokenEnvName: domain.TokenEnvName(project.ID),
		ProxyChanged: changed,
	}
	if fresh {
		result.Token = token
	}
	log.Info("provisioning finished", "host_port", hostPort, "proxy_changed", changed, "token_fresh", fresh)
	return result, nil
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}
