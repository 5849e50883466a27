package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/fsutil"
)

// Store is the durable project registry backed by a single JSON file.
// Mutations load, transform and atomically rewrite the whole file. One
// writer process is assumed; the mutex serialises writers within it.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// UpsertInput carries the caller-mutable fields of a project record.
type UpsertInput struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	MountPath string `json:"mountPath"`
	SourceURL string `json:"sourceUrl"`
}

// DeployInfo carries the outcome fields stamped after a provisioning run.
type DeployInfo struct {
	HostPort     *int
	ProxyChanged *bool
}

type registryFile struct {
	Projects []domain.Project `json:"projects"`
}

// New returns a Store persisting to path.
func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns every registered project. A missing or empty backing file is
// an empty registry, not an error.
func (s *Store) Load() ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the project with the given id or domain.ErrNotFound.
func (s *Store) Get(id string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == id {
			p := projects[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
}

// Upsert inserts a new draft project or updates the mutable fields of an
// existing one. Identity, creation time, status and deploy-result fields
// are never reset by an upsert.
func (s *Store) Upsert(input UpsertInput) (*domain.Project, error) {
	if !domain.ValidProjectID(input.ID) {
		return nil, fmt.Errorf("invalid project id %q (want [a-z0-9][a-z0-9_-]*): %w", input.ID, domain.ErrValidation)
	}
	if !domain.ValidProjectType(input.Type) {
		return nil, fmt.Errorf("invalid project type %q: %w", input.Type, domain.ErrValidation)
	}
	mountPath := input.MountPath
	if mountPath == "" {
		mountPath = domain.DefaultMountPath(input.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	projects, err := s.load()
	if err != nil {
		return nil, err
	}

	var result domain.Project
	found := false
	for i := range projects {
		if projects[i].ID != input.ID {
			continue
		}
		projects[i].Type = input.Type
		projects[i].MountPath = mountPath
		projects[i].TokenEnvName = domain.TokenEnvName(input.ID)
		projects[i].SourceURL = input.SourceURL
		result = projects[i]
		found = true
		break
	}
	if !found {
		result = domain.Project{
			ID:           input.ID,
			Type:         input.Type,
			MountPath:    mountPath,
			TokenEnvName: domain.TokenEnvName(input.ID),
			SourceURL:    input.SourceURL,
			Status:       domain.StatusDraft,
			CreatedAt:    s.now(),
		}
		projects = append(projects, result)
	}

	if err := s.save(projects); err != nil {
		return nil, err
	}
	s.logger.Info("project upserted", "project_id", result.ID, "type", result.Type, "created", !found)
	return &result, nil
}

// MarkDeployed transitions a project to deployed and stamps the deploy
// outcome. Returns domain.ErrNotFound for unknown ids without creating a
// record.
func (s *Store) MarkDeployed(id string, info *DeployInfo) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range projects {
		if projects[i].ID != id {
			continue
		}
		now := s.now()
		projects[i].Status = domain.StatusDeployed
		projects[i].LastDeployAt = &now
		if info != nil {
			if info.HostPort != nil {
				projects[i].HostPort = info.HostPort
			}
			if info.ProxyChanged != nil {
				projects[i].ProxyChanged = info.ProxyChanged
			}
		}
		result := projects[i]
		if err := s.save(projects); err != nil {
			return nil, err
		}
		s.logger.Info("project marked deployed", "project_id", id)
		return &result, nil
	}
	return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
}

func (s *Store) load() ([]domain.Project, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", s.path, err)
	}
	return file.Projects, nil
}

func (s *Store) save(projects []domain.Project) error {
	raw, err := json.MarshalIndent(registryFile{Projects: projects}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	raw = append(raw, '\n')
	if err := fsutil.WriteFileAtomic(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}
