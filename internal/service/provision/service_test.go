package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/registry"
)

type stubRegistry struct {
	projects map[string]domain.Project
	deployed []string
}

func newStubRegistry(projects ...domain.Project) *stubRegistry {
	s := &stubRegistry{projects: make(map[string]domain.Project)}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *stubRegistry) Get(id string) (*domain.Project, error) {
	if p, ok := s.projects[id]; ok {
		return &p, nil
	}
	return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
}

func (s *stubRegistry) Upsert(input registry.UpsertInput) (*domain.Project, error) {
	p := s.projects[input.ID]
	p.ID = input.ID
	p.Type = input.Type
	p.MountPath = input.MountPath
	p.SourceURL = input.SourceURL
	p.TokenEnvName = domain.TokenEnvName(input.ID)
	s.projects[input.ID] = p
	return &p, nil
}

func (s *stubRegistry) MarkDeployed(id string, info *registry.DeployInfo) (*domain.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", id, domain.ErrNotFound)
	}
	p.Status = domain.StatusDeployed
	if info != nil {
		p.HostPort = info.HostPort
		p.ProxyChanged = info.ProxyChanged
	}
	s.projects[id] = p
	s.deployed = append(s.deployed, id)
	return &p, nil
}

type stubSource struct {
	calls int
	path  string
	err   error
}

func (s *stubSource) Resolve(ctx context.Context, id, sourceURL, inline string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.path, nil
}

type stubGenerator struct {
	calls    int
	dataFile string
	err      error
}

func (s *stubGenerator) Ensure(ctx context.Context, p domain.Project, dataFile string) (string, string, error) {
	s.calls++
	s.dataFile = dataFile
	if s.err != nil {
		return "", "", s.err
	}
	return "/gen/projects/" + p.ID + "/mcp-project.json", "/gen/projects/" + p.ID + "/docker-compose.yml", nil
}

type stubCredentials struct {
	token string
	fresh bool
	err   error
}

func (s *stubCredentials) Ensure(id string) (string, bool, error) {
	return s.token, s.fresh, s.err
}

type stubContainers struct {
	upCalls int
	port    int
	upErr   error
	portErr error
}

func (s *stubContainers) Up(ctx context.Context, composeFile string) error {
	s.upCalls++
	return s.upErr
}

func (s *stubContainers) HostPort(composeFile string) (int, error) {
	if s.portErr != nil {
		return 0, s.portErr
	}
	return s.port, nil
}

type stubIngress struct {
	changed       bool
	ensureErr     error
	validateErr   error
	reloadErr     error
	validateCalls int
	reloadCalls   int
}

func (s *stubIngress) Ensure(ctx context.Context, mountPath string, hostPort int) (bool, error) {
	return s.changed, s.ensureErr
}

func (s *stubIngress) Validate(ctx context.Context) error {
	s.validateCalls++
	return s.validateErr
}

func (s *stubIngress) Reload(ctx context.Context) error {
	s.reloadCalls++
	return s.reloadErr
}

type fixture struct {
	svc        *Service
	registry   *stubRegistry
	source     *stubSource
	generator  *stubGenerator
	creds      *stubCredentials
	containers *stubContainers
	ingress    *stubIngress
}

func newFixture(t *testing.T, projects ...domain.Project) *fixture {
	t.Helper()
	f := &fixture{
		registry:   newStubRegistry(projects...),
		source:     &stubSource{path: "/data/demo/data.json"},
		generator:  &stubGenerator{},
		creds:      &stubCredentials{token: "tok", fresh: true},
		containers: &stubContainers{port: 49152},
		ingress:    &stubIngress{changed: true},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(f.registry, f.source, f.generator, f.creds, f.containers, f.ingress, "agent-secret", log)
	return f
}

func draftProject(id, typ string) domain.Project {
	return domain.Project{
		ID:           id,
		Type:         typ,
		MountPath:    domain.DefaultMountPath(id),
		TokenEnvName: domain.TokenEnvName(id),
		Status:       domain.StatusDraft,
	}
}

func TestProvisionFullRun(t *testing.T) {
	f := newFixture(t, draftProject("demo", domain.TypeJSON))

	result, err := f.svc.Provision(context.Background(), Request{ID: "demo", SourceInline: `{"a":1}`})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !result.OK {
		t.Error("expected ok result")
	}
	if result.MountPath != "/p/demo/mcp" {
		t.Errorf("mountPath = %q", result.MountPath)
	}
	if result.HostPort != 49152 {
		t.Errorf("hostPort = %d", result.HostPort)
	}
	if result.TokenEnvName != "MCP_DEMO_BEARER_TOKEN" {
		t.Errorf("tokenEnvName = %q", result.TokenEnvName)
	}
	if result.Token != "tok" {
		t.Errorf("fresh token must be revealed, got %q", result.Token)
	}
	if !result.ProxyChanged {
		t.Error("proxyChanged = false")
	}
	if f.source.calls != 1 || f.generator.calls != 1 || f.containers.upCalls != 1 {
		t.Errorf("step call counts: source=%d generator=%d up=%d", f.source.calls, f.generator.calls, f.containers.upCalls)
	}
	if f.generator.dataFile != "/data/demo/data.json" {
		t.Errorf("generator dataFile = %q", f.generator.dataFile)
	}
	if f.ingress.validateCalls != 1 || f.ingress.reloadCalls != 1 {
		t.Errorf("proxy process calls: validate=%d reload=%d", f.ingress.validateCalls, f.ingress.reloadCalls)
	}
	deployed := f.registry.projects["demo"]
	if deployed.Status != domain.StatusDeployed {
		t.Errorf("registry status = %q", deployed.Status)
	}
	if deployed.HostPort == nil || *deployed.HostPort != 49152 {
		t.Errorf("registry hostPort = %v", deployed.HostPort)
	}
}

func TestProvisionExistingTokenNotRevealed(t *testing.T) {
	f := newFixture(t, draftProject("demo", domain.TypeJSON))
	f.creds.fresh = false
	f.ingress.changed = false

	result, err := f.svc.Provision(context.Background(), Request{ID: "demo"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if result.Token != "" {
		t.Error("existing token must not be re-revealed")
	}
	if result.ProxyChanged {
		t.Error("proxyChanged should be false")
	}
	if f.ingress.validateCalls != 0 || f.ingress.reloadCalls != 0 {
		t.Error("validate/reload must be skipped when the config did not change")
	}
}

func TestProvisionUnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Provision(context.Background(), Request{ID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.source.calls != 0 || f.generator.calls != 0 {
		t.Error("no step may run for an unknown project")
	}
}

func TestProvisionInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Provision(context.Background(), Request{ID: "-bad"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProvisionAgentUnconfigured(t *testing.T) {
	f := newFixture(t, draftProject("demo", domain.TypeJSON))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(f.registry, f.source, f.generator, f.creds, f.containers, f.ingress, "", log)

	_, err := svc.Provision(context.Background(), Request{ID: "demo"})
	if !errors.Is(err, domain.ErrAgentUnconfigured) {
		t.Fatalf("expected agent unconfigured, got %v", err)
	}
	if f.source.calls != 0 {
		t.Error("no side-effecting step may run without the deploy credential")
	}
}

func TestProvisionSkipsSourceForNonJSON(t *testing.T) {
	f := newFixture(t, draftProject("pg", domain.TypePostgres))
	if _, err := f.svc.Provision(context.Background(), Request{ID: "pg"}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if f.source.calls != 0 {
		t.Error("source resolution only applies to json-typed projects")
	}
	if f.generator.dataFile != "" {
		t.Errorf("generator dataFile = %q", f.generator.dataFile)
	}
}

func TestProvisionStepFailureAborts(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fixture)
		want  error
	}{
		{"source", func(f *fixture) { f.source.err = fmt.Errorf("boom: %w", domain.ErrUpstream) }, domain.ErrUpstream},
		{"generator", func(f *fixture) { f.generator.err = fmt.Errorf("boom: %w", domain.ErrConfiguration) }, domain.ErrConfiguration},
		{"credentials", func(f *fixture) { f.creds.err = errors.New("io failure") }, nil},
		{"container up", func(f *fixture) { f.containers.upErr = errors.New("compose failed") }, nil},
		{"host port", func(f *fixture) { f.containers.portErr = fmt.Errorf("boom: %w", domain.ErrConfiguration) }, domain.ErrConfiguration},
		{"ingress", func(f *fixture) { f.ingress.ensureErr = fmt.Errorf("boom: %w", domain.ErrConfiguration) }, domain.ErrConfiguration},
		{"validate", func(f *fixture) { f.ingress.validateErr = errors.New("syntax error") }, nil},
		{"reload", func(f *fixture) { f.ingress.reloadErr = errors.New("signal failed") }, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, draftProject("demo", domain.TypeJSON))
			c.setup(f)
			_, err := f.svc.Provision(context.Background(), Request{ID: "demo"})
			if err == nil {
				t.Fatal("expected failure")
			}
			if c.want != nil && !errors.Is(err, c.want) {
				t.Errorf("error category: got %v", err)
			}
			if len(f.registry.deployed) != 0 {
				t.Error("failed run must not mark the project deployed")
			}
		})
	}
}

func TestProvisionUpdatesMutableFields(t *testing.T) {
	f := newFixture(t, draftProject("demo", domain.TypeJSON))
	_, err := f.svc.Provision(context.Background(), Request{ID: "demo", Type: domain.TypeOpenAPI, MountPath: "/alt"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	updated := f.registry.projects["demo"]
	if updated.Type != domain.TypeOpenAPI || updated.MountPath != "/alt" {
		t.Errorf("mutable fields not refreshed: %+v", updated)
	}
}
