package registry

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(filepath.Join(t.TempDir(), "registry.json"), log)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	projects, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("expected empty registry, got %d records", len(projects))
	}
}

func TestUpsertCreatesWithDefaults(t *testing.T) {
	store := newTestStore(t)
	project, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeJSON})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if project.MountPath != "/p/demo/mcp" {
		t.Errorf("mountPath = %q", project.MountPath)
	}
	if project.Status != domain.StatusDraft {
		t.Errorf("status = %q", project.Status)
	}
	if project.TokenEnvName != "MCP_DEMO_BEARER_TOKEN" {
		t.Errorf("tokenEnvName = %q", project.TokenEnvName)
	}
	if project.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}
	if project.LastDeployAt != nil || project.HostPort != nil || project.ProxyChanged != nil {
		t.Error("deploy fields should start unset")
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	created, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeJSON, MountPath: "/custom", SourceURL: "https://example.com/d.json"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	projects, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	got := projects[0]
	if got.ID != created.ID || got.Type != created.Type || got.MountPath != created.MountPath ||
		got.SourceURL != created.SourceURL || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, *created)
	}
}

func TestReUpsertPreservesIdentity(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeJSON})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeOpenAPI, MountPath: "/other"})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.ID != "demo" || !second.CreatedAt.Equal(first.CreatedAt) || second.Status != first.Status {
		t.Errorf("identity fields changed: %+v", *second)
	}
	if second.Type != domain.TypeOpenAPI || second.MountPath != "/other" {
		t.Errorf("mutable fields not updated: %+v", *second)
	}
	projects, _ := store.Load()
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
}

func TestUpsertRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Upsert(UpsertInput{ID: "-bad", Type: domain.TypeJSON}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad id: got %v", err)
	}
	if _, err := store.Upsert(UpsertInput{ID: "demo", Type: "sqlite"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad type: got %v", err)
	}
	projects, _ := store.Load()
	if len(projects) != 0 {
		t.Fatalf("rejected upserts must not persist, got %d records", len(projects))
	}
}

func TestMarkDeployed(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeJSON}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	port := 49152
	changed := true
	project, err := store.MarkDeployed("demo", &DeployInfo{HostPort: &port, ProxyChanged: &changed})
	if err != nil {
		t.Fatalf("markDeployed: %v", err)
	}
	if project.Status != domain.StatusDeployed {
		t.Errorf("status = %q", project.Status)
	}
	if project.LastDeployAt == nil {
		t.Error("lastDeployAt not stamped")
	}
	if project.HostPort == nil || *project.HostPort != port {
		t.Errorf("hostPort = %v", project.HostPort)
	}
	if project.ProxyChanged == nil || !*project.ProxyChanged {
		t.Errorf("proxyChanged = %v", project.ProxyChanged)
	}
}

func TestMarkDeployedUnknownID(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.MarkDeployed("ghost", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	projects, _ := store.Load()
	if len(projects) != 0 {
		t.Fatal("markDeployed must not create records")
	}
}

func TestSaveLeavesNoPartialFile(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Upsert(UpsertInput{ID: "demo", Type: domain.TypeJSON}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(store.path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "registry.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
