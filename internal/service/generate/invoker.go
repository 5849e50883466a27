package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
)

const (
	projectDescName = "mcp-project.json"
	composeDescName = "docker-compose.yml"
)

// Invoker produces a project's generated artifacts by running the external
// generator inside its working checkout. Invocation is skipped entirely when
// both artifacts already exist; regeneration is a manual operation.
type Invoker struct {
	workdir string
	command string
	logger  *slog.Logger
	pull    func(ctx context.Context, dir string) error
}

// New returns an Invoker running command (split on whitespace) in workdir.
func New(workdir, command string, logger *slog.Logger) *Invoker {
	return &Invoker{workdir: workdir, command: command, logger: logger, pull: gitPull}
}

// ArtifactPaths returns the deterministic artifact locations for a project.
func (g *Invoker) ArtifactPaths(id string) (projectDesc, composeDesc string) {
	dir := filepath.Join(g.workdir, "projects", id)
	return filepath.Join(dir, projectDescName), filepath.Join(dir, composeDescName)
}

// Ensure makes sure both artifacts exist for the project, invoking the
// generator at most once. dataFile is the resolved payload path for
// json-typed projects, empty otherwise.
func (g *Invoker) Ensure(ctx context.Context, p domain.Project, dataFile string) (string, string, error) {
	projectDesc, composeDesc := g.ArtifactPaths(p.ID)
	if fileExists(projectDesc) && fileExists(composeDesc) {
		g.logger.Info("generator artifacts present, skipping", "project_id", p.ID)
		return projectDesc, composeDesc, nil
	}

	if err := g.pull(ctx, g.workdir); err != nil {
		return "", "", err
	}

	base := strings.Fields(g.command)
	if len(base) == 0 {
		return "", "", fmt.Errorf("generator command is empty: %w", domain.ErrConfiguration)
	}
	args := append(base,
		"--id", p.ID,
		"--type", p.Type,
		"--mount-path", p.MountPath,
	)
	if dataFile != "" {
		args = append(args, "--data-file", dataFile)
	}
	g.logger.Info("invoking generator", "project_id", p.ID, "command", g.command)
	cmd := commandContext(ctx, args[0], args[1:]...)
	cmd.Dir = g.workdir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("generator failed for %s: %w: %s", p.ID, err, strings.TrimSpace(string(output)))
	}

	if !fileExists(projectDesc) || !fileExists(composeDesc) {
		return "", "", fmt.Errorf("generator did not produce expected files %s and %s: %w", projectDesc, composeDesc, domain.ErrConfiguration)
	}
	return projectDesc, composeDesc, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
