package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/justadm/justgpt-control-plane/internal/domain"
)

// Runner brings a project's container group up from its generated
// composition descriptor and reads back the assigned host port.
type Runner struct {
	command      string
	internalPort int
	logger       *slog.Logger
}

// New returns a Runner. command is the compose invocation prefix (for
// example "docker compose"); internalPort is the fixed port the service
// listens on inside the container.
func New(command string, internalPort int, logger *slog.Logger) *Runner {
	return &Runner{command: command, internalPort: internalPort, logger: logger}
}

// Up creates or updates the container group, building images if needed and
// detaching once started.
func (r *Runner) Up(ctx context.Context, composeFile string) error {
	base := strings.Fields(r.command)
	if len(base) == 0 {
		return fmt.Errorf("compose command is empty: %w", domain.ErrConfiguration)
	}
	args := append(base, "-f", composeFile, "up", "-d", "--build")
	r.logger.Info("starting container group", "compose_file", composeFile)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("compose up with %s failed: %w: %s", composeFile, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HostPort extracts the loopback host port the descriptor binds to the
// internal service port. Exactly one such mapping must exist.
func (r *Runner) HostPort(composeFile string) (int, error) {
	raw, err := os.ReadFile(composeFile)
	if err != nil {
		return 0, fmt.Errorf("read compose file %s: %w", composeFile, err)
	}
	var doc struct {
		Services map[string]struct {
			Ports []any `yaml:"ports"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("parse compose file %s: %v: %w", composeFile, err, domain.ErrConfiguration)
	}

	var found []int
	for _, svc := range doc.Services {
		for _, entry := range svc.Ports {
			mapping, ok := entry.(string)
			if !ok {
				continue
			}
			if port, ok := loopbackHostPort(mapping, r.internalPort); ok {
				found = append(found, port)
			}
		}
	}
	if len(found) != 1 {
		return 0, fmt.Errorf("expected one 127.0.0.1:<port>:%d mapping in %s, found %d: %w",
			r.internalPort, composeFile, len(found), domain.ErrConfiguration)
	}
	return found[0], nil
}

// loopbackHostPort matches short-syntax mappings like "127.0.0.1:49152:8080"
// (an optional "/tcp" suffix on the container port is tolerated).
func loopbackHostPort(mapping string, internalPort int) (int, bool) {
	parts := strings.Split(mapping, ":")
	if len(parts) != 3 || parts[0] != "127.0.0.1" {
		return 0, false
	}
	containerPort := strings.TrimSuffix(parts[2], "/tcp")
	if containerPort != strconv.Itoa(internalPort) {
		return 0, false
	}
	hostPort, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return hostPort, true
}
