package ingress

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/errdefs"

	"github.com/justadm/justgpt-control-plane/internal/docker"
)

// dockerReloader triggers nginx reloads by signalling a Docker container.
type dockerReloader struct {
	client    *docker.Client
	container string
}

// NewDockerReloader reloads the proxy running in the named container by
// sending it SIGHUP through the Docker API.
func NewDockerReloader(cli *docker.Client, container string) (Reloader, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("container name required")
	}
	if cli == nil {
		return nil, fmt.Errorf("docker client required")
	}
	return &dockerReloader{client: cli, container: container}, nil
}

func (r *dockerReloader) Reload(ctx context.Context) error {
	if err := r.client.Inner().ContainerKill(ctx, r.container, "HUP"); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("nginx container %s not found", r.container)
		}
		return err
	}
	return nil
}

func (r *dockerReloader) Close() error {
	// The docker client is shared; its owner closes it.
	return nil
}

// execReloader reloads a host-level proxy process via a shell command.
type execReloader struct {
	command string
}

// NewExecReloader returns a Reloader running command (split on whitespace).
func NewExecReloader(command string) Reloader {
	return &execReloader{command: command}
}

func (r *execReloader) Reload(ctx context.Context) error {
	args := strings.Fields(r.command)
	if len(args) == 0 {
		return fmt.Errorf("proxy reload command is empty")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("proxy reload failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (r *execReloader) Close() error { return nil }
