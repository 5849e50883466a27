package ingress

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/fsutil"
)

// Reloader makes the proxy pick up a changed configuration.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

// Service patches the shared proxy configuration file and drives the proxy
// process boundary (syntax validation and reload). The text merge itself is
// the pure EnsureRoute function; this type owns the file and the processes.
type Service struct {
	confPath    string
	serverName  string
	validateCmd string
	reloader    Reloader
	logger      *slog.Logger
}

// New returns an ingress Service editing confPath.
func New(confPath, serverName, validateCmd string, reloader Reloader, logger *slog.Logger) *Service {
	return &Service{
		confPath:    confPath,
		serverName:  serverName,
		validateCmd: validateCmd,
		reloader:    reloader,
		logger:      logger,
	}
}

// Ensure inserts the route for mountPath if absent and reports whether the
// file changed. Missing markers leave the file untouched.
func (s *Service) Ensure(ctx context.Context, mountPath string, hostPort int) (bool, error) {
	raw, err := os.ReadFile(s.confPath)
	if err != nil {
		return false, fmt.Errorf("read proxy config %s: %w", s.confPath, err)
	}
	patched, changed, err := EnsureRoute(string(raw), s.serverName, mountPath, hostPort)
	if err != nil {
		return false, fmt.Errorf("patch proxy config %s: %w", s.confPath, err)
	}
	if !changed {
		s.logger.Info("proxy route already present", "mount_path", mountPath)
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(s.confPath, []byte(patched), 0o644); err != nil {
		return false, fmt.Errorf("write proxy config %s: %w", s.confPath, err)
	}
	s.logger.Info("proxy route inserted", "mount_path", mountPath, "host_port", hostPort)
	return true, nil
}

// Validate runs the external syntax check and surfaces its output verbatim
// on failure.
func (s *Service) Validate(ctx context.Context) error {
	args := strings.Fields(s.validateCmd)
	if len(args) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("proxy config validation failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Reload signals the proxy process to pick up the new configuration.
func (s *Service) Reload(ctx context.Context) error {
	if s.reloader == nil {
		return fmt.Errorf("no proxy reloader configured")
	}
	return s.reloader.Reload(ctx)
}

// Close releases the reloader's resources.
func (s *Service) Close() error {
	if s.reloader == nil {
		return nil
	}
	return s.reloader.Close()
}
