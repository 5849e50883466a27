package credential

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/justadm/justgpt-control-plane/internal/domain"
	"github.com/justadm/justgpt-control-plane/internal/fsutil"
	"github.com/justadm/justgpt-control-plane/pkg/crypto"
)

// Provisioner ensures each project has a bearer token in the shared
// environment file. An existing token is never rotated by a deploy.
type Provisioner struct {
	envPath string
	logger  *slog.Logger
}

// New returns a Provisioner editing the env file at envPath.
func New(envPath string, logger *slog.Logger) *Provisioner {
	return &Provisioner{envPath: envPath, logger: logger}
}

// Ensure returns the project's bearer token and whether it was freshly
// generated. A fresh token is appended as KEY=VALUE, preserving all other
// lines and exactly one trailing newline.
func (p *Provisioner) Ensure(id string) (token string, fresh bool, err error) {
	name := domain.TokenEnvName(id)

	raw, err := os.ReadFile(p.envPath)
	if err != nil && !os.IsNotExist(err) {
		return "", false, fmt.Errorf("read env file %s: %w", p.envPath, err)
	}
	lines := splitLines(string(raw))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if ok && key == name {
			return value, false, nil
		}
	}

	token, err = crypto.NewBearerToken()
	if err != nil {
		return "", false, fmt.Errorf("generate token for %s: %w", id, err)
	}
	lines = append(lines, name+"="+token)
	content := strings.Join(lines, "\n") + "\n"
	if err := fsutil.WriteFileAtomic(p.envPath, []byte(content), 0o600); err != nil {
		return "", false, fmt.Errorf("write env file %s: %w", p.envPath, err)
	}
	p.logger.Info("bearer token provisioned", "project_id", id, "env_name", name)
	return token, true, nil
}

// splitLines splits env file content into lines, dropping the trailing blank
// produced by a final newline so rewrites keep exactly one.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
