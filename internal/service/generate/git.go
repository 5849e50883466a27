package generate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

var commandContext = exec.CommandContext

// gitPull brings the generator checkout to the latest fast-forward revision.
// A non-fast-forward or network failure is fatal to the provisioning run.
func gitPull(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "pull", "--ff-only")
	cmd.Dir = dir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git pull in %s failed: %w: %s", dir, err, string(output))
	}
	return nil
}
