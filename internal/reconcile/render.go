package reconcile

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// ArtifactRenderer invokes the external artifact compiler, which turns
// the desired-state document into the compose topology and per-site
// virtual-host and PHP configuration under the output directory. Its
// templates are not this engine's concern; only the invocation is.
type ArtifactRenderer struct {
	command []string
	logger  *zap.Logger
}

func NewArtifactRenderer(command []string, logger *zap.Logger) *ArtifactRenderer {
	return &ArtifactRenderer{command: command, logger: logger}
}

func (r *ArtifactRenderer) Render(ctx context.Context) error {
	if len(r.command) == 0 {
		return &core.ConfigError{Field: "render.command", Reason: "no artifact compiler command configured"}
	}

	r.logger.Info("rendering artifacts", zap.Strings("command", r.command))

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &core.CollaboratorError{
			Collaborator: "renderer",
			Err:          fmt.Errorf("%s: %w: %s", strings.Join(r.command, " "), err, strings.TrimSpace(string(out))),
		}
	}
	return nil
}
