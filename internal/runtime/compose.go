package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// Compose invokes the container runtime CLI. The compose file itself is
// produced by the artifact renderer; this wrapper only realizes it.
type Compose struct {
	composeFile string
	project     string
	logger      *zap.Logger
}

func NewCompose(composeFile, project string, logger *zap.Logger) *Compose {
	return &Compose{
		composeFile: composeFile,
		project:     project,
		logger:      logger,
	}
}

func (c *Compose) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"compose", "-f", c.composeFile, "-p", c.project}, args...)
	cmd := exec.CommandContext(ctx, "docker", full...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &core.CollaboratorError{
			Collaborator: "docker compose",
			Err:          fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out))),
		}
	}
	return string(out), nil
}

// Up realizes the rendered compose topology.
func (c *Compose) Up(ctx context.Context) error {
	c.logger.Info("starting runtime", zap.String("compose_file", c.composeFile))
	_, err := c.run(ctx, "up", "-d", "--build")
	return err
}

// Down stops and removes the runtime containers. Volumes are kept:
// teardown releases only ephemeral runtime state, never databases,
// certificates, or secrets.
func (c *Compose) Down(ctx context.Context) error {
	c.logger.Info("stopping runtime", zap.String("project", c.project))
	_, err := c.run(ctx, "down")
	return err
}

// Exec runs a command inside a service container.
func (c *Compose) Exec(ctx context.Context, service string, argv ...string) (string, error) {
	args := append([]string{"exec", "-T", service}, argv...)
	return c.run(ctx, args...)
}

// Reload sends nginx a reload signal so an already-running edge picks
// up renewed certificates without a restart.
func (c *Compose) Reload(ctx context.Context, service string) error {
	_, err := c.Exec(ctx, service, "nginx", "-s", "reload")
	return err
}
