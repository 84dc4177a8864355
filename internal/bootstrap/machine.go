package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// Milestone is one step on the totally ordered bootstrap path. Each is
// independently checkable, so a run interrupted anywhere resumes from
// the first unsatisfied guard.
type Milestone string

const (
	MilestoneDownloaded Milestone = "downloaded"
	MilestoneConfigured Milestone = "configured"
	MilestoneInstalled  Milestone = "installed"
	MilestoneMultisite  Milestone = "converted-to-multisite"
)

// SiteCLI is the application-management collaborator scoped to one
// site's working directory. Guards must surface query failures as
// errors, never as "not done": the multisite conversion is one-way and
// a false negative would double-convert.
type SiteCLI interface {
	CoreFilesPresent(ctx context.Context, site core.Site) (bool, error)
	DownloadCore(ctx context.Context, site core.Site) error

	ConfigPresent(ctx context.Context, site core.Site) (bool, error)
	WriteConfig(ctx context.Context, site core.Site, dbPassword string) error

	IsInstalled(ctx context.Context, site core.Site) (bool, error)
	Install(ctx context.Context, site core.Site, adminPassword string) error

	IsMultisite(ctx context.Context, site core.Site) (bool, error)
	ConvertMultisite(ctx context.Context, site core.Site) error
}

// SecretSource is the read side of the secrets store.
type SecretSource interface {
	Get(key string) (string, bool)
}

type Progress struct {
	SiteName  string      `json:"site_name"`
	Completed []Milestone `json:"completed"`
	Skipped   []Milestone `json:"skipped"`
}

type Machine struct {
	cli     SiteCLI
	secrets SecretSource
	logger  *zap.Logger
}

func NewMachine(cli SiteCLI, secrets SecretSource, logger *zap.Logger) *Machine {
	return &Machine{cli: cli, secrets: secrets, logger: logger}
}

// Advance drives one site to the terminal milestone, one guarded step
// at a time. Satisfied guards are skipped, making re-runs after a
// partial failure safe.
func (m *Machine) Advance(ctx context.Context, site core.Site) (*Progress, error) {
	progress := &Progress{SiteName: site.Name}
	logger := m.logger.With(zap.String("site", site.Name))

	steps := []struct {
		milestone Milestone
		guard     func(context.Context, core.Site) (bool, error)
		act       func(context.Context, core.Site) error
	}{
		{MilestoneDownloaded, m.cli.CoreFilesPresent, m.cli.DownloadCore},
		{MilestoneConfigured, m.cli.ConfigPresent, m.writeConfig},
		{MilestoneInstalled, m.cli.IsInstalled, m.install},
		{MilestoneMultisite, m.cli.IsMultisite, m.cli.ConvertMultisite},
	}

	for _, step := range steps {
		done, err := step.guard(ctx, site)
		if err != nil {
			return progress, fmt.Errorf("site %s: checking %s: %w", site.Name, step.milestone, err)
		}
		if done {
			logger.Info("milestone already satisfied", zap.String("milestone", string(step.milestone)))
			progress.Skipped = append(progress.Skipped, step.milestone)
			continue
		}

		if err := step.act(ctx, site); err != nil {
			return progress, fmt.Errorf("site %s: reaching %s: %w", site.Name, step.milestone, err)
		}
		logger.Info("milestone reached", zap.String("milestone", string(step.milestone)))
		progress.Completed = append(progress.Completed, step.milestone)
	}

	return progress, nil
}

// writeConfig generates the application configuration from the site's
// database slot. Writing a configuration with an empty credential is
// never acceptable, so a missing slot aborts the run.
func (m *Machine) writeConfig(ctx context.Context, site core.Site) error {
	password, ok := m.secrets.Get(site.DB.PasswordSlot)
	if !ok || password == "" {
		return fmt.Errorf("secret slot %s absent, cannot write configuration", site.DB.PasswordSlot)
	}
	return m.cli.WriteConfig(ctx, site, password)
}

func (m *Machine) install(ctx context.Context, site core.Site) error {
	password, ok := m.secrets.Get(site.Admin.PasswordSlot)
	if !ok || password == "" {
		return fmt.Errorf("secret slot %s absent, cannot install", site.Admin.PasswordSlot)
	}
	return m.cli.Install(ctx, site, password)
}
