package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// Runner executes a command inside a runtime service container.
type Runner interface {
	Exec(ctx context.Context, service string, argv ...string) (string, error)
}

const docroot = "/var/www/html"

// WPCLI drives wp-cli inside each site's PHP container. Service and
// database host names follow the rendered compose topology: <site>-php
// and <site>-db.
type WPCLI struct {
	runner Runner
	logger *zap.Logger
}

func NewWPCLI(runner Runner, logger *zap.Logger) *WPCLI {
	return &WPCLI{runner: runner, logger: logger}
}

func phpService(site core.Site) string {
	return site.Name + "-php"
}

func dbHost(site core.Site) string {
	return site.Name + "-db"
}

// probe runs a shell test that always exits zero and answers yes/no on
// stdout. Container or runtime failures still surface as errors, so a
// broken collaborator is never mistaken for an unsatisfied guard.
func (w *WPCLI) probe(ctx context.Context, site core.Site, script string) (bool, error) {
	out, err := w.runner.Exec(ctx, phpService(site), "sh", "-c", script)
	if err != nil {
		return false, err
	}
	switch answer := strings.TrimSpace(out); answer {
	case "yes", "1":
		return true, nil
	case "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("ambiguous probe answer %q for site %s", answer, site.Name)
	}
}

func (w *WPCLI) CoreFilesPresent(ctx context.Context, site core.Site) (bool, error) {
	return w.probe(ctx, site, fmt.Sprintf("test -e %s/wp-load.php && echo yes || echo no", docroot))
}

func (w *WPCLI) DownloadCore(ctx context.Context, site core.Site) error {
	_, err := w.runner.Exec(ctx, phpService(site), "wp", "core", "download", "--path="+docroot)
	return err
}

func (w *WPCLI) ConfigPresent(ctx context.Context, site core.Site) (bool, error) {
	return w.probe(ctx, site, fmt.Sprintf("test -e %s/wp-config.php && echo yes || echo no", docroot))
}

func (w *WPCLI) WriteConfig(ctx context.Context, site core.Site, dbPassword string) error {
	_, err := w.runner.Exec(ctx, phpService(site),
		"wp", "config", "create",
		"--path="+docroot,
		"--dbname="+site.DB.Name,
		"--dbuser="+site.DB.User,
		"--dbpass="+dbPassword,
		"--dbhost="+dbHost(site),
		"--skip-check",
	)
	return err
}

func (w *WPCLI) IsInstalled(ctx context.Context, site core.Site) (bool, error) {
	return w.probe(ctx, site,
		fmt.Sprintf("wp --path=%s eval 'echo is_blog_installed() ? 1 : 0;'", docroot))
}

func (w *WPCLI) Install(ctx context.Context, site core.Site, adminPassword string) error {
	_, err := w.runner.Exec(ctx, phpService(site),
		"wp", "core", "install",
		"--path="+docroot,
		"--url=https://"+site.ApexDomain,
		"--title="+site.Name,
		"--admin_user="+site.Admin.User,
		"--admin_password="+adminPassword,
		"--admin_email="+site.Admin.Email,
		"--skip-email",
	)
	return err
}

// IsMultisite evaluates the MULTISITE constant inside the application.
// The conversion is one-way, so the guard must not report "not done"
// on a query failure; probe surfaces execution errors separately from
// a genuine "no".
func (w *WPCLI) IsMultisite(ctx context.Context, site core.Site) (bool, error) {
	return w.probe(ctx, site,
		fmt.Sprintf("wp --path=%s eval 'echo is_multisite() ? 1 : 0;'", docroot))
}

func (w *WPCLI) ConvertMultisite(ctx context.Context, site core.Site) error {
	w.logger.Info("converting to multisite (one-way)", zap.String("site", site.Name))
	_, err := w.runner.Exec(ctx, phpService(site),
		"wp", "core", "multisite-convert",
		"--path="+docroot,
		"--subdomains",
	)
	return err
}
