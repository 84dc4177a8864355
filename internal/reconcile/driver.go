package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/bootstrap"
	"github.com/leozw/wp-edge/internal/certs"
	"github.com/leozw/wp-edge/internal/config"
	"github.com/leozw/wp-edge/internal/core"
	"github.com/leozw/wp-edge/internal/dns"
	"github.com/leozw/wp-edge/internal/secrets"
)

type ModeKind string

const (
	ModeCreate   ModeKind = "create"
	ModeTeardown ModeKind = "teardown"
	ModePartial  ModeKind = "partial"
)

type Resource string

const (
	ResourceSecrets   Resource = "secrets"
	ResourceDNS       Resource = "dns"
	ResourceCerts     Resource = "certs"
	ResourceBootstrap Resource = "bootstrap"
)

// Mode selects what a run does. Partial re-runs exactly one reconciler
// with the same guards, so an operator can change one tenant's public
// surface without disturbing the others.
type Mode struct {
	Kind       ModeKind
	Resource   Resource
	Force      bool
	TypeFilter core.SiteType
}

type SecretsProvisioner interface {
	Provision(slots []secrets.Slot) (*secrets.Report, error)
}

type DNSReconciler interface {
	Apply(ctx context.Context, desired []core.Record) (*dns.ApplyReport, error)
}

type CertReconciler interface {
	Reconcile(ctx context.Context, groups []core.CertGroup, opts certs.Options) (*certs.IssueReport, error)
}

type Bootstrapper interface {
	Advance(ctx context.Context, site core.Site) (*bootstrap.Progress, error)
}

type Runtime interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
}

type Renderer interface {
	Render(ctx context.Context) error
}

// Deps are the reconcilers the driver orchestrates. DNS may be nil when
// the provider integration is disabled in config.
type Deps struct {
	Secrets       SecretsProvisioner
	Slots         []secrets.Slot
	DNS           DNSReconciler
	ResolveOrigin func(ctx context.Context) (dns.Origin, error)
	Certs         CertReconciler
	Bootstrap     Bootstrapper
	Runtime       Runtime
	Renderer      Renderer
}

type RunReport struct {
	ID         string            `json:"id"`
	Mode       string            `json:"mode"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Steps      []core.StepResult `json:"steps"`
}

func (r *RunReport) Failed() bool {
	for _, s := range r.Steps {
		if s.Failed() {
			return true
		}
	}
	return false
}

func (r *RunReport) Degraded() bool {
	for _, s := range r.Steps {
		if s.Status == core.StepDegraded {
			return true
		}
	}
	return false
}

// Driver is the only component with cross-cutting knowledge of
// ordering. Individual reconcilers stay unaware of each other.
type Driver struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
}

func NewDriver(cfg *config.Config, deps Deps, logger *zap.Logger) *Driver {
	return &Driver{cfg: cfg, deps: deps, logger: logger}
}

// Run executes one reconciliation pass. Steps run in fixed dependency
// order; the run aborts at the first fatal step, while degraded steps
// are recorded and do not stop progress.
func (d *Driver) Run(ctx context.Context, mode Mode) *RunReport {
	report := &RunReport{
		ID:        uuid.New().String(),
		Mode:      string(mode.Kind),
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	logger := d.logger.With(zap.String("run_id", report.ID), zap.String("mode", string(mode.Kind)))
	logger.Info("run started")

	switch mode.Kind {
	case ModeTeardown:
		d.stepRuntimeDown(ctx, report)
	case ModePartial:
		d.runPartial(ctx, mode, report)
	default:
		d.runCreate(ctx, mode, report)
	}

	if report.Failed() {
		logger.Error("run aborted")
	} else if report.Degraded() {
		logger.Warn("run finished with warnings")
	} else {
		logger.Info("run finished")
	}
	return report
}

func (d *Driver) runCreate(ctx context.Context, mode Mode, report *RunReport) {
	if !d.stepSecrets(report) {
		return
	}
	// DNS is best-effort here: records may already be correct, and
	// certificate issuance will tell us if they are not.
	d.stepDNS(ctx, report, core.SeverityWarning)
	if !d.stepCerts(ctx, report, certs.Options{Force: mode.Force, TypeFilter: mode.TypeFilter}) {
		return
	}
	if !d.stepRender(ctx, report) {
		return
	}
	if !d.stepRuntimeUp(ctx, report) {
		return
	}
	d.stepBootstrap(ctx, report)
}

func (d *Driver) runPartial(ctx context.Context, mode Mode, report *RunReport) {
	switch mode.Resource {
	case ResourceSecrets:
		d.stepSecrets(report)
	case ResourceDNS:
		d.stepDNS(ctx, report, core.SeverityFatal)
	case ResourceCerts:
		d.stepCerts(ctx, report, certs.Options{Force: mode.Force, TypeFilter: mode.TypeFilter})
	case ResourceBootstrap:
		d.stepBootstrap(ctx, report)
	default:
		report.Steps = append(report.Steps, core.StepResult{
			Name:     "partial",
			Status:   core.StepAborted,
			Severity: core.SeverityFatal,
			Detail:   fmt.Sprintf("unknown resource %q", mode.Resource),
		})
	}
}

func (d *Driver) stepSecrets(report *RunReport) bool {
	result, err := d.deps.Secrets.Provision(d.deps.Slots)
	if err != nil {
		report.Steps = append(report.Steps, abortStep("secrets", err))
		return false
	}
	report.Steps = append(report.Steps, core.StepResult{
		Name:   "secrets",
		Status: core.StepOK,
		Detail: fmt.Sprintf("generated=%d present=%d", len(result.Generated), len(result.Present)),
	})
	return true
}

// stepDNS applies the desired record set. Severity decides whether a
// failure aborts the run (partial dns mode) or degrades it (create
// mode, where stale DNS is survivable and loudly reported).
func (d *Driver) stepDNS(ctx context.Context, report *RunReport, severity core.Severity) bool {
	if d.deps.DNS == nil {
		report.Steps = append(report.Steps, core.StepResult{
			Name: "dns", Status: core.StepSkipped, Detail: "provider integration disabled",
		})
		return true
	}

	fail := func(err error) bool {
		if severity == core.SeverityFatal {
			report.Steps = append(report.Steps, abortStep("dns", err))
			return false
		}
		d.logger.Warn("dns reconciliation degraded", zap.Error(err))
		report.Steps = append(report.Steps, core.StepResult{
			Name: "dns", Status: core.StepDegraded, Severity: core.SeverityWarning,
			Err: err, Detail: err.Error(),
		})
		return true
	}

	origin, err := d.deps.ResolveOrigin(ctx)
	if err != nil {
		return fail(err)
	}

	desired := dns.Desired(d.cfg.Sites(), origin, d.cfg.Cloudflare.DNS.TTL, d.cfg.Cloudflare.ProxyEnabled)
	applied, err := d.deps.DNS.Apply(ctx, desired)
	if err != nil {
		return fail(err)
	}

	detail := fmt.Sprintf("created=%d updated=%d unchanged=%d failed=%d",
		applied.Created, applied.Updated, applied.Unchanged, len(applied.Failures))
	status := core.StepOK
	var sev core.Severity
	if applied.Failed() {
		status = core.StepDegraded
		sev = core.SeverityWarning
	}
	report.Steps = append(report.Steps, core.StepResult{
		Name: "dns", Status: status, Severity: sev, Detail: detail,
	})
	return true
}

func (d *Driver) stepCerts(ctx context.Context, report *RunReport, opts certs.Options) bool {
	groups := core.Groups(d.cfg.Sites())
	issued, err := d.deps.Certs.Reconcile(ctx, groups, opts)
	if err != nil {
		report.Steps = append(report.Steps, abortStep("certs", err))
		return false
	}

	detail := fmt.Sprintf("issued=%d reused=%d skipped=%d failed=%d",
		len(issued.Issued), len(issued.Reused), len(issued.Skipped), len(issued.Failures))
	status := core.StepOK
	var sev core.Severity
	if issued.Failed() {
		status = core.StepDegraded
		sev = core.SeverityWarning
	}
	report.Steps = append(report.Steps, core.StepResult{
		Name: "certs", Status: status, Severity: sev, Detail: detail,
	})
	return true
}

func (d *Driver) stepRender(ctx context.Context, report *RunReport) bool {
	if err := d.deps.Renderer.Render(ctx); err != nil {
		report.Steps = append(report.Steps, abortStep("render", err))
		return false
	}
	report.Steps = append(report.Steps, core.StepResult{Name: "render", Status: core.StepOK})
	return true
}

func (d *Driver) stepRuntimeUp(ctx context.Context, report *RunReport) bool {
	if err := d.deps.Runtime.Up(ctx); err != nil {
		report.Steps = append(report.Steps, abortStep("runtime", err))
		return false
	}
	report.Steps = append(report.Steps, core.StepResult{Name: "runtime", Status: core.StepOK})
	return true
}

func (d *Driver) stepRuntimeDown(ctx context.Context, report *RunReport) {
	// Teardown releases runtime-managed state only; certificates and
	// secrets survive so the next create run reuses them.
	if err := d.deps.Runtime.Down(ctx); err != nil {
		report.Steps = append(report.Steps, abortStep("teardown", err))
		return
	}
	report.Steps = append(report.Steps, core.StepResult{Name: "teardown", Status: core.StepOK})
}

func (d *Driver) stepBootstrap(ctx context.Context, report *RunReport) {
	for _, site := range d.cfg.WordPressSites() {
		progress, err := d.deps.Bootstrap.Advance(ctx, site)
		if err != nil {
			report.Steps = append(report.Steps, abortStep("bootstrap "+site.Name, err))
			return
		}
		report.Steps = append(report.Steps, core.StepResult{
			Name:   "bootstrap " + site.Name,
			Status: core.StepOK,
			Detail: fmt.Sprintf("completed=%d skipped=%d", len(progress.Completed), len(progress.Skipped)),
		})
	}
}

func abortStep(name string, err error) core.StepResult {
	return core.StepResult{
		Name:     name,
		Status:   core.StepAborted,
		Severity: core.SeverityFatal,
		Err:      err,
		Detail:   err.Error(),
	}
}
