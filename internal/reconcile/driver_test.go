package reconcile

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/bootstrap"
	"github.com/leozw/wp-edge/internal/certs"
	"github.com/leozw/wp-edge/internal/config"
	"github.com/leozw/wp-edge/internal/core"
	"github.com/leozw/wp-edge/internal/dns"
	"github.com/leozw/wp-edge/internal/secrets"
)

// recorder implements every driver dependency and appends each call to
// a shared trace, so tests can assert ordering across reconcilers.
type recorder struct {
	trace *[]string

	secretsErr   error
	dnsErr       error
	certsErr     error
	renderErr    error
	upErr        error
	downErr      error
	bootstrapErr map[string]error
}

func newRecorder() *recorder {
	return &recorder{trace: &[]string{}, bootstrapErr: map[string]error{}}
}

func (r *recorder) record(step string) {
	*r.trace = append(*r.trace, step)
}

func (r *recorder) Provision([]secrets.Slot) (*secrets.Report, error) {
	r.record("secrets")
	if r.secretsErr != nil {
		return nil, r.secretsErr
	}
	return &secrets.Report{}, nil
}

func (r *recorder) Apply(context.Context, []core.Record) (*dns.ApplyReport, error) {
	r.record("dns")
	if r.dnsErr != nil {
		return nil, r.dnsErr
	}
	return &dns.ApplyReport{}, nil
}

func (r *recorder) Reconcile(_ context.Context, _ []core.CertGroup, opts certs.Options) (*certs.IssueReport, error) {
	r.record("certs")
	if r.certsErr != nil {
		return nil, r.certsErr
	}
	return &certs.IssueReport{}, nil
}

func (r *recorder) Render(context.Context) error {
	r.record("render")
	return r.renderErr
}

func (r *recorder) Up(context.Context) error {
	r.record("up")
	return r.upErr
}

func (r *recorder) Down(context.Context) error {
	r.record("down")
	return r.downErr
}

func (r *recorder) Advance(_ context.Context, site core.Site) (*bootstrap.Progress, error) {
	r.record("bootstrap " + site.Name)
	if err := r.bootstrapErr[site.Name]; err != nil {
		return &bootstrap.Progress{SiteName: site.Name}, err
	}
	return &bootstrap.Progress{SiteName: site.Name}, nil
}

func driverConfig() *config.Config {
	return &config.Config{
		Edge: config.EdgeConfig{
			BindPort: 443,
			Sites: []config.SiteConfig{
				{Name: "alpha", Type: "wordpress", ApexDomain: "alpha.dev", Upstream: "alpha-php:9000", TLSDomains: []string{"alpha.dev"}},
				{Name: "beta", Type: "wordpress", ApexDomain: "beta.dev", Upstream: "beta-php:9000", TLSDomains: []string{"beta.dev"}},
				{Name: "mon", Type: "monitoring", ApexDomain: "mon.alpha.dev", Upstream: "grafana:3000", TLSDomains: []string{"mon.alpha.dev"}},
			},
		},
		Cloudflare: config.CloudflareConfig{
			ProxyEnabled: true,
			DNS:          config.DNSConfig{Enabled: true, TTL: 1},
		},
	}
}

func newTestDriver(rec *recorder, withDNS bool) *Driver {
	deps := Deps{
		Secrets: rec,
		ResolveOrigin: func(context.Context) (dns.Origin, error) {
			return dns.Origin{IPv4: "203.0.113.7"}, nil
		},
		Certs:     rec,
		Bootstrap: rec,
		Runtime:   rec,
		Renderer:  rec,
	}
	if withDNS {
		deps.DNS = rec
	}
	return NewDriver(driverConfig(), deps, zap.NewNop())
}

func trace(rec *recorder) []string {
	return *rec.trace
}

func assertTrace(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q (full trace %v)", i, got[i], want[i], got)
		}
	}
}

func TestCreateRunsStepsInOrder(t *testing.T) {
	rec := newRecorder()
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if report.Failed() || report.Degraded() {
		t.Fatalf("clean run reported failure: %+v", report.Steps)
	}

	assertTrace(t, trace(rec), []string{
		"secrets", "dns", "certs", "render", "up", "bootstrap alpha", "bootstrap beta",
	})
	if report.ID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("report metadata incomplete: %+v", report)
	}
}

func TestCreateDNSFailureDegradesButContinues(t *testing.T) {
	rec := newRecorder()
	rec.dnsErr = fmt.Errorf("cloudflare: token rejected")
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if report.Failed() {
		t.Fatalf("dns failure aborted the create run: %+v", report.Steps)
	}
	if !report.Degraded() {
		t.Error("dns failure was not recorded as degraded")
	}

	// Everything after the dns step still ran.
	assertTrace(t, trace(rec), []string{
		"secrets", "dns", "certs", "render", "up", "bootstrap alpha", "bootstrap beta",
	})
}

func TestCreateSecretsFailureAbortsImmediately(t *testing.T) {
	rec := newRecorder()
	rec.secretsErr = fmt.Errorf("secrets dir not writable")
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if !report.Failed() {
		t.Fatal("secrets failure did not abort the run")
	}
	assertTrace(t, trace(rec), []string{"secrets"})
	if report.Steps[0].Severity != core.SeverityFatal {
		t.Errorf("severity = %s, want fatal", report.Steps[0].Severity)
	}
}

func TestCreateRenderFailureStopsBeforeRuntime(t *testing.T) {
	rec := newRecorder()
	rec.renderErr = fmt.Errorf("renderer: template error")
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if !report.Failed() {
		t.Fatal("render failure did not abort the run")
	}
	assertTrace(t, trace(rec), []string{"secrets", "dns", "certs", "render"})
}

func TestCreateBootstrapFailureStopsRemainingSites(t *testing.T) {
	rec := newRecorder()
	rec.bootstrapErr["alpha"] = fmt.Errorf("wp-cli exited 1")
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if !report.Failed() {
		t.Fatal("bootstrap failure did not abort the run")
	}
	assertTrace(t, trace(rec), []string{
		"secrets", "dns", "certs", "render", "up", "bootstrap alpha",
	})
}

func TestCreateWithDNSDisabledSkips(t *testing.T) {
	rec := newRecorder()
	d := newTestDriver(rec, false)

	report := d.Run(context.Background(), Mode{Kind: ModeCreate})
	if report.Failed() || report.Degraded() {
		t.Fatalf("run failed: %+v", report.Steps)
	}

	assertTrace(t, trace(rec), []string{
		"secrets", "certs", "render", "up", "bootstrap alpha", "bootstrap beta",
	})
	for _, s := range report.Steps {
		if s.Name == "dns" && s.Status != core.StepSkipped {
			t.Errorf("dns step = %+v, want skipped", s)
		}
	}
}

func TestTeardownOnlyStopsRuntime(t *testing.T) {
	rec := newRecorder()
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModeTeardown})
	if report.Failed() {
		t.Fatalf("teardown failed: %+v", report.Steps)
	}
	// Certificates, secrets and DNS must survive a teardown untouched.
	assertTrace(t, trace(rec), []string{"down"})
}

func TestPartialDNSFailureIsFatal(t *testing.T) {
	rec := newRecorder()
	rec.dnsErr = fmt.Errorf("cloudflare: zone lookup failed")
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModePartial, Resource: ResourceDNS})
	if !report.Failed() {
		t.Fatal("dns failure in partial mode did not abort")
	}
	assertTrace(t, trace(rec), []string{"dns"})
}

func TestPartialRunsSingleResource(t *testing.T) {
	cases := map[Resource][]string{
		ResourceSecrets:   {"secrets"},
		ResourceDNS:       {"dns"},
		ResourceCerts:     {"certs"},
		ResourceBootstrap: {"bootstrap alpha", "bootstrap beta"},
	}
	for resource, want := range cases {
		t.Run(string(resource), func(t *testing.T) {
			rec := newRecorder()
			d := newTestDriver(rec, true)

			report := d.Run(context.Background(), Mode{Kind: ModePartial, Resource: resource})
			if report.Failed() {
				t.Fatalf("partial %s failed: %+v", resource, report.Steps)
			}
			assertTrace(t, trace(rec), want)
		})
	}
}

func TestPartialUnknownResourceAborts(t *testing.T) {
	rec := newRecorder()
	d := newTestDriver(rec, true)

	report := d.Run(context.Background(), Mode{Kind: ModePartial, Resource: "volumes"})
	if !report.Failed() {
		t.Fatal("unknown resource did not abort")
	}
	assertTrace(t, trace(rec), nil)
}
