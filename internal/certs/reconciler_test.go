package certs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// fakeIssuer records Obtain calls and creates the chain file on
// success, the way a real certbot run leaves one behind.
type fakeIssuer struct {
	configDir string
	obtained  []string
	renewals  int
	fail      map[string]error
}

func (f *fakeIssuer) Obtain(_ context.Context, req Request) error {
	if err := f.fail[req.CertName]; err != nil {
		return err
	}
	f.obtained = append(f.obtained, req.CertName)
	dir := filepath.Join(f.configDir, "live", req.CertName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "fullchain.pem"), []byte("chain\n"), 0o644)
}

func (f *fakeIssuer) RenewAll(context.Context) error {
	f.renewals++
	return nil
}

func testGroups() []core.CertGroup {
	return []core.CertGroup{
		{CertName: "alpha.dev", Domains: []string{"alpha.dev", "*.alpha.dev"}, SiteType: core.SiteWordPress},
		{CertName: "beta.dev", Domains: []string{"beta.dev"}, SiteType: core.SiteWordPress},
		{CertName: "mon.alpha.dev", Domains: []string{"mon.alpha.dev"}, SiteType: core.SiteMonitoring},
	}
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeIssuer) {
	t.Helper()
	dir := t.TempDir()
	issuer := &fakeIssuer{configDir: dir, fail: map[string]error{}}
	return NewReconciler(issuer, dir, "ops@alpha.dev", zap.NewNop()), issuer
}

func TestReconcileIssuesAllGroupsOnce(t *testing.T) {
	r, issuer := newTestReconciler(t)

	report, err := r.Reconcile(context.Background(), testGroups(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issued) != 3 || report.Failed() {
		t.Fatalf("issued = %v, failures = %v", report.Issued, report.Failures)
	}
	// Declaration order is the issuance order.
	want := []string{"alpha.dev", "beta.dev", "mon.alpha.dev"}
	for i, name := range want {
		if issuer.obtained[i] != name {
			t.Errorf("call %d = %s, want %s", i, issuer.obtained[i], name)
		}
	}

	// A second pass finds every chain file and calls the CA zero times.
	issuer.obtained = nil
	report, err = r.Reconcile(context.Background(), testGroups(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(issuer.obtained) != 0 {
		t.Errorf("second pass called the CA for %v", issuer.obtained)
	}
	if len(report.Reused) != 3 {
		t.Errorf("reused = %v, want all 3", report.Reused)
	}
}

func TestReconcileForceBypassesReuse(t *testing.T) {
	r, issuer := newTestReconciler(t)

	if _, err := r.Reconcile(context.Background(), testGroups(), Options{}); err != nil {
		t.Fatal(err)
	}
	issuer.obtained = nil

	report, err := r.Reconcile(context.Background(), testGroups(), Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(issuer.obtained) != 3 {
		t.Errorf("forced pass called the CA %d times, want 3", len(issuer.obtained))
	}
	if len(report.Reused) != 0 {
		t.Errorf("forced pass reused %v", report.Reused)
	}
}

func TestReconcileTypeFilter(t *testing.T) {
	r, issuer := newTestReconciler(t)

	report, err := r.Reconcile(context.Background(), testGroups(), Options{TypeFilter: core.SiteMonitoring})
	if err != nil {
		t.Fatal(err)
	}
	if len(issuer.obtained) != 1 || issuer.obtained[0] != "mon.alpha.dev" {
		t.Errorf("obtained = %v, want only the monitoring group", issuer.obtained)
	}
	if len(report.Skipped) != 2 {
		t.Errorf("skipped = %v, want the two wordpress groups", report.Skipped)
	}
}

func TestReconcileIsolatesGroupFailure(t *testing.T) {
	r, issuer := newTestReconciler(t)
	issuer.fail["alpha.dev"] = fmt.Errorf("rate limited")

	report, err := r.Reconcile(context.Background(), testGroups(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issued) != 2 {
		t.Errorf("issued = %v, want the two groups after the failing one", report.Issued)
	}
	if len(report.Failures) != 1 || report.Failures[0].Name != "alpha.dev" {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if report.Failures[0].Severity != core.SeverityWarning {
		t.Errorf("group failure severity = %s, want warning", report.Failures[0].Severity)
	}
}

func TestReconcileRejectsPlaceholderContact(t *testing.T) {
	for _, email := range []string{
		"admin@example.com",
		"admin@sub.example.org",
		"admin@edge.invalid",
		"admin@host.test",
		"not-an-address",
	} {
		t.Run(email, func(t *testing.T) {
			dir := t.TempDir()
			issuer := &fakeIssuer{configDir: dir, fail: map[string]error{}}
			r := NewReconciler(issuer, dir, email, zap.NewNop())

			_, err := r.Reconcile(context.Background(), testGroups(), Options{})
			if err == nil {
				t.Fatal("expected contact validation to fail")
			}
			var cfgErr *core.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != "letsencrypt.email" {
				t.Errorf("error = %v, want a letsencrypt.email config error", err)
			}
			if len(issuer.obtained) != 0 {
				t.Errorf("CA was called despite invalid contact: %v", issuer.obtained)
			}
		})
	}
}

func TestReconcileReusedPassIgnoresContact(t *testing.T) {
	dir := t.TempDir()
	for _, g := range testGroups() {
		liveDir := filepath.Join(dir, "live", g.CertName)
		if err := os.MkdirAll(liveDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(liveDir, "fullchain.pem"), []byte("chain\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	issuer := &fakeIssuer{configDir: dir, fail: map[string]error{}}
	r := NewReconciler(issuer, dir, "admin@example.com", zap.NewNop())

	report, err := r.Reconcile(context.Background(), testGroups(), Options{})
	if err != nil {
		t.Fatalf("reused pass failed on the contact address: %v", err)
	}
	if len(report.Reused) != 3 || len(issuer.obtained) != 0 {
		t.Errorf("reused = %v, obtained = %v, want all reused with zero CA calls", report.Reused, issuer.obtained)
	}

	// Forcing reissuance makes the CA call imminent, so the same
	// address is now rejected before any call goes out.
	_, err = r.Reconcile(context.Background(), testGroups(), Options{Force: true})
	if err == nil {
		t.Fatal("expected the placeholder contact to be rejected once issuance is needed")
	}
	if len(issuer.obtained) != 0 {
		t.Errorf("CA was called despite invalid contact: %v", issuer.obtained)
	}
}

func TestRenew(t *testing.T) {
	t.Run("reload failure is a warning", func(t *testing.T) {
		r, issuer := newTestReconciler(t)

		report, err := r.Renew(context.Background(), func(context.Context) error {
			return fmt.Errorf("edge container not running")
		})
		if err != nil {
			t.Fatal(err)
		}
		if issuer.renewals != 1 {
			t.Errorf("renewals = %d, want 1", issuer.renewals)
		}
		if !report.Renewed || report.Reloaded || report.Warning == "" {
			t.Errorf("report = %+v, want renewed with a reload warning", report)
		}
	})

	t.Run("successful reload", func(t *testing.T) {
		r, _ := newTestReconciler(t)

		report, err := r.Renew(context.Background(), func(context.Context) error { return nil })
		if err != nil {
			t.Fatal(err)
		}
		if !report.Renewed || !report.Reloaded || report.Warning != "" {
			t.Errorf("report = %+v", report)
		}
	})
}
