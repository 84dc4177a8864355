package certs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

type Options struct {
	// Force bypasses the reuse guard and always calls the CA.
	Force bool

	// TypeFilter limits the pass to groups owned by sites of one type.
	// Empty means all groups.
	TypeFilter core.SiteType
}

type IssueReport struct {
	Issued   []string          `json:"issued"`
	Reused   []string          `json:"reused"`
	Skipped  []string          `json:"skipped"`
	Failures []core.StepResult `json:"failures,omitempty"`
}

func (r *IssueReport) Failed() bool {
	return len(r.Failures) > 0
}

type Reconciler struct {
	issuer    Issuer
	configDir string
	email     string
	logger    *zap.Logger
}

func NewReconciler(issuer Issuer, configDir, email string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		issuer:    issuer,
		configDir: configDir,
		email:     email,
		logger:    logger,
	}
}

// ChainPath is the canonical location of a bundle's full chain. Its
// existence is the only state the reuse guard trusts; expiry and SAN
// contents are deliberately not inspected (see Inspect).
func (r *Reconciler) ChainPath(certName string) string {
	return filepath.Join(r.configDir, "live", certName, "fullchain.pem")
}

// Reconcile drives each group toward an issued bundle, in declaration
// order. Existing bundles are reused unless forced: CA issuance is
// rate-limited and a redundant call burns quota. One group's failure
// never blocks the others.
func (r *Reconciler) Reconcile(ctx context.Context, groups []core.CertGroup, opts Options) (*IssueReport, error) {
	report := &IssueReport{}

	for _, group := range groups {
		if opts.TypeFilter != "" && group.SiteType != opts.TypeFilter {
			report.Skipped = append(report.Skipped, group.CertName)
			continue
		}

		if !opts.Force {
			if _, err := os.Stat(r.ChainPath(group.CertName)); err == nil {
				r.logger.Info("reusing existing certificate",
					zap.String("cert_name", group.CertName),
					zap.String("chain", r.ChainPath(group.CertName)))
				report.Reused = append(report.Reused, group.CertName)
				continue
			}
		}

		// The contact matters only once a CA call is imminent; a pass
		// that reuses every bundle must not trip over it.
		if err := validateContact(r.email); err != nil {
			return nil, err
		}

		err := r.issuer.Obtain(ctx, Request{
			CertName: group.CertName,
			Domains:  group.Domains,
			Email:    r.email,
		})
		if err != nil {
			r.logger.Warn("issuance failed",
				zap.String("cert_name", group.CertName),
				zap.Error(err))
			report.Failures = append(report.Failures, core.StepResult{
				Name:     group.CertName,
				Status:   core.StepDegraded,
				Severity: core.SeverityWarning,
				Err:      err,
				Detail:   err.Error(),
			})
			continue
		}

		r.logger.Info("issued certificate", zap.String("cert_name", group.CertName))
		report.Issued = append(report.Issued, group.CertName)
	}

	return report, nil
}

type RenewReport struct {
	Renewed  bool   `json:"renewed"`
	Reloaded bool   `json:"reloaded"`
	Warning  string `json:"warning,omitempty"`
}

// Renew delegates wholesale renewal to the CA collaborator, bypassing
// the reuse guard, then best-effort reloads the edge so a running
// process observes the new chain. A reload failure is a warning: the
// edge may legitimately not be running during first-time setup.
func (r *Reconciler) Renew(ctx context.Context, reload func(context.Context) error) (*RenewReport, error) {
	if err := r.issuer.RenewAll(ctx); err != nil {
		return nil, err
	}

	report := &RenewReport{Renewed: true}

	if reload != nil {
		if err := reload(ctx); err != nil {
			r.logger.Warn("edge reload failed after renewal", zap.Error(err))
			report.Warning = fmt.Sprintf("edge reload failed: %v", err)
		} else {
			report.Reloaded = true
		}
	}

	return report, nil
}

// reservedContactDomains are placeholder domains the CA rejects. Catch
// them locally: a doomed request still consumes a rate-limit slot.
var reservedContactDomains = []string{
	"example.com", "example.org", "example.net",
}

var reservedContactTLDs = []string{
	".example", ".invalid", ".test", ".localhost",
}

func validateContact(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return &core.ConfigError{Field: "letsencrypt.email", Reason: fmt.Sprintf("%q is not an email address", email)}
	}
	domain := strings.ToLower(email[at+1:])

	for _, reserved := range reservedContactDomains {
		if domain == reserved || strings.HasSuffix(domain, "."+reserved) {
			return &core.ConfigError{
				Field:  "letsencrypt.email",
				Reason: fmt.Sprintf("%q uses reserved placeholder domain %s; the CA will reject it", email, reserved),
			}
		}
	}
	for _, tld := range reservedContactTLDs {
		if strings.HasSuffix(domain, tld) {
			return &core.ConfigError{
				Field:  "letsencrypt.email",
				Reason: fmt.Sprintf("%q uses reserved top-level domain %s; the CA will reject it", email, tld),
			}
		}
	}
	return nil
}
