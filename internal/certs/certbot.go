package certs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// Request asks the CA collaborator for one bundle covering the full
// domain set of a certificate group.
type Request struct {
	CertName string
	Domains  []string
	Email    string
}

// Issuer is the certificate-authority collaborator.
type Issuer interface {
	Obtain(ctx context.Context, req Request) error
	RenewAll(ctx context.Context) error
}

// CertbotIssuer shells out to certbot with the Cloudflare DNS-01
// plugin. Issuance and renewal both write under configDir/live.
type CertbotIssuer struct {
	configDir       string
	credentialsFile string
	logger          *zap.Logger
}

func NewCertbotIssuer(configDir, credentialsFile string, logger *zap.Logger) *CertbotIssuer {
	return &CertbotIssuer{
		configDir:       configDir,
		credentialsFile: credentialsFile,
		logger:          logger,
	}
}

func (c *CertbotIssuer) Obtain(ctx context.Context, req Request) error {
	args := []string{
		"certonly",
		"--non-interactive",
		"--agree-tos",
		"--email", req.Email,
		"--dns-cloudflare",
		"--dns-cloudflare-credentials", c.credentialsFile,
		"--config-dir", c.configDir,
		"--cert-name", req.CertName,
	}
	for _, d := range req.Domains {
		args = append(args, "-d", d)
	}

	c.logger.Info("requesting certificate",
		zap.String("cert_name", req.CertName),
		zap.Strings("domains", req.Domains))

	return c.runCertbot(ctx, args)
}

func (c *CertbotIssuer) RenewAll(ctx context.Context) error {
	return c.runCertbot(ctx, []string{"renew", "--config-dir", c.configDir})
}

func (c *CertbotIssuer) runCertbot(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "certbot", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &core.CollaboratorError{
			Collaborator: "certbot",
			Err:          fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(out))),
		}
	}
	return nil
}

// WriteCredentials writes the DNS plugin credentials file certbot needs
// for the DNS-01 challenge. Mode 0600: the file holds the API token.
func WriteCredentials(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	content := fmt.Sprintf("dns_cloudflare_api_token = %s\n", token)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
