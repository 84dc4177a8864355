package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/bootstrap"
	"github.com/leozw/wp-edge/internal/certs"
	"github.com/leozw/wp-edge/internal/config"
	"github.com/leozw/wp-edge/internal/core"
	"github.com/leozw/wp-edge/internal/dns"
	"github.com/leozw/wp-edge/internal/preflight"
	"github.com/leozw/wp-edge/internal/reconcile"
	"github.com/leozw/wp-edge/internal/runtime"
	"github.com/leozw/wp-edge/internal/secrets"
	"github.com/leozw/wp-edge/pkg/cloudflare"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "create":
		return runDriver(os.Args[2:], reconcile.Mode{Kind: reconcile.ModeCreate})
	case "teardown":
		return runDriver(os.Args[2:], reconcile.Mode{Kind: reconcile.ModeTeardown})
	case "secrets":
		return runDriver(os.Args[2:], reconcile.Mode{Kind: reconcile.ModePartial, Resource: reconcile.ResourceSecrets})
	case "dns":
		return runDNS(os.Args[2:])
	case "certs":
		return runDriver(os.Args[2:], reconcile.Mode{Kind: reconcile.ModePartial, Resource: reconcile.ResourceCerts})
	case "renew":
		return runRenew(os.Args[2:])
	case "bootstrap":
		return runDriver(os.Args[2:], reconcile.Mode{Kind: reconcile.ModePartial, Resource: reconcile.ResourceBootstrap})
	case "status":
		return runStatus(os.Args[2:])
	case "preflight":
		return runPreflight(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: edgectl <subcommand> [flags]

Subcommands:
  create     Full reconciliation: secrets, DNS, certificates, runtime, bootstrap
  teardown   Stop the runtime (keeps certificates, secrets, and volumes)
  secrets    Provision missing secret slots only
  dns        Plan (default) or apply DNS records
  certs      Reconcile certificates only (--force, --only-type)
  renew      Renew all certificates and reload the edge
  bootstrap  Advance WordPress bootstrap state only
  status     Show certificate and DNS state
  preflight  WHOIS registration check for all apex domains

Run 'edgectl <subcommand> --help' for subcommand flags.
`)
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "config/config.yml", "path to the desired-state document")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// apiToken resolves the DNS provider token from the environment first,
// then the secrets store, matching how operators seed it.
func apiToken(cfg *config.Config, store *secrets.Store) (string, error) {
	name := cfg.Cloudflare.DNSAPITokenEnv
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if v, ok := store.Get(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing Cloudflare API token: export %s or add it to %s", name, store.Path())
}

// buildDeps wires every reconciler against the real collaborators.
func buildDeps(cfg *config.Config, logger *zap.Logger) (reconcile.Deps, *secrets.Store, error) {
	store, err := secrets.OpenStore(cfg.Secrets.File)
	if err != nil {
		return reconcile.Deps{}, nil, err
	}

	compose := runtime.NewCompose(cfg.Runtime.ComposeFile, cfg.Runtime.Project, logger)
	deps := reconcile.Deps{
		Secrets:   secrets.NewProvisioner(store, cfg.Secrets.AuditLog, logger),
		Slots:     secrets.SlotsFor(cfg),
		Runtime:   compose,
		Renderer:  reconcile.NewArtifactRenderer(cfg.Render.Command, logger),
		Bootstrap: bootstrap.NewMachine(bootstrap.NewWPCLI(compose, logger), store, logger),
	}

	credentialsFile := filepath.Join(filepath.Dir(cfg.Secrets.File), "cloudflare.ini")

	if cfg.Cloudflare.DNS.Enabled {
		token, err := apiToken(cfg, store)
		if err != nil {
			return reconcile.Deps{}, nil, err
		}
		if err := certs.WriteCredentials(credentialsFile, token); err != nil {
			return reconcile.Deps{}, nil, err
		}
		deps.DNS = dns.NewReconciler(cloudflare.NewClient(token), logger)
		deps.ResolveOrigin = func(ctx context.Context) (dns.Origin, error) {
			return dns.ResolveOrigin(ctx, cfg.Cloudflare.DNS)
		}
	}

	issuer := certs.NewCertbotIssuer(cfg.LetsEncrypt.Dir, credentialsFile, logger)
	deps.Certs = certs.NewReconciler(issuer, cfg.LetsEncrypt.Dir, cfg.LetsEncrypt.Email, logger)

	return deps, store, nil
}

func runDriver(args []string, mode reconcile.Mode) error {
	fs := flag.NewFlagSet(string(mode.Kind), flag.ExitOnError)
	configPath := commonFlags(fs)
	force := fs.Bool("force", false, "bypass the certificate reuse guard")
	onlyType := fs.String("only-type", "", "limit certificates to one site type (wordpress or monitoring)")
	fs.Parse(args)

	mode.Force = *force
	mode.TypeFilter = core.SiteType(*onlyType)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	deps, _, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	report := reconcile.NewDriver(cfg, deps, logger).Run(ctx, mode)
	printReport(report)
	if report.Failed() {
		return fmt.Errorf("run %s aborted", report.ID)
	}
	return nil
}

func runDNS(args []string) error {
	fs := flag.NewFlagSet("dns", flag.ExitOnError)
	configPath := commonFlags(fs)
	apply := fs.Bool("apply", false, "apply changes (default: plan only)")
	fs.Parse(args)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Cloudflare.DNS.Enabled {
		fmt.Println("cloudflare.dns.enabled is false; nothing to do.")
		return nil
	}

	store, err := secrets.OpenStore(cfg.Secrets.File)
	if err != nil {
		return err
	}
	token, err := apiToken(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	origin, err := dns.ResolveOrigin(ctx, cfg.Cloudflare.DNS)
	if err != nil {
		return err
	}

	desired := dns.Desired(cfg.Sites(), origin, cfg.Cloudflare.DNS.TTL, cfg.Cloudflare.ProxyEnabled)
	reconciler := dns.NewReconciler(cloudflare.NewClient(token), logger)

	if !*apply {
		diff, err := reconciler.Plan(ctx, desired)
		if err != nil {
			return err
		}
		for _, r := range diff.Create {
			fmt.Printf("PLAN create: %s\n", r)
		}
		for _, ch := range diff.Update {
			fmt.Printf("PLAN update: %s (was %s)\n", ch.Desired, ch.Actual.Content)
		}
		for _, r := range diff.InPlace {
			fmt.Printf("OK: %s\n", r)
		}
		for _, r := range diff.Unmanaged {
			fmt.Printf("UNMANAGED (left alone): %s\n", r)
		}
		fmt.Printf("Done. create=%d update=%d ok=%d unmanaged=%d\n",
			len(diff.Create), len(diff.Update), len(diff.InPlace), len(diff.Unmanaged))
		return nil
	}

	report, err := reconciler.Apply(ctx, desired)
	if err != nil {
		return err
	}
	fmt.Printf("Done. created=%d updated=%d unchanged=%d failed=%d\n",
		report.Created, report.Updated, report.Unchanged, len(report.Failures))
	for _, f := range report.Failures {
		fmt.Printf("FAILED: %s: %s\n", f.Name, f.Detail)
	}
	if report.Failed() {
		return fmt.Errorf("%d records failed", len(report.Failures))
	}
	return nil
}

func runRenew(args []string) error {
	fs := flag.NewFlagSet("renew", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	store, err := secrets.OpenStore(cfg.Secrets.File)
	if err != nil {
		return err
	}
	token, err := apiToken(cfg, store)
	if err != nil {
		return err
	}

	credentialsFile := filepath.Join(filepath.Dir(cfg.Secrets.File), "cloudflare.ini")
	if err := certs.WriteCredentials(credentialsFile, token); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	compose := runtime.NewCompose(cfg.Runtime.ComposeFile, cfg.Runtime.Project, logger)
	issuer := certs.NewCertbotIssuer(cfg.LetsEncrypt.Dir, credentialsFile, logger)
	reconciler := certs.NewReconciler(issuer, cfg.LetsEncrypt.Dir, cfg.LetsEncrypt.Email, logger)

	report, err := reconciler.Renew(ctx, func(ctx context.Context) error {
		return compose.Reload(ctx, cfg.Runtime.EdgeService)
	})
	if err != nil {
		return err
	}
	if report.Warning != "" {
		fmt.Printf("Renewed with warning: %s\n", report.Warning)
	} else {
		fmt.Println("Renewed and reloaded.")
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	issuer := certs.NewCertbotIssuer(cfg.LetsEncrypt.Dir, "", logger)
	reconciler := certs.NewReconciler(issuer, cfg.LetsEncrypt.Dir, cfg.LetsEncrypt.Email, logger)
	statuses := reconciler.Inspect(core.Groups(cfg.Sites()))

	out := map[string]any{"certificates": statuses}

	if cfg.Cloudflare.DNS.Enabled {
		ctx, stop := signalContext()
		defer stop()

		origin, err := dns.ResolveOrigin(ctx, cfg.Cloudflare.DNS)
		if err != nil {
			out["dns_error"] = err.Error()
		} else {
			desired := dns.Desired(cfg.Sites(), origin, cfg.Cloudflare.DNS.TTL, cfg.Cloudflare.ProxyEnabled)
			out["dns"] = dns.NewVerifier().Verify(ctx, desired)
		}
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runPreflight(args []string) error {
	fs := flag.NewFlagSet("preflight", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	results := preflight.NewChecker(logger).Check(cfg.Sites())
	for _, r := range results {
		if r.Warning != "" {
			fmt.Printf("WARN %s: %s\n", r.Domain, r.Warning)
			continue
		}
		fmt.Printf("OK   %s (registrar=%s, expires in %d days)\n", r.Domain, r.Registrar, r.DaysToExpiry)
	}
	return nil
}

func printReport(report *reconcile.RunReport) {
	fmt.Printf("Run %s (%s)\n", report.ID, report.Mode)
	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-22s %s", step.Name, step.Status)
		if step.Detail != "" {
			line += "  " + step.Detail
		}
		fmt.Println(line)
	}
}
