package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/leozw/wp-edge/internal/core"
)

type Config struct {
	Edge        EdgeConfig
	LetsEncrypt LetsEncryptConfig `mapstructure:"letsencrypt"`
	Cloudflare  CloudflareConfig
	Secrets     SecretsConfig
	Runtime     RuntimeConfig
	Render      RenderConfig
}

type EdgeConfig struct {
	BindPort int `mapstructure:"bind_port"`
	Sites    []SiteConfig
}

type SiteConfig struct {
	Name       string
	Type       string
	ApexDomain string `mapstructure:"apex_domain"`
	Upstream   string
	TLSDomains []string `mapstructure:"tls_domains"`
	PHP        PHPConfig
	DB         DBConfig
	Admin      AdminConfig
}

type PHPConfig struct {
	UploadMaxMB int `mapstructure:"upload_max_mb"`
	PostMaxMB   int `mapstructure:"post_max_mb"`
}

type DBConfig struct {
	Name         string
	User         string
	PasswordSlot string `mapstructure:"password_slot"`
}

type AdminConfig struct {
	User         string
	Email        string
	PasswordSlot string `mapstructure:"password_slot"`
}

type LetsEncryptConfig struct {
	Dir   string
	Email string
}

type CloudflareConfig struct {
	ProxyEnabled   bool   `mapstructure:"proxy_enabled"`
	DNSAPITokenEnv string `mapstructure:"dns_api_token_env"`
	DNS            DNSConfig
}

type DNSConfig struct {
	Enabled    bool
	OriginIPv4 string `mapstructure:"origin_ipv4"`
	OriginIPv6 string `mapstructure:"origin_ipv6"`
	TTL        int
}

type SecretsConfig struct {
	File     string
	AuditLog string `mapstructure:"audit_log"`
}

type RuntimeConfig struct {
	ComposeFile string `mapstructure:"compose_file"`
	Project     string
	EdgeService string `mapstructure:"edge_service"`
}

type RenderConfig struct {
	Command []string
}

// Load reads and validates the desired-state document. Validation is
// all-or-nothing: a config that fails any check is rejected before the
// caller can mutate external state with it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("edge.bind_port", 443)
	v.SetDefault("letsencrypt.dir", "/etc/letsencrypt")
	v.SetDefault("cloudflare.proxy_enabled", true)
	v.SetDefault("cloudflare.dns_api_token_env", "CF_DNS_API_TOKEN")
	v.SetDefault("cloudflare.dns.ttl", 1)
	v.SetDefault("cloudflare.dns.origin_ipv4", "auto")
	v.SetDefault("secrets.file", "config/secrets.env")
	v.SetDefault("secrets.audit_log", "config/secrets-audit.log")
	v.SetDefault("runtime.compose_file", "out/docker-compose.yml")
	v.SetDefault("runtime.project", "wp-edge")
	v.SetDefault("runtime.edge_service", "edge")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fqdnPattern allows a leading "*." wildcard marker; the remainder must
// look like a dotted hostname.
var fqdnPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

func validFQDN(name string) bool {
	name = strings.TrimPrefix(name, "*.")
	return fqdnPattern.MatchString(name) && strings.Contains(name, ".")
}

func (c *Config) Validate() error {
	var errs []error

	fail := func(field, reason string) {
		errs = append(errs, &core.ConfigError{Field: field, Reason: reason})
	}

	if len(c.Edge.Sites) == 0 {
		fail("edge.sites", "must be a non-empty list")
		return errors.Join(errs...)
	}

	apexSeen := map[string]string{}
	domainSeen := map[string]string{}
	wordpressCount := 0

	for i, s := range c.Edge.Sites {
		field := func(name string) string {
			return fmt.Sprintf("edge.sites[%d].%s", i, name)
		}

		if s.Name == "" {
			fail(field("name"), "must be a non-empty string")
		}
		switch core.SiteType(s.Type) {
		case core.SiteWordPress:
			wordpressCount++
		case core.SiteMonitoring:
		default:
			fail(field("type"), fmt.Sprintf("unknown site type %q (want wordpress or monitoring)", s.Type))
		}

		if s.ApexDomain == "" {
			fail(field("apex_domain"), "must be a non-empty string")
		} else if prev, dup := apexSeen[s.ApexDomain]; dup {
			fail(field("apex_domain"), fmt.Sprintf("%q already used by site %q", s.ApexDomain, prev))
		} else {
			apexSeen[s.ApexDomain] = s.Name
		}

		if s.Upstream == "" {
			fail(field("upstream"), "must be a non-empty string")
		}

		if len(s.TLSDomains) == 0 {
			fail(field("tls_domains"), "must be a non-empty list")
		}
		for _, d := range s.TLSDomains {
			if !validFQDN(d) {
				fail(field("tls_domains"), fmt.Sprintf("invalid domain %q", d))
				continue
			}
			if prev, dup := domainSeen[d]; dup && prev != s.Name {
				fail(field("tls_domains"), fmt.Sprintf("%q already claimed by site %q", d, prev))
			} else {
				domainSeen[d] = s.Name
			}
		}

		if core.SiteType(s.Type) == core.SiteWordPress {
			if s.PHP.UploadMaxMB < 1 || s.PHP.UploadMaxMB > 512 {
				fail(field("php.upload_max_mb"), fmt.Sprintf("%d outside [1, 512]", s.PHP.UploadMaxMB))
			}
			if s.PHP.PostMaxMB < 1 || s.PHP.PostMaxMB > 512 {
				fail(field("php.post_max_mb"), fmt.Sprintf("%d outside [1, 512]", s.PHP.PostMaxMB))
			}
			if s.PHP.PostMaxMB < s.PHP.UploadMaxMB {
				fail(field("php.post_max_mb"), fmt.Sprintf("%d smaller than upload_max_mb %d", s.PHP.PostMaxMB, s.PHP.UploadMaxMB))
			}
			if s.DB.PasswordSlot == "" {
				fail(field("db.password_slot"), "must name a secret slot")
			}
			if s.Admin.PasswordSlot == "" {
				fail(field("admin.password_slot"), "must name a secret slot")
			}
		}
	}

	if wordpressCount < 2 {
		fail("edge.sites", fmt.Sprintf("need at least two wordpress sites, have %d", wordpressCount))
	}

	// Group derivation needs every site to carry at least one TLS
	// domain; report the field-level violations first.
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return errors.Join(validateGroups(c.Sites())...)
}

// validateGroups rejects ambiguous certificate ownership: two groups
// whose domain sets overlap must agree on the cert name, and the
// monitoring bundle must stay disjoint from every wordpress bundle.
func validateGroups(sites []core.Site) []error {
	var errs []error
	groups := core.Groups(sites)

	for i := range groups {
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			if !domainsOverlap(a.Domains, b.Domains) {
				continue
			}
			if a.CertName != b.CertName {
				errs = append(errs, &core.ConfigError{
					Field: "edge.sites",
					Reason: fmt.Sprintf("sites %q and %q share TLS domains but resolve to different cert names (%q vs %q)",
						a.SiteName, b.SiteName, a.CertName, b.CertName),
				})
			}
		}
	}

	for _, a := range groups {
		if a.SiteType != core.SiteMonitoring {
			continue
		}
		for _, b := range groups {
			if b.SiteType == core.SiteWordPress && a.CertName == b.CertName {
				errs = append(errs, &core.ConfigError{
					Field: "edge.sites",
					Reason: fmt.Sprintf("monitoring site %q shares certificate %q with wordpress site %q",
						a.SiteName, a.CertName, b.SiteName),
				})
			}
		}
	}

	return errs
}

func domainsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Sites converts the raw site entries into the core model.
func (c *Config) Sites() []core.Site {
	sites := make([]core.Site, 0, len(c.Edge.Sites))
	for _, s := range c.Edge.Sites {
		sites = append(sites, core.Site{
			Name:       s.Name,
			Type:       core.SiteType(s.Type),
			ApexDomain: s.ApexDomain,
			Upstream:   s.Upstream,
			TLSDomains: append([]string(nil), s.TLSDomains...),
			PHP:        core.PHPLimits{UploadMaxMB: s.PHP.UploadMaxMB, PostMaxMB: s.PHP.PostMaxMB},
			DB:         core.DBConfig{Name: s.DB.Name, User: s.DB.User, PasswordSlot: s.DB.PasswordSlot},
			Admin:      core.AdminSlots{User: s.Admin.User, Email: s.Admin.Email, PasswordSlot: s.Admin.PasswordSlot},
		})
	}
	return sites
}

// WordPressSites returns the wordpress-type sites in declaration order.
func (c *Config) WordPressSites() []core.Site {
	var out []core.Site
	for _, s := range c.Sites() {
		if s.Type == core.SiteWordPress {
			out = append(out, s)
		}
	}
	return out
}
