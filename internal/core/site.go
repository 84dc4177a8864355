package core

import "strings"

type SiteType string

const (
	SiteWordPress  SiteType = "wordpress"
	SiteMonitoring SiteType = "monitoring"
)

// Site is one tenant behind the edge. Identity is Name; ApexDomain is
// unique across all sites.
type Site struct {
	Name       string   `json:"name"`
	Type       SiteType `json:"type"`
	ApexDomain string   `json:"apex_domain"`
	Upstream   string   `json:"upstream"`
	TLSDomains []string `json:"tls_domains"`

	// WordPress-only settings
	PHP   PHPLimits  `json:"php,omitempty"`
	DB    DBConfig   `json:"db,omitempty"`
	Admin AdminSlots `json:"admin,omitempty"`
}

type PHPLimits struct {
	UploadMaxMB int `json:"upload_max_mb"`
	PostMaxMB   int `json:"post_max_mb"`
}

type DBConfig struct {
	Name         string `json:"name"`
	User         string `json:"user"`
	PasswordSlot string `json:"password_slot"`
}

type AdminSlots struct {
	User         string `json:"user"`
	Email        string `json:"email"`
	PasswordSlot string `json:"password_slot"`
}

func (s *Site) CertName() string {
	return CertNameFor(s.TLSDomains)
}

// CertGroup is the certificate bundle derived from one site's TLS
// domains. Groups are never stored; they are recomputed each run.
type CertGroup struct {
	CertName string   `json:"cert_name"`
	Domains  []string `json:"domains"`
	SiteName string   `json:"site_name"`
	SiteType SiteType `json:"site_type"`
}

// CertNameFor picks the canonical bundle name for a set of TLS domains:
// the first non-wildcard domain, or the first entry if all are
// wildcards. Certbot names its live directory after the first domain
// requested, so this choice must stay deterministic.
func CertNameFor(domains []string) string {
	for _, d := range domains {
		if !IsWildcard(d) {
			return d
		}
	}
	return domains[0]
}

func IsWildcard(domain string) bool {
	return strings.HasPrefix(domain, "*.")
}

// Groups derives one certificate group per site, in declaration order.
func Groups(sites []Site) []CertGroup {
	groups := make([]CertGroup, 0, len(sites))
	for _, s := range sites {
		groups = append(groups, CertGroup{
			CertName: s.CertName(),
			Domains:  append([]string(nil), s.TLSDomains...),
			SiteName: s.Name,
			SiteType: s.Type,
		})
	}
	return groups
}
