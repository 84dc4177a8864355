package preflight

import (
	"fmt"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
)

// Result is the registration state of one apex domain. Preflight never
// blocks a run; an unregistered or soon-expiring domain is a warning
// the operator sees before DNS and certificate mutation start.
type Result struct {
	Domain       string     `json:"domain"`
	Registrar    string     `json:"registrar,omitempty"`
	DomainExpiry *time.Time `json:"domain_expiry,omitempty"`
	DaysToExpiry int        `json:"days_to_expiry,omitempty"`
	Warning      string     `json:"warning,omitempty"`
	Err          error      `json:"-"`
}

type Checker struct {
	logger *zap.Logger
}

func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{logger: logger}
}

// Check runs a WHOIS lookup for each site's apex domain.
func (c *Checker) Check(sites []core.Site) []Result {
	results := make([]Result, 0, len(sites))
	for _, site := range sites {
		result := c.checkOne(site.ApexDomain)
		if result.Warning != "" {
			c.logger.Warn("domain preflight",
				zap.String("domain", result.Domain),
				zap.String("warning", result.Warning))
		}
		results = append(results, result)
	}
	return results
}

func (c *Checker) checkOne(domain string) Result {
	result := Result{Domain: domain}

	raw, err := whois.Whois(domain)
	if err != nil {
		result.Err = fmt.Errorf("whois lookup failed: %w", err)
		result.Warning = result.Err.Error()
		return result
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		if err == whoisparser.ErrNotFoundDomain {
			result.Warning = "domain is not registered"
		} else {
			result.Err = fmt.Errorf("whois parse failed: %w", err)
			result.Warning = result.Err.Error()
		}
		return result
	}

	result.Registrar = parsed.Registrar.Name

	if parsed.Domain.ExpirationDate != "" {
		if t, err := parseWhoisDate(parsed.Domain.ExpirationDate); err == nil {
			result.DomainExpiry = &t
			result.DaysToExpiry = int(time.Until(t).Hours() / 24)
		}
	}

	if result.DomainExpiry != nil && result.DaysToExpiry < 60 {
		result.Warning = fmt.Sprintf("domain expires in %d days", result.DaysToExpiry)
	}

	return result
}

func parseWhoisDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"02-Jan-2006",
		"2006.01.02 15:04:05",
		"2006/01/02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
