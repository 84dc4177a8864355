package dns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/leozw/wp-edge/internal/core"
)

// VerifyResult reports whether one desired record currently resolves to
// its desired content. Proxied records legitimately resolve to edge
// addresses, so a mismatch there is informational only.
type VerifyResult struct {
	Record   core.Record
	Resolved []string
	Match    bool
	Err      error
}

type Verifier struct {
	client *dns.Client
	server string
}

func NewVerifier() *Verifier {
	return &Verifier{
		client: &dns.Client{Timeout: 5 * time.Second},
		server: "1.1.1.1:53",
	}
}

// Verify resolves each desired record through the public resolver.
// Wildcard names are probed with a synthetic label under the wildcard
// base.
func (v *Verifier) Verify(ctx context.Context, records []core.Record) []VerifyResult {
	results := make([]VerifyResult, 0, len(records))
	for _, rec := range records {
		results = append(results, v.verifyOne(ctx, rec))
	}
	return results
}

func (v *Verifier) verifyOne(ctx context.Context, rec core.Record) VerifyResult {
	name := rec.Name
	if strings.HasPrefix(name, "*.") {
		name = "wp-edge-probe." + strings.TrimPrefix(name, "*.")
	}

	qtype := dns.TypeA
	if rec.Type == core.RecordAAAA {
		qtype = dns.TypeAAAA
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)

	reply, _, err := v.client.ExchangeContext(ctx, msg, v.server)
	if err != nil {
		return VerifyResult{Record: rec, Err: err}
	}
	if reply.Rcode != dns.RcodeSuccess {
		return VerifyResult{Record: rec, Err: fmt.Errorf("query for %s returned %s", name, dns.RcodeToString[reply.Rcode])}
	}

	result := VerifyResult{Record: rec}
	for _, answer := range reply.Answer {
		switch rr := answer.(type) {
		case *dns.A:
			result.Resolved = append(result.Resolved, rr.A.String())
		case *dns.AAAA:
			result.Resolved = append(result.Resolved, rr.AAAA.String())
		}
	}
	for _, addr := range result.Resolved {
		if addr == rec.Content {
			result.Match = true
		}
	}
	return result
}
