package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/leozw/wp-edge/internal/core"
)

// Status describes one bundle on disk. This feeds the status command
// only: the reuse guard trusts file existence and nothing else, so an
// expired bundle with the right filename is still reused. Surfacing
// that here lets operators see the gap without changing reuse behavior.
type Status struct {
	CertName string    `json:"cert_name"`
	Present  bool      `json:"present"`
	NotAfter time.Time `json:"not_after,omitempty"`
	DaysLeft int       `json:"days_left,omitempty"`
	DNSNames []string  `json:"dns_names,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Inspect parses each group's chain file and reports expiry and SANs.
func (r *Reconciler) Inspect(groups []core.CertGroup) []Status {
	statuses := make([]Status, 0, len(groups))
	for _, group := range groups {
		statuses = append(statuses, r.inspectOne(group))
	}
	return statuses
}

func (r *Reconciler) inspectOne(group core.CertGroup) Status {
	status := Status{CertName: group.CertName}

	data, err := os.ReadFile(r.ChainPath(group.CertName))
	if err != nil {
		if !os.IsNotExist(err) {
			status.Error = err.Error()
		}
		return status
	}
	status.Present = true

	block, _ := pem.Decode(data)
	if block == nil {
		status.Error = "chain file contains no PEM data"
		return status
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		status.Error = fmt.Sprintf("parsing leaf certificate: %v", err)
		return status
	}

	status.NotAfter = cert.NotAfter
	status.DaysLeft = int(time.Until(cert.NotAfter).Hours() / 24)
	status.DNSNames = cert.DNSNames
	return status
}
