package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/config"
	"github.com/leozw/wp-edge/internal/core"
)

type GenerateMode string

const (
	GenerateRandom GenerateMode = "random"
	GenerateFixed  GenerateMode = "fixed"
)

// Slot is one named secret the stack requires.
type Slot struct {
	Key     string
	Mode    GenerateMode
	Default string // used when Mode is GenerateFixed

	// Audit records the generated value in cleartext to the audit log.
	// Operators asked for recoverability over confidentiality here;
	// the provisioner warns loudly whenever it writes such an entry.
	Audit bool
}

// SlotsFor derives the required slots from the config, in site
// declaration order.
func SlotsFor(cfg *config.Config) []Slot {
	slots := []Slot{
		{Key: "COMPOSE_PROJECT_NAME", Mode: GenerateFixed, Default: cfg.Runtime.Project},
	}
	for _, site := range cfg.Sites() {
		if site.Type != core.SiteWordPress {
			continue
		}
		slots = append(slots,
			Slot{Key: site.DB.PasswordSlot, Mode: GenerateRandom, Audit: true},
			Slot{Key: site.Admin.PasswordSlot, Mode: GenerateRandom, Audit: true},
		)
	}
	return slots
}

type Report struct {
	Generated []string `json:"generated"`
	Present   []string `json:"present"`
	Audited   []string `json:"audited"`
}

type Provisioner struct {
	store    *Store
	auditLog string
	logger   *zap.Logger
}

func NewProvisioner(store *Store, auditLog string, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		store:    store,
		auditLog: auditLog,
		logger:   logger,
	}
}

// Provision fills empty slots and leaves present ones untouched. It is
// idempotent: when every slot is present it performs zero store writes
// and zero audit appends.
func (p *Provisioner) Provision(slots []Slot) (*Report, error) {
	report := &Report{}

	var pending [][2]string
	var auditLines []string

	for _, slot := range slots {
		if _, ok := p.store.Get(slot.Key); ok {
			report.Present = append(report.Present, slot.Key)
			continue
		}

		var value string
		switch slot.Mode {
		case GenerateFixed:
			value = slot.Default
		case GenerateRandom:
			v, err := randomToken()
			if err != nil {
				return nil, fmt.Errorf("generating value for %s: %w", slot.Key, err)
			}
			value = v
		default:
			return nil, &core.ConfigError{Field: slot.Key, Reason: fmt.Sprintf("unknown generation mode %q", slot.Mode)}
		}

		pending = append(pending, [2]string{slot.Key, value})
		report.Generated = append(report.Generated, slot.Key)

		if slot.Audit {
			auditLines = append(auditLines,
				fmt.Sprintf("%s generated %s=%s", time.Now().UTC().Format(time.RFC3339), slot.Key, value))
			report.Audited = append(report.Audited, slot.Key)
		}
	}

	if len(pending) == 0 {
		return report, nil
	}

	if err := p.store.Append(pending); err != nil {
		return nil, err
	}

	if len(auditLines) > 0 {
		p.logger.Warn("recording generated secrets in cleartext to the audit log",
			zap.String("audit_log", p.auditLog),
			zap.Strings("keys", report.Audited))
		if err := p.appendAudit(auditLines); err != nil {
			return nil, err
		}
	}

	p.logger.Info("provisioned secret slots",
		zap.Strings("generated", report.Generated),
		zap.Int("present", len(report.Present)))

	return report, nil
}

func (p *Provisioner) appendAudit(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(p.auditLog), 0o755); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(p.auditLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return fmt.Errorf("writing audit log: %w", err)
		}
	}
	return nil
}

// randomToken returns 256 bits of entropy encoded without padding, so
// the value is safe inside a key=value line.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
