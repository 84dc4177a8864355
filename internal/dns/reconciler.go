package dns

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/leozw/wp-edge/internal/core"
	"github.com/leozw/wp-edge/pkg/cloudflare"
)

// Provider is the slice of the Cloudflare API the reconciler consumes.
type Provider interface {
	ListZones(ctx context.Context) ([]cloudflare.Zone, error)
	ListRecords(ctx context.Context, zoneID string) ([]cloudflare.Record, error)
	FindRecord(ctx context.Context, zoneID string, rtype core.RecordType, name string) (*cloudflare.Record, error)
	CreateRecord(ctx context.Context, zoneID string, r core.Record) error
	UpdateRecord(ctx context.Context, zoneID, recordID string, r core.Record) error
}

// Desired computes the record set from the sites' TLS domains: one A
// record per distinct domain (wildcards at their literal name), plus
// AAAA when an IPv6 origin is configured. Output order is stable.
func Desired(sites []core.Site, origin Origin, ttl int, proxied bool) []core.Record {
	seen := map[string]bool{}
	var names []string
	for _, s := range sites {
		for _, d := range s.TLSDomains {
			if !seen[d] {
				seen[d] = true
				names = append(names, d)
			}
		}
	}
	sort.Strings(names)

	var desired []core.Record
	for _, name := range names {
		desired = append(desired, core.Record{
			Name: name, Type: core.RecordA, Content: origin.IPv4, TTL: ttl, Proxied: proxied,
		})
		if origin.IPv6 != "" {
			desired = append(desired, core.Record{
				Name: name, Type: core.RecordAAAA, Content: origin.IPv6, TTL: ttl, Proxied: proxied,
			})
		}
	}
	return desired
}

// Change pairs a desired record with the provider record it replaces.
type Change struct {
	ZoneID   string
	RecordID string
	Desired  core.Record
	Actual   core.Record
}

type planned struct {
	zoneID string
	record core.Record
}

// Diff is the output of Plan: what Apply would do, plus the records the
// provider holds that this config does not manage. Unmanaged records
// are reported only; deleting them requires an explicit operator
// action outside this engine.
type Diff struct {
	Create    []core.Record
	Update    []Change
	InPlace   []core.Record
	Unmanaged []core.Record

	creates []planned
}

func (d *Diff) Empty() bool {
	return len(d.Create) == 0 && len(d.Update) == 0
}

type Reconciler struct {
	provider Provider
	logger   *zap.Logger
}

func NewReconciler(provider Provider, logger *zap.Logger) *Reconciler {
	return &Reconciler{provider: provider, logger: logger}
}

// Plan computes the create/update/no-op split without mutating
// anything. Calling it any number of times leaves the provider state
// untouched.
func (r *Reconciler) Plan(ctx context.Context, desired []core.Record) (*Diff, error) {
	zones, err := r.provider.ListZones(ctx)
	if err != nil {
		return nil, &core.CollaboratorError{Collaborator: "cloudflare", Err: err}
	}

	diff := &Diff{}
	desiredKeys := map[string]bool{}
	touchedZones := map[string]bool{}

	for _, want := range desired {
		desiredKeys[want.Key()] = true

		zone, ok := cloudflare.PickZone(want.Name, zones)
		if !ok {
			return nil, &core.CollaboratorError{
				Collaborator: "cloudflare",
				Err:          fmt.Errorf("no zone found for record %q", want.Name),
			}
		}
		touchedZones[zone.ID] = true

		existing, err := r.provider.FindRecord(ctx, zone.ID, want.Type, want.Name)
		if err != nil {
			return nil, &core.CollaboratorError{Collaborator: "cloudflare", Err: err}
		}

		if existing == nil {
			diff.Create = append(diff.Create, want)
			diff.creates = append(diff.creates, planned{zoneID: zone.ID, record: want})
			continue
		}

		if existing.Content != want.Content || existing.TTL != want.TTL || existing.Proxied != want.Proxied {
			diff.Update = append(diff.Update, Change{
				ZoneID:   zone.ID,
				RecordID: existing.ID,
				Desired:  want,
				Actual: core.Record{
					Name: existing.Name, Type: core.RecordType(existing.Type),
					Content: existing.Content, TTL: existing.TTL, Proxied: existing.Proxied,
				},
			})
			continue
		}

		diff.InPlace = append(diff.InPlace, want)
	}

	for zoneID := range touchedZones {
		records, err := r.provider.ListRecords(ctx, zoneID)
		if err != nil {
			return nil, &core.CollaboratorError{Collaborator: "cloudflare", Err: err}
		}
		for _, rec := range records {
			if rec.Type != string(core.RecordA) && rec.Type != string(core.RecordAAAA) {
				continue
			}
			key := fmt.Sprintf("%s %s", rec.Type, rec.Name)
			if !desiredKeys[key] {
				diff.Unmanaged = append(diff.Unmanaged, core.Record{
					Name: rec.Name, Type: core.RecordType(rec.Type),
					Content: rec.Content, TTL: rec.TTL, Proxied: rec.Proxied,
				})
			}
		}
	}

	return diff, nil
}

type ApplyReport struct {
	Created   int
	Updated   int
	Unchanged int
	Failures  []core.StepResult
}

func (a *ApplyReport) Failed() bool {
	return len(a.Failures) > 0
}

// Apply executes exactly the create/update set Plan computes. One
// failing record is reported and does not block the rest.
func (r *Reconciler) Apply(ctx context.Context, desired []core.Record) (*ApplyReport, error) {
	diff, err := r.Plan(ctx, desired)
	if err != nil {
		return nil, err
	}

	report := &ApplyReport{Unchanged: len(diff.InPlace)}

	for _, p := range diff.creates {
		if err := r.provider.CreateRecord(ctx, p.zoneID, p.record); err != nil {
			r.logger.Warn("create failed", zap.String("record", p.record.Key()), zap.Error(err))
			report.Failures = append(report.Failures, core.StepResult{
				Name:     p.record.Key(),
				Status:   core.StepDegraded,
				Severity: core.SeverityWarning,
				Err:      err,
				Detail:   err.Error(),
			})
			continue
		}
		r.logger.Info("created record", zap.String("record", p.record.String()))
		report.Created++
	}

	for _, ch := range diff.Update {
		if err := r.provider.UpdateRecord(ctx, ch.ZoneID, ch.RecordID, ch.Desired); err != nil {
			r.logger.Warn("update failed", zap.String("record", ch.Desired.Key()), zap.Error(err))
			report.Failures = append(report.Failures, core.StepResult{
				Name:     ch.Desired.Key(),
				Status:   core.StepDegraded,
				Severity: core.SeverityWarning,
				Err:      err,
				Detail:   err.Error(),
			})
			continue
		}
		r.logger.Info("updated record",
			zap.String("record", ch.Desired.String()),
			zap.String("was", ch.Actual.Content))
		report.Updated++
	}

	for _, rec := range diff.Unmanaged {
		r.logger.Info("unmanaged record left in place", zap.String("record", rec.String()))
	}

	return report, nil
}
