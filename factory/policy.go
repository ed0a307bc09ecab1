/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into attendance.Policy values. This
  enables per-organization discipline configuration without code changes:
  HR defines thresholds in JSON, the factory validates them and builds the
  Go structs the engine runs with.

JSON SCHEMA:
  {
    "id": "acme-standard",
    "organization_id": "acme",
    "name": "Standard attendance policy",
    "counter_period": "month",
    "point_lifetime_days": 365,
    "classifier": {
      "grace_minutes": 0,
      "late_major_minutes": 15,
      "late_severe_minutes": 60,
      "early_major_minutes": 15,
      "full_absence_fraction": 0.75,
      "points": {"late_minor": 1, "absent_full": 4, "no_call_no_show": 5}
    },
    "tiers": {"verbal": 4, "written": 6, "final": 8, "termination": 10}
  }

DEFAULTS:
  Every omitted field falls back to attendance.DefaultPolicy(). Omitted
  point values keep their default; listed ones override it.

USAGE:
  factory := NewPolicyFactory()
  policy, err := factory.ParsePolicy(StandardPolicyJSON("acme", "Standard"))

SEE ALSO:
  - attendance/policy.go: Policy type definition
  - store/sqlite/records.go: PolicyRecord storage
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy.
type PolicyJSON struct {
	ID                string          `json:"id"`
	OrganizationID    string          `json:"organization_id"`
	Name              string          `json:"name"`
	CounterPeriod     string          `json:"counter_period,omitempty"`
	PointLifetimeDays *int            `json:"point_lifetime_days,omitempty"`
	Classifier        *ClassifierJSON `json:"classifier,omitempty"`
	Tiers             *TiersJSON      `json:"tiers,omitempty"`
	Version           int             `json:"version,omitempty"`
}

// ClassifierJSON represents the classification bands and point values.
type ClassifierJSON struct {
	GraceMinutes        *int                       `json:"grace_minutes,omitempty"`
	LateMajorMinutes    *int                       `json:"late_major_minutes,omitempty"`
	LateSevereMinutes   *int                       `json:"late_severe_minutes,omitempty"`
	EarlyMajorMinutes   *int                       `json:"early_major_minutes,omitempty"`
	FullAbsenceFraction *decimal.Decimal           `json:"full_absence_fraction,omitempty"`
	Points              map[string]decimal.Decimal `json:"points,omitempty"`
}

// TiersJSON represents the warning tier thresholds.
type TiersJSON struct {
	Verbal      *decimal.Decimal `json:"verbal,omitempty"`
	Written     *decimal.Decimal `json:"written,omitempty"`
	Final       *decimal.Decimal `json:"final,omitempty"`
	Termination *decimal.Decimal `json:"termination,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a validated Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*attendance.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, &attendance.ConfigurationError{Setting: "policy", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON to a validated attendance.Policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*attendance.Policy, error) {
	policy := attendance.DefaultPolicy()
	if pj.ID != "" {
		policy.ID = pj.ID
	}
	if pj.Name != "" {
		policy.Name = pj.Name
	}
	policy.OrganizationID = attendance.OrganizationID(pj.OrganizationID)
	if pj.Version > 0 {
		policy.Version = pj.Version
	}
	if pj.CounterPeriod != "" {
		policy.CounterPeriod = attendance.PeriodType(pj.CounterPeriod)
	}
	if pj.PointLifetimeDays != nil {
		policy.PointLifetimeDays = *pj.PointLifetimeDays
	}

	if pj.Classifier != nil {
		cfg, err := parseClassifier(*pj.Classifier, policy.Classifier)
		if err != nil {
			return nil, err
		}
		policy.Classifier = cfg
	}
	if pj.Tiers != nil {
		policy.Tiers = parseTiers(*pj.Tiers, policy.Tiers)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ToJSON converts a Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(policy attendance.Policy) PolicyJSON {
	lifetime := policy.PointLifetimeDays
	cfg := policy.Classifier
	grace, lateMajor, lateSevere, earlyMajor := cfg.GraceMinutes, cfg.LateMajorMinutes, cfg.LateSevereMinutes, cfg.EarlyMajorMinutes
	fraction := cfg.FullAbsenceFraction

	points := make(map[string]decimal.Decimal, len(cfg.Points))
	for t, p := range cfg.Points {
		if t == attendance.OccurrenceNone {
			continue
		}
		points[string(t)] = p.Value
	}

	return PolicyJSON{
		ID:                policy.ID,
		OrganizationID:    string(policy.OrganizationID),
		Name:              policy.Name,
		CounterPeriod:     string(policy.CounterPeriod),
		PointLifetimeDays: &lifetime,
		Version:           policy.Version,
		Classifier: &ClassifierJSON{
			GraceMinutes:        &grace,
			LateMajorMinutes:    &lateMajor,
			LateSevereMinutes:   &lateSevere,
			EarlyMajorMinutes:   &earlyMajor,
			FullAbsenceFraction: &fraction,
			Points:              points,
		},
		Tiers: &TiersJSON{
			Verbal:      &policy.Tiers.Verbal.Value,
			Written:     &policy.Tiers.Written.Value,
			Final:       &policy.Tiers.Final.Value,
			Termination: &policy.Tiers.Termination.Value,
		},
	}
}

func parseClassifier(cj ClassifierJSON, base attendance.ClassifierConfig) (attendance.ClassifierConfig, error) {
	cfg := base
	if cj.GraceMinutes != nil {
		cfg.GraceMinutes = *cj.GraceMinutes
	}
	if cj.LateMajorMinutes != nil {
		cfg.LateMajorMinutes = *cj.LateMajorMinutes
	}
	if cj.LateSevereMinutes != nil {
		cfg.LateSevereMinutes = *cj.LateSevereMinutes
	}
	if cj.EarlyMajorMinutes != nil {
		cfg.EarlyMajorMinutes = *cj.EarlyMajorMinutes
	}
	if cj.FullAbsenceFraction != nil {
		cfg.FullAbsenceFraction = *cj.FullAbsenceFraction
	}

	points := make(map[attendance.OccurrenceType]attendance.Points, len(base.Points))
	for t, p := range base.Points {
		points[t] = p
	}
	for name, v := range cj.Points {
		t := attendance.OccurrenceType(name)
		if !t.Valid() || t == attendance.OccurrenceNone {
			return cfg, &attendance.ConfigurationError{
				Setting: "classifier.points." + name,
				Message: "unknown occurrence type",
			}
		}
		points[t] = attendance.Points{Value: v}
	}
	cfg.Points = points
	return cfg, nil
}

func parseTiers(tj TiersJSON, base attendance.TierThresholds) attendance.TierThresholds {
	t := base
	if tj.Verbal != nil {
		t.Verbal = attendance.Points{Value: *tj.Verbal}
	}
	if tj.Written != nil {
		t.Written = attendance.Points{Value: *tj.Written}
	}
	if tj.Final != nil {
		t.Final = attendance.Points{Value: *tj.Final}
	}
	if tj.Termination != nil {
		t.Termination = attendance.Points{Value: *tj.Termination}
	}
	return t
}

// StandardPolicyJSON returns the default policy as JSON for an organization.
func StandardPolicyJSON(org, name string) string {
	policy := attendance.DefaultPolicy()
	policy.ID = org + "-standard"
	policy.OrganizationID = attendance.OrganizationID(org)
	if name != "" {
		policy.Name = name
	}
	b, _ := json.Marshal(NewPolicyFactory().ToJSON(policy))
	return string(b)
}

// =============================================================================
// STORED POLICIES - attendance.PolicySource backed by the policies table
// =============================================================================

// PolicyRecords is the slice of the SQLite store StorePolicies reads.
type PolicyRecords interface {
	GetPolicyByOrganization(ctx context.Context, org string) (*sqlite.PolicyRecord, error)
}

// StorePolicies resolves each organization's stored policy, falling back
// to Default when none is configured.
type StorePolicies struct {
	Records PolicyRecords
	Factory *PolicyFactory
	Default attendance.Policy
}

var _ attendance.PolicySource = (*StorePolicies)(nil)

func NewStorePolicies(records PolicyRecords, def attendance.Policy) *StorePolicies {
	return &StorePolicies{Records: records, Factory: NewPolicyFactory(), Default: def}
}

func (s *StorePolicies) PolicyFor(ctx context.Context, org attendance.OrganizationID) (attendance.Policy, error) {
	if org == "" {
		return attendance.Policy{}, &attendance.ConfigurationError{Setting: "organization_id", Message: "required"}
	}
	rec, err := s.Records.GetPolicyByOrganization(ctx, string(org))
	if err != nil {
		return attendance.Policy{}, fmt.Errorf("failed to load policy: %w", err)
	}
	if rec == nil {
		def := s.Default
		def.OrganizationID = org
		return def, nil
	}
	policy, err := s.Factory.ParsePolicy(rec.ConfigJSON)
	if err != nil {
		return attendance.Policy{}, err
	}
	policy.OrganizationID = org
	policy.Version = rec.Version
	return *policy, nil
}
