package attendance

import (
	"context"
	"sync"
)

// =============================================================================
// POLICY - Per-organization discipline configuration
// =============================================================================

// Policy bundles the thresholds an organization runs with. Thresholds are
// configuration inputs, never hard-coded law.
type Policy struct {
	ID             string
	OrganizationID OrganizationID
	Name           string
	Classifier     ClassifierConfig
	Tiers          TierThresholds

	// PointLifetimeDays sets the expiry date of points added by attendance
	// marking. Zero means points never expire.
	PointLifetimeDays int

	// CounterPeriod is the window points_this_period counts over.
	CounterPeriod PeriodType

	Version int
}

// DefaultPolicy is used when an organization has not configured one.
func DefaultPolicy() Policy {
	return Policy{
		ID:                "default",
		Name:              "Standard attendance policy",
		Classifier:        DefaultClassifierConfig(),
		Tiers:             DefaultTierThresholds(),
		PointLifetimeDays: 365,
		CounterPeriod:     PeriodMonth,
		Version:           1,
	}
}

func (p Policy) Validate() error {
	if err := p.Classifier.Validate(); err != nil {
		return err
	}
	if err := p.Tiers.Validate(); err != nil {
		return err
	}
	if p.PointLifetimeDays < 0 {
		return &ConfigurationError{Setting: "point_lifetime_days", Message: "must be >= 0"}
	}
	switch p.CounterPeriod {
	case PeriodMonth, PeriodQuarter, PeriodYear:
	default:
		return &ConfigurationError{Setting: "counter_period", Message: "unknown period " + string(p.CounterPeriod)}
	}
	return nil
}

// ExpiryFor returns the expiry date for points effective on d, or nil.
func (p Policy) ExpiryFor(d Date) *Date {
	if p.PointLifetimeDays == 0 {
		return nil
	}
	return DatePtr(d.AddDays(p.PointLifetimeDays))
}

// PolicySource resolves the policy in force for an organization.
type PolicySource interface {
	PolicyFor(ctx context.Context, org OrganizationID) (Policy, error)
}

// =============================================================================
// STATIC POLICIES - In-process policy registry
// =============================================================================

// StaticPolicies serves policies from memory, falling back to Default.
type StaticPolicies struct {
	mu       sync.RWMutex
	policies map[OrganizationID]Policy
	Default  Policy
}

func NewStaticPolicies(def Policy) *StaticPolicies {
	return &StaticPolicies{policies: make(map[OrganizationID]Policy), Default: def}
}

// Set validates and installs a policy for its organization.
func (s *StaticPolicies) Set(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.OrganizationID] = p
	return nil
}

func (s *StaticPolicies) PolicyFor(_ context.Context, org OrganizationID) (Policy, error) {
	if err := requireOrganization(org); err != nil {
		return Policy{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[org]; ok {
		return p, nil
	}
	return s.Default, nil
}
