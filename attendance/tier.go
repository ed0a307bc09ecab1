package attendance

// =============================================================================
// WARNING LEVELS
// =============================================================================

type WarningLevel string

const (
	WarningNone        WarningLevel = "none"
	WarningVerbal      WarningLevel = "verbal"
	WarningWritten     WarningLevel = "written"
	WarningFinal       WarningLevel = "final"
	WarningTermination WarningLevel = "termination"
)

// Severity orders levels: none < verbal < written < final < termination.
// Unknown levels report -1.
func (w WarningLevel) Severity() int {
	switch w {
	case WarningNone:
		return 0
	case WarningVerbal:
		return 1
	case WarningWritten:
		return 2
	case WarningFinal:
		return 3
	case WarningTermination:
		return 4
	default:
		return -1
	}
}

func (w WarningLevel) Valid() bool { return w.Severity() >= 0 }

// =============================================================================
// TIER THRESHOLDS
// =============================================================================

// TierThresholds are the minimum balances for each level.
type TierThresholds struct {
	Verbal      Points
	Written     Points
	Final       Points
	Termination Points
}

func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		Verbal:      NewPointsFromInt(4),
		Written:     NewPointsFromInt(6),
		Final:       NewPointsFromInt(8),
		Termination: NewPointsFromInt(10),
	}
}

// Validate requires strictly ascending, positive thresholds. Anything else
// would make the mapping non-monotonic.
func (t TierThresholds) Validate() error {
	if !t.Verbal.IsPositive() {
		return &ConfigurationError{Setting: "tiers.verbal", Message: "must be > 0"}
	}
	if !t.Written.GreaterThan(t.Verbal) {
		return &ConfigurationError{Setting: "tiers.written", Message: "must be greater than verbal"}
	}
	if !t.Final.GreaterThan(t.Written) {
		return &ConfigurationError{Setting: "tiers.final", Message: "must be greater than written"}
	}
	if !t.Termination.GreaterThan(t.Final) {
		return &ConfigurationError{Setting: "tiers.termination", Message: "must be greater than final"}
	}
	return nil
}

// TierFor maps a balance to its warning level. It has no memory of earlier
// levels, so an expiry can lower the level.
func (t TierThresholds) TierFor(p Points) WarningLevel {
	switch {
	case p.GreaterThanOrEqual(t.Termination):
		return WarningTermination
	case p.GreaterThanOrEqual(t.Final):
		return WarningFinal
	case p.GreaterThanOrEqual(t.Written):
		return WarningWritten
	case p.GreaterThanOrEqual(t.Verbal):
		return WarningVerbal
	default:
		return WarningNone
	}
}

// TierFor uses the default thresholds.
func TierFor(p Points) WarningLevel {
	return DefaultTierThresholds().TierFor(p)
}
