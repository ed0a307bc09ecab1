package attendance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OCCURRENCE TYPES
// =============================================================================

type OccurrenceType string

const (
	OccurrenceNone         OccurrenceType = "none"
	OccurrenceLateMinor    OccurrenceType = "late_minor"
	OccurrenceEarlyMinor   OccurrenceType = "early_minor"
	OccurrenceLateMajor    OccurrenceType = "late_major"
	OccurrenceEarlyMajor   OccurrenceType = "early_major"
	OccurrenceLateSevere   OccurrenceType = "late_severe"
	OccurrenceAbsentHalf   OccurrenceType = "absent_half"
	OccurrenceAbsentFull   OccurrenceType = "absent_full"
	OccurrenceNoCallNoShow OccurrenceType = "no_call_no_show"
)

// occurrencePrecedence is lowest first. When a day has several deviations
// the one with the highest rank wins.
var occurrencePrecedence = []OccurrenceType{
	OccurrenceNone,
	OccurrenceLateMinor,
	OccurrenceEarlyMinor,
	OccurrenceLateMajor,
	OccurrenceEarlyMajor,
	OccurrenceLateSevere,
	OccurrenceAbsentHalf,
	OccurrenceAbsentFull,
	OccurrenceNoCallNoShow,
}

// Rank returns the precedence of the type, or -1 if it is unknown.
func (t OccurrenceType) Rank() int {
	for i, o := range occurrencePrecedence {
		if o == t {
			return i
		}
	}
	return -1
}

func (t OccurrenceType) Valid() bool { return t.Rank() >= 0 }

// OccurrenceTypes lists every type in precedence order.
func OccurrenceTypes() []OccurrenceType {
	return append([]OccurrenceType(nil), occurrencePrecedence...)
}

// =============================================================================
// CLASSIFIER CONFIG
// =============================================================================

// ClassifierConfig holds the minute bands and point values.
//
//	late:  (grace, LateMajorMinutes)   -> late_minor
//	       [LateMajorMinutes, LateSevereMinutes] -> late_major
//	       > LateSevereMinutes         -> late_severe
//	early: (grace, EarlyMajorMinutes)  -> early_minor
//	       >= EarlyMajorMinutes        -> early_major
//	absent: missed fraction >= FullAbsenceFraction -> absent_full, else absent_half
type ClassifierConfig struct {
	GraceMinutes        int
	LateMajorMinutes    int
	LateSevereMinutes   int
	EarlyMajorMinutes   int
	FullAbsenceFraction decimal.Decimal
	Points              map[OccurrenceType]Points
}

// DefaultClassifierConfig returns the standard bands.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		GraceMinutes:        0,
		LateMajorMinutes:    15,
		LateSevereMinutes:   60,
		EarlyMajorMinutes:   15,
		FullAbsenceFraction: decimal.RequireFromString("0.75"),
		Points: map[OccurrenceType]Points{
			OccurrenceNone:         ZeroPoints(),
			OccurrenceLateMinor:    NewPointsFromInt(1),
			OccurrenceEarlyMinor:   NewPointsFromInt(1),
			OccurrenceLateMajor:    NewPointsFromInt(2),
			OccurrenceEarlyMajor:   NewPointsFromInt(2),
			OccurrenceLateSevere:   NewPointsFromInt(3),
			OccurrenceAbsentHalf:   NewPointsFromInt(3),
			OccurrenceAbsentFull:   NewPointsFromInt(4),
			OccurrenceNoCallNoShow: NewPointsFromInt(5),
		},
	}
}

// Validate checks band ordering and point values.
func (c ClassifierConfig) Validate() error {
	if c.GraceMinutes < 0 {
		return &ConfigurationError{Setting: "grace_minutes", Message: "must be >= 0"}
	}
	if c.LateMajorMinutes <= c.GraceMinutes {
		return &ConfigurationError{Setting: "late_major_minutes", Message: "must be greater than grace_minutes"}
	}
	if c.LateSevereMinutes < c.LateMajorMinutes {
		return &ConfigurationError{Setting: "late_severe_minutes", Message: "must be >= late_major_minutes"}
	}
	if c.EarlyMajorMinutes <= c.GraceMinutes {
		return &ConfigurationError{Setting: "early_major_minutes", Message: "must be greater than grace_minutes"}
	}
	if !c.FullAbsenceFraction.IsPositive() || c.FullAbsenceFraction.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigurationError{Setting: "full_absence_fraction", Message: "must be in (0, 1]"}
	}
	for _, t := range occurrencePrecedence[1:] {
		p, ok := c.Points[t]
		if !ok {
			return &ConfigurationError{Setting: "points." + string(t), Message: "missing"}
		}
		if p.IsNegative() {
			return &ConfigurationError{Setting: "points." + string(t), Message: "must be >= 0"}
		}
	}
	for t := range c.Points {
		if !t.Valid() {
			return &ConfigurationError{Setting: "points", Message: fmt.Sprintf("unknown occurrence type %q", t)}
		}
	}
	return nil
}

// PointsFor returns the configured value for an occurrence type.
func (c ClassifierConfig) PointsFor(t OccurrenceType) Points {
	if t == OccurrenceNone {
		return ZeroPoints()
	}
	return c.Points[t]
}

// =============================================================================
// CLASSIFY
// =============================================================================

// OccurrenceFacts are the inputs the classifier looks at. Hours are only
// consulted for absences.
type OccurrenceFacts struct {
	LateMinutes           int
	EarlyDepartureMinutes int
	Absent                bool
	NoCallNoShow          bool
	ScheduledHours        decimal.Decimal
	ActualHours           decimal.Decimal
}

// Classify derives the single occurrence type for a day and its point value.
// It is pure: nothing is persisted.
func Classify(facts OccurrenceFacts, cfg ClassifierConfig) (OccurrenceType, Points, error) {
	if err := cfg.Validate(); err != nil {
		return OccurrenceNone, ZeroPoints(), err
	}
	if facts.LateMinutes < 0 {
		return OccurrenceNone, ZeroPoints(), &ValidationError{Field: "late_minutes", Message: "must be >= 0"}
	}
	if facts.EarlyDepartureMinutes < 0 {
		return OccurrenceNone, ZeroPoints(), &ValidationError{Field: "early_departure_minutes", Message: "must be >= 0"}
	}
	if facts.ScheduledHours.IsNegative() || facts.ActualHours.IsNegative() {
		return OccurrenceNone, ZeroPoints(), &ValidationError{Field: "hours", Message: "must be >= 0"}
	}

	candidates := []OccurrenceType{
		classifyLate(facts.LateMinutes, cfg),
		classifyEarly(facts.EarlyDepartureMinutes, cfg),
	}
	if facts.Absent {
		candidates = append(candidates, classifyAbsence(facts, cfg))
	}
	if facts.NoCallNoShow {
		candidates = append(candidates, OccurrenceNoCallNoShow)
	}

	result := OccurrenceNone
	for _, c := range candidates {
		if c.Rank() > result.Rank() {
			result = c
		}
	}
	return result, cfg.PointsFor(result), nil
}

func classifyLate(minutes int, cfg ClassifierConfig) OccurrenceType {
	switch {
	case minutes <= cfg.GraceMinutes:
		return OccurrenceNone
	case minutes < cfg.LateMajorMinutes:
		return OccurrenceLateMinor
	case minutes <= cfg.LateSevereMinutes:
		return OccurrenceLateMajor
	default:
		return OccurrenceLateSevere
	}
}

func classifyEarly(minutes int, cfg ClassifierConfig) OccurrenceType {
	switch {
	case minutes <= cfg.GraceMinutes:
		return OccurrenceNone
	case minutes < cfg.EarlyMajorMinutes:
		return OccurrenceEarlyMinor
	default:
		return OccurrenceEarlyMajor
	}
}

// classifyAbsence treats a day with no scheduled hours or no worked hours as
// fully missed.
func classifyAbsence(facts OccurrenceFacts, cfg ClassifierConfig) OccurrenceType {
	if !facts.ScheduledHours.IsPositive() || !facts.ActualHours.IsPositive() {
		return OccurrenceAbsentFull
	}
	missed := facts.ScheduledHours.Sub(facts.ActualHours)
	if missed.IsNegative() {
		missed = decimal.Zero
	}
	fraction := missed.Div(facts.ScheduledHours)
	if fraction.GreaterThanOrEqual(cfg.FullAbsenceFraction) {
		return OccurrenceAbsentFull
	}
	return OccurrenceAbsentHalf
}
