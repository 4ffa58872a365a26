package rules

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// pctTolerance absorbs float boundary noise so an amount exactly at the
// configured limit is never rejected.
const pctTolerance = 1e-6

// ViolationType names a failed check. Values are wire-stable and appear in
// error details.
type ViolationType string

const (
	ViolationMaxIncrease ViolationType = "MAX_INCREASE_PCT"
	ViolationNotice      ViolationType = "NOTICE_PERIOD"
	ViolationFreeze      ViolationType = "FREEZE_PERIOD"
	ViolationWindow      ViolationType = "SUBMISSION_WINDOW"
)

// Violation is one failed check with enough structure for the caller to
// render an actionable message without re-deriving anything.
type Violation struct {
	Type    ViolationType `json:"type"`
	Message string        `json:"message"`
	Limit   string        `json:"limit"`
	Actual  string        `json:"actual"`
}

// Result is the outcome of validating one candidate amount.
type Result struct {
	Valid      bool
	Violations []Violation
}

// Candidate carries everything the checks need about the rate being changed.
// The validator never loads data itself.
type Candidate struct {
	// Amount is the proposed new amount.
	Amount decimal.Decimal

	// ApprovedAmount is the current approved baseline, when one exists.
	ApprovedAmount    decimal.Decimal
	HasApprovedAmount bool

	// EffectiveDate is when the proposed rate would take effect.
	EffectiveDate time.Time

	// PriorExpiration is the expiration date of the prior approved rate,
	// when one exists. Drives the freeze-period check.
	PriorExpiration *time.Time
}

// Validate checks a candidate amount against a client's rule as of the given
// instant. All checks are evaluated, not short-circuited, so every violation
// is reported. This is pure domain logic - no I/O, no side effects.
func Validate(c Candidate, rule *RateRule, asOf time.Time) Result {
	if rule == nil {
		return Result{Valid: true}
	}

	var violations []Violation
	if v := checkMaxIncrease(c, rule); v != nil {
		violations = append(violations, *v)
	}
	if v := checkNotice(c, rule, asOf); v != nil {
		violations = append(violations, *v)
	}
	if v := checkFreeze(c, rule, asOf); v != nil {
		violations = append(violations, *v)
	}
	if v := checkWindow(rule, asOf); v != nil {
		violations = append(violations, *v)
	}

	return Result{Valid: len(violations) == 0, Violations: violations}
}

// checkMaxIncrease compares the percentage increase over the approved
// baseline against the cap. The stored amounts stay exact decimals; only the
// percentage itself is computed in floating point, with tolerance.
func checkMaxIncrease(c Candidate, rule *RateRule) *Violation {
	if !c.HasApprovedAmount || !c.ApprovedAmount.IsPositive() {
		return nil
	}

	pct := c.Amount.Sub(c.ApprovedAmount).
		Div(c.ApprovedAmount).
		InexactFloat64() * 100
	limit := rule.MaxIncreasePercent.InexactFloat64()
	if pct <= limit+pctTolerance {
		return nil
	}

	return &Violation{
		Type:    ViolationMaxIncrease,
		Message: fmt.Sprintf("proposed increase %.2f%% exceeds the maximum of %s%%", pct, rule.MaxIncreasePercent.String()),
		Limit:   rule.MaxIncreasePercent.String(),
		Actual:  fmt.Sprintf("%.4f", pct),
	}
}

// checkNotice requires the effective date to be at least the configured
// number of days after asOf.
func checkNotice(c Candidate, rule *RateRule, asOf time.Time) *Violation {
	if rule.NoticeRequiredDays <= 0 || c.EffectiveDate.IsZero() {
		return nil
	}

	required := time.Duration(rule.NoticeRequiredDays) * 24 * time.Hour
	actual := c.EffectiveDate.Sub(asOf)
	if actual >= required {
		return nil
	}

	return &Violation{
		Type:    ViolationNotice,
		Message: fmt.Sprintf("effective date requires %d days notice, only %.1f given", rule.NoticeRequiredDays, actual.Hours()/24),
		Limit:   fmt.Sprintf("%dd", rule.NoticeRequiredDays),
		Actual:  fmt.Sprintf("%.1fd", actual.Hours()/24),
	}
}

// checkFreeze rejects a change while the prior approved rate is still inside
// its freeze period: expiration - asOf < freezePeriod days.
func checkFreeze(c Candidate, rule *RateRule, asOf time.Time) *Violation {
	if rule.FreezePeriodDays <= 0 || c.PriorExpiration == nil {
		return nil
	}

	freeze := time.Duration(rule.FreezePeriodDays) * 24 * time.Hour
	remaining := c.PriorExpiration.Sub(asOf)
	if remaining >= freeze {
		return nil
	}

	return &Violation{
		Type:    ViolationFreeze,
		Message: fmt.Sprintf("prior rate is frozen until %d days before its expiration", rule.FreezePeriodDays),
		Limit:   fmt.Sprintf("%dd", rule.FreezePeriodDays),
		Actual:  fmt.Sprintf("%.1fd", remaining.Hours()/24),
	}
}

// checkWindow requires asOf to fall inside the recurring annual submission
// window when one is configured.
func checkWindow(rule *RateRule, asOf time.Time) *Violation {
	if rule.Window == nil || rule.Window.Contains(asOf) {
		return nil
	}

	w := rule.Window
	return &Violation{
		Type:    ViolationWindow,
		Message: fmt.Sprintf("submissions are only accepted between %s %d and %s %d", w.StartMonth, w.StartDay, w.EndMonth, w.EndDay),
		Limit:   fmt.Sprintf("%s %d - %s %d", w.StartMonth, w.StartDay, w.EndMonth, w.EndDay),
		Actual:  asOf.Format("Jan 2"),
	}
}

// DetailsFor flattens violations into the structured detail map carried by
// rule-violation errors.
func DetailsFor(violations []Violation) map[string]any {
	vs := make([]map[string]any, 0, len(violations))
	for _, v := range violations {
		vs = append(vs, map[string]any{
			"type":    string(v.Type),
			"message": v.Message,
			"limit":   v.Limit,
			"actual":  v.Actual,
		})
	}
	return map[string]any{"violations": vs}
}
