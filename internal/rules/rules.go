// Package rules owns client-configured commercial constraints on rate
// changes and the pure validator that enforces them.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// RateRule is one client organization's constraint set. All fields are
// validated at construction; a RateRule that exists is well-formed.
type RateRule struct {
	ID       domain.RuleID
	ClientID domain.ClientID

	// FreezePeriodDays is the minimum time before a prior approved rate's
	// expiration during which it cannot be renegotiated. Zero disables the
	// check.
	FreezePeriodDays int

	// NoticeRequiredDays is how many days before its effective date a new
	// rate must be submitted. Zero disables the check.
	NoticeRequiredDays int

	// MaxIncreasePercent caps the increase over the current approved
	// amount. Always >= 0.
	MaxIncreasePercent decimal.Decimal

	// Window restricts submissions to a recurring annual window. Nil means
	// submissions are accepted year-round.
	Window *SubmissionWindow

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmissionWindow is a recurring annual [start, end] span, inclusive on both
// ends. Start after end means the window wraps the year boundary.
type SubmissionWindow struct {
	StartMonth time.Month
	StartDay   int
	EndMonth   time.Month
	EndDay     int
}

// NewRule builds a validated rule for a client.
func NewRule(clientID domain.ClientID, freezeDays, noticeDays int, maxIncreasePct decimal.Decimal, window *SubmissionWindow, now time.Time) (*RateRule, error) {
	if clientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "client id is required")
	}
	if freezeDays < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "freeze period must not be negative")
	}
	if noticeDays < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "notice period must not be negative")
	}
	if maxIncreasePct.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "max increase percent must not be negative")
	}
	if window != nil {
		if err := window.validate(); err != nil {
			return nil, err
		}
	}
	return &RateRule{
		ID:                 domain.NewRuleID(),
		ClientID:           clientID,
		FreezePeriodDays:   freezeDays,
		NoticeRequiredDays: noticeDays,
		MaxIncreasePercent: maxIncreasePct,
		Window:             window,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (w *SubmissionWindow) validate() error {
	if !validMonthDay(w.StartMonth, w.StartDay) {
		return dErrors.New(dErrors.CodeValidation, "submission window start is not a valid calendar day")
	}
	if !validMonthDay(w.EndMonth, w.EndDay) {
		return dErrors.New(dErrors.CodeValidation, "submission window end is not a valid calendar day")
	}
	if w.StartMonth == w.EndMonth && w.StartDay == w.EndDay {
		return dErrors.New(dErrors.CodeValidation, "submission window start must differ from end")
	}
	return nil
}

// validMonthDay uses a leap year so Feb 29 is accepted as a window bound.
func validMonthDay(m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 {
		return false
	}
	probe := time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
	return probe.Month() == m && probe.Day() == d
}

// Contains reports whether t falls inside the recurring window, wrapping the
// year boundary when start > end.
func (w *SubmissionWindow) Contains(t time.Time) bool {
	ord := int(t.Month())*100 + t.Day()
	start := int(w.StartMonth)*100 + w.StartDay
	end := int(w.EndMonth)*100 + w.EndDay
	if start <= end {
		return ord >= start && ord <= end
	}
	return ord >= start || ord <= end
}
