package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	id "ratedesk/pkg/domain"
	dErrors "ratedesk/pkg/domain-errors"
)

// Negotiation is the aggregate root for one client-firm rate-setting cycle.
//
// Invariants:
//   - CompletionDate is set if and only if Status is terminal
//   - Rates are append-only: rejected and expired lines stay for audit
//   - History is append-only; one entry per accepted action
//   - Staged decisions exist only while RealTime is false and are visible
//     only to the side that staged them
//
// All mutation goes through Can*/Apply* pairs (or the composite helpers that
// chain them) inside the store's Execute critical section, so two concurrent
// writers never interleave on one negotiation.
type Negotiation struct {
	ID                 id.NegotiationID `json:"id"`
	ClientID           id.ClientID      `json:"client_id"`
	FirmID             id.FirmID        `json:"firm_id"`
	Status             Status           `json:"status"`
	RequestDate        time.Time        `json:"request_date"`
	SubmissionDeadline time.Time        `json:"submission_deadline"`
	CompletionDate     *time.Time       `json:"completion_date,omitempty"`
	Rates              []*Rate          `json:"rates"`
	WorkflowID         *id.WorkflowID   `json:"workflow_id,omitempty"`
	ApprovalStatus     ApprovalState    `json:"approval_status"`
	RealTime           bool             `json:"real_time"`
	Staged             []StagedDecision `json:"staged,omitempty"`
	History            []HistoryItem    `json:"history"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewNegotiation creates a negotiation in REQUESTED. Real-time mode is the
// default; batch staging is opted into per negotiation.
func NewNegotiation(
	negotiationID id.NegotiationID,
	clientID id.ClientID,
	firmID id.FirmID,
	deadline time.Time,
	actor id.Actor,
	now time.Time,
) (*Negotiation, error) {
	if clientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client id is required")
	}
	if firmID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "firm id is required")
	}
	if !deadline.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidDeadline, "submission deadline must be in the future").
			WithDetails(map[string]any{
				"deadline": deadline.Format(time.RFC3339),
				"now":      now.Format(time.RFC3339),
			})
	}
	n := &Negotiation{
		ID:                 negotiationID,
		ClientID:           clientID,
		FirmID:             firmID,
		Status:             StatusRequested,
		RequestDate:        now,
		SubmissionDeadline: deadline,
		ApprovalStatus:     ApprovalStateNone,
		RealTime:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	n.appendHistory(actor, ActionRequested, "", now)
	return n, nil
}

func (n *Negotiation) IsTerminal() bool {
	return n.Status.IsTerminal()
}

// RateByID finds a rate line, failing when the id belongs to a different
// negotiation or to nothing at all.
func (n *Negotiation) RateByID(rateID id.RateID) (*Rate, error) {
	for _, r := range n.Rates {
		if r.ID == rateID {
			return r, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeRateNotInNegotiation, "rate does not belong to this negotiation").
		WithDetails(map[string]any{
			"rate_id":        rateID.String(),
			"negotiation_id": n.ID.String(),
		})
}

// CanActOnRate gates every per-rate decision or counter. The rate's own
// terminal state is reported ahead of the aggregate-status gate: once the
// aggregate has advanced past review, re-deciding a settled rate is still an
// already_terminal on that rate, not a status complaint about the aggregate.
func (n *Negotiation) CanActOnRate(rateID id.RateID) (*Rate, error) {
	if n.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "negotiation is closed").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	rate, err := n.RateByID(rateID)
	if err != nil {
		return nil, err
	}
	if rate.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeAlreadyTerminal, "rate has already been decided").
			WithDetails(map[string]any{"rate_id": rate.ID.String(), "status": rate.Status.String()})
	}
	if !n.Status.AcceptsRateActions() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "negotiation does not accept rate decisions in its current status").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	return rate, nil
}

// CanSubmitProposals checks that a proposal set may be submitted. Legal from
// REQUESTED, and from CLIENT_REJECTED as a retry with revised lines.
func (n *Negotiation) CanSubmitProposals(count int) error {
	if count == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one rate proposal is required")
	}
	if !n.Status.CanTransitionTo(StatusSubmitted) {
		return dErrors.New(dErrors.CodeInvalidTransition, "proposals cannot be submitted in the current status").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	return nil
}

// ApplySubmitProposals attaches the drafted rates, submits each, and moves the
// aggregate to SUBMITTED. Earlier rejected lines remain in place for audit.
func (n *Negotiation) ApplySubmitProposals(rates []*Rate, actor id.Actor, now time.Time) error {
	for _, r := range rates {
		if err := r.CanSubmit(); err != nil {
			return err
		}
	}
	for _, r := range rates {
		r.ApplySubmit(actor, now)
		n.Rates = append(n.Rates, r)
	}
	n.Status = StatusSubmitted
	n.appendHistory(actor, ActionProposalsSubmitted, fmt.Sprintf("%d rates", len(rates)), now)
	n.UpdatedAt = now
	return nil
}

// EnsureReviewStarted moves a SUBMITTED negotiation (and its submitted rates)
// under review. Review begins implicitly with the first decision or counter;
// there is no separate endpoint for it. No-op in any other status.
func (n *Negotiation) EnsureReviewStarted(actor id.Actor, now time.Time) {
	if n.Status != StatusSubmitted {
		return
	}
	for _, r := range n.Rates {
		if r.Status == RateStatusSubmitted {
			r.ApplyBeginReview(actor, now)
		}
	}
	n.Status = StatusUnderReview
	n.appendHistory(actor, ActionReviewStarted, "", now)
	n.UpdatedAt = now
}

// Decide records a terminal approve/reject on one rate and recomputes the
// aggregate status.
func (n *Negotiation) Decide(rateID id.RateID, approve bool, actor id.Actor, message string, now time.Time) (*Rate, error) {
	rate, err := n.CanActOnRate(rateID)
	if err != nil {
		return nil, err
	}
	n.EnsureReviewStarted(actor, now)
	if err := rate.CanDecide(); err != nil {
		return nil, err
	}
	rate.ApplyDecide(approve, actor, message, now)
	action := ActionRateApproved
	if !approve {
		action = ActionRateRejected
	}
	n.recordRateAction(actor, action, rate, now)
	return rate, nil
}

// Counter records a counter-proposal on one rate. validate runs between the
// transition guards and the mutation; a rule violation therefore leaves both
// the rate and the aggregate untouched.
func (n *Negotiation) Counter(
	rateID id.RateID,
	amount decimal.Decimal,
	baselineSeq int,
	actor id.Actor,
	message string,
	now time.Time,
	validate func(*Rate) error,
) (*Rate, error) {
	rate, err := n.CanActOnRate(rateID)
	if err != nil {
		return nil, err
	}
	if err := rate.CanCounter(actor.Side, amount, baselineSeq); err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(rate); err != nil {
			return nil, err
		}
	}
	n.EnsureReviewStarted(actor, now)
	rate.ApplyCounter(amount, actor, message, now)
	n.recordRateAction(actor, ActionRateCountered, rate, now)
	return rate, nil
}

// recordRateAction recomputes the aggregate status from the rates and appends
// the history entry for an accepted per-rate action.
func (n *Negotiation) recordRateAction(actor id.Actor, action Action, rate *Rate, now time.Time) {
	n.Status = n.deriveStatusFromRates(actor.Side)
	n.appendHistory(actor, action, "rate "+rate.ID.String(), now)
	n.UpdatedAt = now
}

// deriveStatusFromRates computes the aggregate status after a rate action by
// actingSide. A pending counter dominates; otherwise the negotiation advances
// only once every rate is terminal, and the closing side gives the status its
// name (client decisions end in CLIENT_APPROVED, a firm accepting client
// counters in FIRM_ACCEPTED). All lines rejected allows a retry submission.
func (n *Negotiation) deriveStatusFromRates(actingSide id.Side) Status {
	var (
		latestCounter *Rate
		allTerminal   = true
		anyApproved   bool
	)
	for _, r := range n.Rates {
		switch r.Status {
		case RateStatusApproved:
			anyApproved = true
		case RateStatusRejected:
		case RateStatusCounterProposed:
			allTerminal = false
			if latestCounter == nil || r.LastEntry().EntryID > latestCounter.LastEntry().EntryID {
				latestCounter = r
			}
		default:
			allTerminal = false
		}
	}
	if latestCounter != nil {
		if latestCounter.PendingCounterSide() == id.SideClient {
			return StatusClientCountered
		}
		return StatusFirmCountered
	}
	if allTerminal {
		if anyApproved {
			if actingSide == id.SideClient {
				return StatusClientApproved
			}
			return StatusFirmAccepted
		}
		return StatusClientRejected
	}
	return StatusUnderReview
}

// ExpireIfDue moves a non-terminal negotiation past its deadline to EXPIRED.
// Idempotent: repeated calls after the first report false and append nothing.
func (n *Negotiation) ExpireIfDue(now time.Time) bool {
	if !n.Status.CanTransitionTo(StatusExpired) {
		return false
	}
	if !now.After(n.SubmissionDeadline) {
		return false
	}
	n.Status = StatusExpired
	t := now
	n.CompletionDate = &t
	n.appendHistory(id.SystemActor(), ActionExpired, "", now)
	n.UpdatedAt = now
	return true
}

// CanSetRealTime checks a mode toggle. Switching with staged decisions still
// uncommitted would silently change their semantics, so it is refused.
func (n *Negotiation) CanSetRealTime(enabled bool) error {
	if n.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "negotiation is closed").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	if enabled == n.RealTime {
		return nil
	}
	if len(n.Staged) > 0 {
		return dErrors.New(dErrors.CodePendingBatchExists, "staged decisions must be committed before changing mode").
			WithDetails(map[string]any{"staged": len(n.Staged)})
	}
	return nil
}

// ApplySetRealTime flips the mode. Toggling to the current mode is a no-op
// and appends no history.
func (n *Negotiation) ApplySetRealTime(enabled bool, actor id.Actor, now time.Time) {
	if n.RealTime == enabled {
		return
	}
	n.RealTime = enabled
	detail := "batch"
	if enabled {
		detail = "real-time"
	}
	n.appendHistory(actor, ActionModeChanged, detail, now)
	n.UpdatedAt = now
}

// CanStageDecision gates staging a batch-mode decision. The same aggregate
// guards apply as for an immediate action; per-rate guards run at commit.
func (n *Negotiation) CanStageDecision(rateID id.RateID) (*Rate, error) {
	if n.RealTime {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "negotiation is in real-time mode; decisions apply immediately")
	}
	return n.CanActOnRate(rateID)
}

// ApplyStageDecision holds a decision for the staging side. Staged decisions
// append no aggregate history and bump no timestamps: the counterparty must
// not observe mid-batch state.
func (n *Negotiation) ApplyStageDecision(d StagedDecision) {
	n.Staged = append(n.Staged, d)
}

// StagedFor returns side's staged decisions in server-accept order.
func (n *Negotiation) StagedFor(side id.Side) []StagedDecision {
	var mine []StagedDecision
	for _, d := range n.Staged {
		if d.Actor.Side == side {
			mine = append(mine, d)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].EntryID < mine[j].EntryID })
	return mine
}

// TakeStaged removes and returns side's staged decisions in server-accept
// order, leaving the other side's staging untouched.
func (n *Negotiation) TakeStaged(side id.Side) []StagedDecision {
	mine := n.StagedFor(side)
	var rest []StagedDecision
	for _, d := range n.Staged {
		if d.Actor.Side != side {
			rest = append(rest, d)
		}
	}
	n.Staged = rest
	return mine
}

// RecordBatchCommitted appends the single history entry for a committed batch.
func (n *Negotiation) RecordBatchCommitted(actor id.Actor, applied, failed int, now time.Time) {
	n.appendHistory(actor, ActionBatchCommitted, fmt.Sprintf("%d applied, %d failed", applied, failed), now)
	n.UpdatedAt = now
}

// CanStartApproval checks the hand-off to the sign-off workflow.
func (n *Negotiation) CanStartApproval() error {
	if !n.Status.CanTransitionTo(StatusPendingApproval) {
		return dErrors.New(dErrors.CodeInvalidTransition, "negotiation has not reached agreement on its rates").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	if n.WorkflowID != nil {
		return dErrors.New(dErrors.CodeConflict, "approval workflow already started")
	}
	return nil
}

// ApplyStartApproval binds the workflow instance and parks the negotiation in
// PENDING_APPROVAL until the workflow finishes.
func (n *Negotiation) ApplyStartApproval(workflowID id.WorkflowID, actor id.Actor, now time.Time) {
	n.WorkflowID = &workflowID
	n.ApprovalStatus = ApprovalStatePending
	n.Status = StatusPendingApproval
	n.appendHistory(actor, ActionApprovalStarted, "workflow "+workflowID.String(), now)
	n.UpdatedAt = now
}

// CanFinishApproval checks the workflow outcome hand-back. APPROVED and
// REJECTED share PENDING_APPROVAL as their only source, so one table lookup
// covers both outcomes.
func (n *Negotiation) CanFinishApproval() error {
	if !n.Status.CanTransitionTo(StatusApproved) {
		return dErrors.New(dErrors.CodeInvalidTransition, "negotiation is not awaiting sign-off").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	return nil
}

// ApplyFinishApproval records the workflow outcome. Rejection is terminal.
func (n *Negotiation) ApplyFinishApproval(approved bool, actor id.Actor, now time.Time) {
	if approved {
		n.Status = StatusApproved
		n.ApprovalStatus = ApprovalStateApproved
		n.appendHistory(actor, ActionApprovalFinished, "approved", now)
	} else {
		n.Status = StatusRejected
		n.ApprovalStatus = ApprovalStateRejected
		t := now
		n.CompletionDate = &t
		n.appendHistory(actor, ActionApprovalFinished, "rejected", now)
	}
	n.UpdatedAt = now
}

// CanComplete checks settlement. Legal from APPROVED, or directly from
// CLIENT_APPROVED / FIRM_ACCEPTED when no sign-off workflow gates this client.
func (n *Negotiation) CanComplete() error {
	if !n.Status.CanTransitionTo(StatusCompleted) {
		return dErrors.New(dErrors.CodeInvalidTransition, "negotiation is not approved").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	if n.Status != StatusApproved && n.WorkflowID != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "sign-off workflow must finish before completion")
	}
	return nil
}

// ApplyComplete settles the negotiation.
func (n *Negotiation) ApplyComplete(actor id.Actor, now time.Time) {
	n.Status = StatusCompleted
	t := now
	n.CompletionDate = &t
	n.appendHistory(actor, ActionCompleted, "", now)
	n.UpdatedAt = now
}

// CanMarkExported checks the completed → exported bookkeeping step.
func (n *Negotiation) CanMarkExported() error {
	if !n.Status.CanTransitionTo(StatusExported) {
		return dErrors.New(dErrors.CodeInvalidTransition, "only completed negotiations can be exported").
			WithDetails(map[string]any{"status": n.Status.String()})
	}
	return nil
}

// ApplyMarkExported records the export hand-off to the billing system.
func (n *Negotiation) ApplyMarkExported(actor id.Actor, now time.Time) {
	n.Status = StatusExported
	n.appendHistory(actor, ActionExported, "", now)
	n.UpdatedAt = now
}

func (n *Negotiation) appendHistory(actor id.Actor, action Action, detail string, now time.Time) {
	n.History = append(n.History, HistoryItem{
		EntryID:   id.NewEntryID(),
		Actor:     actor,
		Action:    action,
		Status:    n.Status,
		Timestamp: now,
		Detail:    detail,
	})
}
