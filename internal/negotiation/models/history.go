package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "ratedesk/pkg/domain"
)

// HistoryItem records one accepted action on the negotiation aggregate.
// EntryID is a ULID, so entries sort lexicographically in append order.
type HistoryItem struct {
	EntryID   string    `json:"entry_id"`
	Actor     id.Actor  `json:"actor"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// RateHistoryItem is one append-only entry in a rate's history.
// The rate's denormalized Amount/Type/Status always equal the last entry's.
type RateHistoryItem struct {
	EntryID   string          `json:"entry_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      ProposalType    `json:"type"`
	Status    RateStatus      `json:"status"`
	Actor     id.Actor        `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
}

// StagedKind is the action a staged decision will apply on commit.
type StagedKind string

const (
	StagedKindApprove StagedKind = "approve"
	StagedKindReject  StagedKind = "reject"
	StagedKindCounter StagedKind = "counter"
)

// StagedDecision is a batch-mode decision held on the aggregate until the
// staging side commits. EntryID is a ULID assigned at server accept time, so
// commit order and the latest-counter-wins tie-break both follow EntryID order.
type StagedDecision struct {
	EntryID    string           `json:"entry_id"`
	Actor      id.Actor         `json:"actor"`
	RateID     id.RateID        `json:"rate_id"`
	Kind       StagedKind       `json:"kind"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Message    string           `json:"message,omitempty"`
	AcceptedAt time.Time        `json:"accepted_at"`
}
