// Package domain holds identifier and actor types shared across features.
package domain

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	dErrors "ratedesk/pkg/domain-errors"
)

// Typed identifiers. Distinct types keep a rate id from being passed where a
// negotiation id is expected; conversion is always explicit.
type (
	NegotiationID uuid.UUID
	RateID        uuid.UUID
	ClientID      uuid.UUID
	FirmID        uuid.UUID
	WorkflowID    uuid.UUID
	StepID        uuid.UUID
	RuleID        uuid.UUID
	BatchID       uuid.UUID
)

func (id NegotiationID) String() string { return uuid.UUID(id).String() }
func (id RateID) String() string        { return uuid.UUID(id).String() }
func (id ClientID) String() string      { return uuid.UUID(id).String() }
func (id FirmID) String() string        { return uuid.UUID(id).String() }
func (id WorkflowID) String() string    { return uuid.UUID(id).String() }
func (id StepID) String() string        { return uuid.UUID(id).String() }
func (id RuleID) String() string        { return uuid.UUID(id).String() }
func (id BatchID) String() string       { return uuid.UUID(id).String() }

func (id NegotiationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RateID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ClientID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id FirmID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id WorkflowID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id StepID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id RuleID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

func NewNegotiationID() NegotiationID { return NegotiationID(uuid.New()) }
func NewRateID() RateID               { return RateID(uuid.New()) }
func NewClientID() ClientID           { return ClientID(uuid.New()) }
func NewFirmID() FirmID               { return FirmID(uuid.New()) }
func NewWorkflowID() WorkflowID       { return WorkflowID(uuid.New()) }
func NewStepID() StepID               { return StepID(uuid.New()) }
func NewRuleID() RuleID               { return RuleID(uuid.New()) }
func NewBatchID() BatchID             { return BatchID(uuid.New()) }

// Defined types do not inherit uuid.UUID's text marshaling, so each id type
// carries its own; without these an id would serialize as a byte array.
func (id NegotiationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RateID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id ClientID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id FirmID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id WorkflowID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id StepID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id RuleID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id BatchID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *NegotiationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RateID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ClientID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *FirmID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *WorkflowID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *StepID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RuleID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *BatchID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }

func parseID(kind, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is empty", kind)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s id %q", kind, raw)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is nil", kind)
	}
	return id, nil
}

func ParseNegotiationID(raw string) (NegotiationID, error) {
	id, err := parseID("negotiation", raw)
	return NegotiationID(id), err
}

func ParseRateID(raw string) (RateID, error) {
	id, err := parseID("rate", raw)
	return RateID(id), err
}

func ParseClientID(raw string) (ClientID, error) {
	id, err := parseID("client", raw)
	return ClientID(id), err
}

func ParseFirmID(raw string) (FirmID, error) {
	id, err := parseID("firm", raw)
	return FirmID(id), err
}

func ParseWorkflowID(raw string) (WorkflowID, error) {
	id, err := parseID("workflow", raw)
	return WorkflowID(id), err
}

func ParseStepID(raw string) (StepID, error) {
	id, err := parseID("step", raw)
	return StepID(id), err
}

func ParseRuleID(raw string) (RuleID, error) {
	id, err := parseID("rule", raw)
	return RuleID(id), err
}

func ParseBatchID(raw string) (BatchID, error) {
	id, err := parseID("batch", raw)
	return BatchID(id), err
}

// Entry ids order history, event, and audit rows within a millisecond without
// a database sequence. ULIDs sort lexicographically by creation time.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewEntryID returns a time-ordered unique id for append-only records.
func NewEntryID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
