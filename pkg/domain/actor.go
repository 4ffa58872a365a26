package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Side identifies which party to a negotiation an actor represents.
type Side string

const (
	SideClient Side = "client"
	SideFirm   Side = "firm"
)

// ParseSide validates a wire value into a Side.
func ParseSide(raw string) (Side, error) {
	switch Side(raw) {
	case SideClient, SideFirm:
		return Side(raw), nil
	default:
		return "", fmt.Errorf("invalid side %q", raw)
	}
}

// Opposite returns the other party's side.
func (s Side) Opposite() Side {
	if s == SideClient {
		return SideFirm
	}
	return SideClient
}

func (s Side) String() string { return string(s) }

// UserID identifies the individual behind an action, independent of side.
type UserID uuid.UUID

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func NewUserID() UserID { return UserID(uuid.New()) }

func ParseUserID(raw string) (UserID, error) {
	id, err := parseID("user", raw)
	return UserID(id), err
}

// Actor is the authenticated principal performing an operation. Role is the
// approval role asserted by the caller's token (for example "partner" or
// "billing_manager"); it is matched against workflow step requirements.
type Actor struct {
	UserID UserID `json:"user_id"`
	Side   Side   `json:"side"`
	Role   string `json:"role,omitempty"`
}

// Validate reports whether the actor carries the minimum identity needed to
// act on a negotiation.
func (a Actor) Validate() error {
	if a.UserID.IsNil() {
		return fmt.Errorf("actor user id is nil")
	}
	if _, err := ParseSide(string(a.Side)); err != nil {
		return err
	}
	return nil
}

// IsSystem reports whether the actor is the engine itself.
func (a Actor) IsSystem() bool {
	return a.Role == systemRole
}

const systemRole = "system"

// SystemActor attributes transitions driven by the engine or an external
// scheduler (deadline expiry, step timeouts) rather than a party.
func SystemActor() Actor {
	return Actor{UserID: UserID(uuid.Nil), Role: systemRole}
}
