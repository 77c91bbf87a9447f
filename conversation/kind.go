////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the chat context a conversation belongs to. Both kinds share the
// pipeline logic but are kept in distinct storage tables.
type Kind uint8

const (
	// Negotiation is a 1:1 conversation attached to a price negotiation.
	Negotiation Kind = 1

	// Proposal is a 1:1 conversation attached to a proposal.
	Proposal Kind = 2
)

// Kinds lists every valid Kind.
var Kinds = []Kind{Negotiation, Proposal}

// Tables names the storage tables that back a Kind.
type Tables struct {
	Messages string
	Unread   string
}

// String returns a human-readable version of [Kind], used for debugging and
// logging. This function adheres to the [fmt.Stringer] interface.
func (k Kind) String() string {
	switch k {
	case Negotiation:
		return "negotiation"
	case Proposal:
		return "proposal"
	default:
		return "Invalid Kind: " + strconv.Itoa(int(k))
	}
}

// IsValid returns true if the Kind is one of the known kinds.
func (k Kind) IsValid() bool {
	return k == Negotiation || k == Proposal
}

// Tables returns the table names addressed for this Kind. It panics on an
// invalid Kind; callers resolve the Kind once with ParseKind at the boundary.
func (k Kind) Tables() Tables {
	switch k {
	case Negotiation:
		return Tables{
			Messages: "negotiation_messages",
			Unread:   "negotiation_unread",
		}
	case Proposal:
		return Tables{
			Messages: "proposal_messages",
			Unread:   "proposal_unread",
		}
	default:
		panic(k.String())
	}
}

// ParseKind parses the string form of a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "negotiation":
		return Negotiation, nil
	case "proposal":
		return Proposal, nil
	default:
		return 0, errors.Errorf("unknown conversation kind %q", s)
	}
}

// MarshalText adheres to the [encoding.TextMarshaler] interface.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, errors.New(k.String())
	}
	return []byte(k.String()), nil
}

// UnmarshalText adheres to the [encoding.TextUnmarshaler] interface.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Ref identifies a conversation. It is the key of the process-wide
// conversation cache and of realtime subscriptions.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// NewRef builds a Ref.
func NewRef(kind Kind, id string) Ref {
	return Ref{Kind: kind, ID: id}
}

// String returns the Ref as "kind/id".
func (r Ref) String() string {
	return r.Kind.String() + "/" + r.ID
}
