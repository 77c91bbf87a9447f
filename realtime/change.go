////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package realtime

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/elixxir/parley/conversation"
)

// Op is the kind of a change delivered on the bus.
type Op uint8

const (
	Insert Op = iota + 1
	Update
	Delete

	// Typing carries an ephemeral typing signal rather than a row.
	Typing
)

var opNames = map[Op]string{
	Insert: "INSERT",
	Update: "UPDATE",
	Delete: "DELETE",
	Typing: "TYPING",
}

// String returns a human-readable version of [Op], used for debugging and
// logging. This function adheres to the [fmt.Stringer] interface.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "Invalid Op: " + strconv.Itoa(int(o))
}

// MarshalText adheres to the [encoding.TextMarshaler] interface.
func (o Op) MarshalText() ([]byte, error) {
	if _, ok := opNames[o]; !ok {
		return nil, errors.New(o.String())
	}
	return []byte(o.String()), nil
}

// UnmarshalText adheres to the [encoding.TextUnmarshaler] interface.
func (o *Op) UnmarshalText(text []byte) error {
	for op, name := range opNames {
		if name == string(text) {
			*o = op
			return nil
		}
	}
	return errors.Errorf("unknown op %q", text)
}

// Change is a row change published by the conversation store. Old is the row
// before an UPDATE and nil otherwise. For a DELETE, Row is the deleted row.
type Change struct {
	Op  Op
	Row conversation.Message
	Old *conversation.Message
}

// Ref returns the conversation the change belongs to.
func (c Change) Ref() conversation.Ref {
	return c.Row.Ref()
}

// TypingSignal is the payload of a Typing event.
type TypingSignal struct {
	UserID   string    `json:"userId"`
	IsTyping bool      `json:"isTyping"`
	At       time.Time `json:"at"`
}

// Event is what a subscriber receives: a change already filtered for the
// subscriber's visibility, or a typing signal.
type Event struct {
	Op     Op                    `json:"op"`
	Row    *conversation.Message `json:"row,omitempty"`
	Typing *TypingSignal         `json:"typing,omitempty"`
}

// String returns a short description of the event for logging.
func (e Event) String() string {
	switch {
	case e.Row != nil:
		return e.Op.String() + " " + e.Row.String()
	case e.Typing != nil:
		return e.Op.String() + " " + e.Typing.UserID + " " +
			strconv.FormatBool(e.Typing.IsTyping)
	default:
		return e.Op.String()
	}
}

// filter projects a change onto what viewer is allowed to see. A row that
// becomes visible through an UPDATE is delivered as an INSERT and a row that
// stops being visible is delivered as a DELETE. The second return is false
// when nothing should be delivered.
func filter(c Change, viewer string) (Event, bool) {
	row := c.Row.Clone()
	visible := row.VisibleTo(viewer)

	switch c.Op {
	case Insert, Delete:
		if !visible {
			return Event{}, false
		}
		return Event{Op: c.Op, Row: &row}, true
	case Update:
		wasVisible := c.Old != nil && c.Old.VisibleTo(viewer)
		switch {
		case wasVisible && visible:
			return Event{Op: Update, Row: &row}, true
		case !wasVisible && visible:
			return Event{Op: Insert, Row: &row}, true
		case wasVisible && !visible:
			old := c.Old.Clone()
			return Event{Op: Delete, Row: &old}, true
		default:
			return Event{}, false
		}
	default:
		return Event{}, false
	}
}
