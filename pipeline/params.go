////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"github.com/benbjohnson/clock"

	"gitlab.com/elixxir/parley/attachment"
	"gitlab.com/elixxir/parley/cache"
	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/realtime"
	"gitlab.com/elixxir/parley/typing"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 20

// Params configures a Pipeline.
type Params struct {
	PageSize int
	Typing   typing.Params
}

// GetDefaultParams returns the default pipeline parameters.
func GetDefaultParams() Params {
	return Params{
		PageSize: DefaultPageSize,
		Typing:   typing.GetDefaultParams(),
	}
}

// Deps are the process-wide services a Pipeline works with. Cache, Gate,
// Files, Compressor and Reporter may be nil. Without Files every attachment
// send fails with an upload failure; without a Gate sent messages stay
// pending until another process moderates them.
type Deps struct {
	Store      MessageStore
	Cache      *cache.Cache
	Bus        *realtime.Bus
	Gate       Moderator
	Abuse      BlockChecker
	Files      attachment.Storage
	Compressor Compressor
	Reporter   event.Reporter
	Clock      clock.Clock
}
