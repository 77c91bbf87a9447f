////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Object is the unit stored in the KV.
type Object struct {
	// Version of the encoding of Data.
	Version uint64

	// Timestamp is set by the writer.
	Timestamp time.Time

	// Data is the serialised payload.
	Data []byte
}

// Marshal adheres to the ekv.Marshaler interface.
func (o *Object) Marshal() []byte {
	data, err := json.Marshal(o)
	if err != nil {
		// All fields are plain values; failure means memory corruption.
		jww.FATAL.Panicf("[KV] Failed to marshal object: %+v", err)
	}
	return data
}

// Unmarshal adheres to the ekv.Unmarshaler interface.
func (o *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, o)
}
