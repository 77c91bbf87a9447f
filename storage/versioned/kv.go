////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package versioned stores versioned, timestamped objects in an ekv.KeyValue
// under hierarchical prefixes. The abuse tracker keeps its records and the
// unblock ledger here.
package versioned

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

// PrefixSeparator joins nested prefixes.
const PrefixSeparator = "/"

// MakeUserPrefix returns the prefix under which a user's records live.
func MakeUserPrefix(userID string) string {
	return "User:" + userID
}

// KV is a prefixed view of a shared ekv.KeyValue. Views created with Prefix
// share the same backing store.
type KV struct {
	data   ekv.KeyValue
	prefix string
}

// NewKV wraps the given store.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{data: data}
}

// Get loads the object stored under key at the given version.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	fullKey := v.makeKey(key, version)
	jww.TRACE.Printf("[KV] Get %s", fullKey)

	obj := &Object{}
	if err := v.data.Get(fullKey, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Set stores the object under key at the object's version.
func (v *KV) Set(key string, object *Object) error {
	fullKey := v.makeKey(key, object.Version)
	jww.TRACE.Printf("[KV] Set %s", fullKey)
	return v.data.Set(fullKey, object)
}

// Delete removes the object stored under key at the given version.
func (v *KV) Delete(key string, version uint64) error {
	fullKey := v.makeKey(key, version)
	jww.TRACE.Printf("[KV] Delete %s", fullKey)
	return v.data.Delete(fullKey)
}

// SetJSON marshals value to JSON and stores it as a new object with the given
// version and timestamp.
func (v *KV) SetJSON(key string, version uint64, ts time.Time,
	value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", key)
	}
	return v.Set(key, &Object{Version: version, Timestamp: ts, Data: data})
}

// GetJSON loads the object stored under key and unmarshals its data into
// value. The not-found error of the store is returned unchanged so callers
// can test it with Exists.
func (v *KV) GetJSON(key string, version uint64, value interface{}) error {
	obj, err := v.Get(key, version)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(obj.Data, value); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return nil
}

// Prefix returns a view whose keys are nested under prefix.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		data:   v.data,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

// GetPrefix returns the accumulated prefix of the view.
func (v *KV) GetPrefix() string {
	return v.prefix
}

// GetFullKey returns the key as stored in the backing store.
func (v *KV) GetFullKey(key string, version uint64) string {
	return v.makeKey(key, version)
}

// Exists returns false if the error indicates the key does not exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}
