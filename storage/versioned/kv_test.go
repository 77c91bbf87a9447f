////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"
)

// Error path: getting a key that was never set returns a not-found error.
func TestKV_Get_NotFound(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	obj, err := kv.Get("missing", 0)
	require.Error(t, err)
	require.False(t, kv.Exists(err))
	require.Nil(t, obj)
}

// Tests that an object set at a version is returned at that version only.
func TestKV_Set_Get(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	obj := &Object{Version: 2, Timestamp: ts, Data: []byte("payload")}
	require.NoError(t, kv.Set("record", obj))

	got, err := kv.Get("record", 2)
	require.NoError(t, err)
	require.Equal(t, obj.Data, got.Data)
	require.True(t, ts.Equal(got.Timestamp))

	_, err = kv.Get("record", 1)
	require.Error(t, err)
}

// Tests that Delete removes the object.
func TestKV_Delete(t *testing.T) {
	kv := NewKV(ekv.MakeMemstore())
	require.NoError(t, kv.Set("record", &Object{Data: []byte("x")}))
	require.NoError(t, kv.Delete("record", 0))
	_, err := kv.Get("record", 0)
	require.False(t, kv.Exists(err))
}

// Tests that prefixed views share the store but not the key space.
func TestKV_Prefix(t *testing.T) {
	root := NewKV(ekv.MakeMemstore())
	alice := root.Prefix(MakeUserPrefix("alice"))
	bob := root.Prefix(MakeUserPrefix("bob"))
	require.Equal(t, "User:alice/", alice.GetPrefix())
	require.Equal(t, "User:alice/abuse/record_0",
		alice.Prefix("abuse").GetFullKey("record", 0))

	require.NoError(t, alice.Set("k", &Object{Data: []byte("a")}))
	_, err := bob.Get("k", 0)
	require.Error(t, err)

	got, err := root.Get("User:alice/k", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got.Data)
}

// Tests that SetJSON and GetJSON round trip a value.
func TestKV_JSON(t *testing.T) {
	type record struct {
		Count int
		Name  string
	}
	kv := NewKV(ekv.MakeMemstore())
	require.NoError(t, kv.SetJSON("r", 0, time.Now(), record{3, "x"}))

	var got record
	require.NoError(t, kv.GetJSON("r", 0, &got))
	require.Equal(t, record{3, "x"}, got)

	err := kv.GetJSON("other", 0, &got)
	require.Error(t, err)
	require.False(t, kv.Exists(err))
}
