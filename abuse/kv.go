////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"gitlab.com/elixxir/parley/storage/versioned"
)

const (
	kvPrefix           = "abuse"
	recordKey          = "record"
	recordVersion      = 0
	manualBlockKey     = "manualBlock"
	manualBlockVersion = 0
	grantKeyPrefix     = "unblockGrant:"
	grantVersion       = 0
)

// KVStore keeps abuse state in a versioned KV. Read-modify-write is
// serialised by a process-wide lock, so a KVStore must be the only writer of
// its KV.
type KVStore struct {
	kv    *versioned.KV
	clock clock.Clock
	mux   sync.Mutex
}

// NewKVStore returns a KVStore writing under the abuse prefix of kv.
func NewKVStore(kv *versioned.KV, clk clock.Clock) *KVStore {
	return &KVStore{kv: kv.Prefix(kvPrefix), clock: clk}
}

func (s *KVStore) userKV(userID string) *versioned.KV {
	return s.kv.Prefix(versioned.MakeUserPrefix(userID))
}

// GetRecord returns the user's record, or a zero Record.
func (s *KVStore) GetRecord(_ context.Context, userID string) (Record, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.loadRecord(userID)
}

func (s *KVStore) loadRecord(userID string) (Record, error) {
	var r Record
	kv := s.userKV(userID)
	err := kv.GetJSON(recordKey, recordVersion, &r)
	if err != nil && kv.Exists(err) {
		return Record{}, errors.WithMessagef(err,
			"failed to load abuse record of %s", userID)
	}
	return r, nil
}

// UpdateRecord applies fn under the store lock.
func (s *KVStore) UpdateRecord(_ context.Context, userID string,
	fn func(r *Record) error) (Record, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	r, err := s.loadRecord(userID)
	if err != nil {
		return Record{}, err
	}
	if err = fn(&r); err != nil {
		return Record{}, err
	}
	err = s.userKV(userID).SetJSON(recordKey, recordVersion, s.clock.Now(), r)
	if err != nil {
		return Record{}, errors.WithMessagef(err,
			"failed to store abuse record of %s", userID)
	}
	return r, nil
}

// GetManualBlock returns the user's manual block or nil.
func (s *KVStore) GetManualBlock(_ context.Context, userID string) (
	*ManualBlock, error) {
	var b ManualBlock
	kv := s.userKV(userID)
	err := kv.GetJSON(manualBlockKey, manualBlockVersion, &b)
	if err != nil {
		if !kv.Exists(err) {
			return nil, nil
		}
		return nil, errors.WithMessagef(err,
			"failed to load manual block of %s", userID)
	}
	return &b, nil
}

// SetManualBlock stores the user's manual block, replacing any previous one.
func (s *KVStore) SetManualBlock(_ context.Context, userID string,
	b ManualBlock) error {
	return s.userKV(userID).SetJSON(
		manualBlockKey, manualBlockVersion, s.clock.Now(), b)
}

// DeleteManualBlock removes the user's manual block.
func (s *KVStore) DeleteManualBlock(_ context.Context, userID string) error {
	kv := s.userKV(userID)
	err := kv.Delete(manualBlockKey, manualBlockVersion)
	if err != nil && kv.Exists(err) {
		return errors.WithMessagef(err,
			"failed to delete manual block of %s", userID)
	}
	return nil
}

// ClaimGrant stores a dated grant record unless one exists.
func (s *KVStore) ClaimGrant(_ context.Context, userID, day string) (
	bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	kv := s.userKV(userID)
	key := grantKeyPrefix + day
	_, err := kv.Get(key, grantVersion)
	if err == nil {
		return false, nil
	} else if kv.Exists(err) {
		return false, errors.WithMessagef(err,
			"failed to load unblock grant of %s for %s", userID, day)
	}

	err = kv.Set(key, &versioned.Object{
		Version:   grantVersion,
		Timestamp: s.clock.Now(),
		Data:      []byte(day),
	})
	if err != nil {
		return false, errors.WithMessagef(err,
			"failed to store unblock grant of %s for %s", userID, day)
	}
	return true, nil
}

// ReleaseGrant deletes the dated grant record.
func (s *KVStore) ReleaseGrant(_ context.Context, userID, day string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	kv := s.userKV(userID)
	err := kv.Delete(grantKeyPrefix+day, grantVersion)
	if err != nil && kv.Exists(err) {
		return errors.WithMessagef(err,
			"failed to release unblock grant of %s for %s", userID, day)
	}
	return nil
}
