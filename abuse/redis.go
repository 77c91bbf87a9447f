////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	jww "github.com/spf13/jwalterweatherman"
)

const (
	// grantTTL outlives the calendar day a grant belongs to in every
	// timezone.
	grantTTL = 48 * time.Hour

	// updateAttempts bounds optimistic transaction retries.
	updateAttempts = 10
)

// RedisStore keeps abuse state in Redis so several processes can share it.
// Records are updated with WATCH/MULTI transactions; manual blocks expire
// with their block.
type RedisStore struct {
	client *redis.Client
	clock  clock.Clock
}

// NewRedisStore connects to the Redis server at redisURL.
func NewRedisStore(ctx context.Context, redisURL string,
	clk clock.Clock) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis URL")
	}

	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", opts.Addr)
	}

	jww.INFO.Printf("[ABUSE] Using redis at %s", opts.Addr)
	return &RedisStore{client: client, clock: clk}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordRedisKey(userID string) string {
	return fmt.Sprintf("abuse:%s:record", userID)
}

func manualBlockRedisKey(userID string) string {
	return fmt.Sprintf("abuse:%s:manual", userID)
}

func grantRedisKey(userID, day string) string {
	return fmt.Sprintf("abuse:%s:grant:%s", userID, day)
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (
	Record, error) {
	var r Record
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return r, nil
	} else if err != nil {
		return r, err
	}
	if err = json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Wrapf(err, "corrupt record at %s", key)
	}
	return r, nil
}

// GetRecord returns the user's record, or a zero Record.
func (s *RedisStore) GetRecord(ctx context.Context, userID string) (
	Record, error) {
	r, err := getRecord(ctx, s.client, recordRedisKey(userID))
	if err != nil {
		return Record{}, errors.WithMessagef(err,
			"failed to load abuse record of %s", userID)
	}
	return r, nil
}

// UpdateRecord applies fn inside a WATCH transaction, retrying when another
// writer changed the record concurrently.
func (s *RedisStore) UpdateRecord(ctx context.Context, userID string,
	fn func(r *Record) error) (Record, error) {
	key := recordRedisKey(userID)
	var result Record

	txf := func(tx *redis.Tx) error {
		r, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if err = fn(&r); err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			result = r
		}
		return err
	}

	for i := 0; i < updateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			jww.DEBUG.Printf("[ABUSE] Retrying contended update of %s", userID)
			continue
		} else if err != nil {
			return Record{}, errors.WithMessagef(err,
				"failed to update abuse record of %s", userID)
		}
		return result, nil
	}
	return Record{}, errors.Errorf(
		"failed to update abuse record of %s after %d attempts",
		userID, updateAttempts)
}

// GetManualBlock returns the user's manual block or nil.
func (s *RedisStore) GetManualBlock(ctx context.Context, userID string) (
	*ManualBlock, error) {
	data, err := s.client.Get(ctx, manualBlockRedisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to load manual block of %s",
			userID)
	}

	b := &ManualBlock{}
	if err = json.Unmarshal(data, b); err != nil {
		return nil, errors.Wrapf(err, "corrupt manual block of %s", userID)
	}
	return b, nil
}

// SetManualBlock stores the block with an expiry at its end.
func (s *RedisStore) SetManualBlock(ctx context.Context, userID string,
	b ManualBlock) error {
	ttl := b.Until.Sub(s.clock.Now())
	if ttl <= 0 {
		return s.DeleteManualBlock(ctx, userID)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, manualBlockRedisKey(userID), data, ttl).Err()
	return errors.Wrapf(err, "failed to store manual block of %s", userID)
}

// DeleteManualBlock removes the user's manual block.
func (s *RedisStore) DeleteManualBlock(ctx context.Context,
	userID string) error {
	err := s.client.Del(ctx, manualBlockRedisKey(userID)).Err()
	return errors.Wrapf(err, "failed to delete manual block of %s", userID)
}

// ClaimGrant sets the dated grant key if it is absent.
func (s *RedisStore) ClaimGrant(ctx context.Context, userID, day string) (
	bool, error) {
	ok, err := s.client.SetNX(ctx, grantRedisKey(userID, day),
		s.clock.Now().Unix(), grantTTL).Result()
	if err != nil {
		return false, errors.Wrapf(err,
			"failed to claim unblock grant of %s for %s", userID, day)
	}
	return ok, nil
}

// ReleaseGrant deletes the dated grant key.
func (s *RedisStore) ReleaseGrant(ctx context.Context, userID, day string) error {
	if err := s.client.Del(ctx, grantRedisKey(userID, day)).Err(); err != nil {
		return errors.Wrapf(err,
			"failed to release unblock grant of %s for %s", userID, day)
	}
	return nil
}
