////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package abuse

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Tests the Redis store against a live server named by PARLEY_TEST_REDIS.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("PARLEY_TEST_REDIS")
	if url == "" {
		t.Skip("PARLEY_TEST_REDIS not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, clock.New())
	require.NoError(t, err)
	defer s.Close()

	user := "test-" + uuid.NewString()

	r, err := s.GetRecord(ctx, user)
	require.NoError(t, err)
	require.Equal(t, Record{}, r)

	r, err = s.UpdateRecord(ctx, user, func(r *Record) error {
		r.ViolationCount = 3
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, r.ViolationCount)

	r, err = s.GetRecord(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 3, r.ViolationCount)

	require.NoError(t, s.SetManualBlock(ctx, user, ManualBlock{
		Until: time.Now().Add(time.Minute), Reason: "test"}))
	b, err := s.GetManualBlock(ctx, user)
	require.NoError(t, err)
	require.Equal(t, "test", b.Reason)
	require.NoError(t, s.DeleteManualBlock(ctx, user))
	b, err = s.GetManualBlock(ctx, user)
	require.NoError(t, err)
	require.Nil(t, b)

	ok, err := s.ClaimGrant(ctx, user, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.ClaimGrant(ctx, user, "2024-01-01")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseGrant(ctx, user, "2024-01-01"))
	ok, err = s.ClaimGrant(ctx, user, "2024-01-01")
	require.NoError(t, err)
	require.True(t, ok)
}
