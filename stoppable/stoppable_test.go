////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"os"
	"testing"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

// Unit test of Status.String.
func TestStatus_String(t *testing.T) {
	require.Equal(t, "running", Running.String())
	require.Equal(t, "stopping", Stopping.String())
	require.Equal(t, "stopped", Stopped.String())
	require.Equal(t, "INVALID STATUS: 100", Status(100).String())
}

// runUntilQuit starts a goroutine that stops when the Single is closed.
func runUntilQuit(s *Single) {
	go func() {
		<-s.Quit()
		s.ToStopped()
	}()
}

// Tests that a Single moves through running, stopping and stopped.
func TestSingle_Lifecycle(t *testing.T) {
	s := NewSingle("worker")
	require.True(t, s.IsRunning())
	require.Equal(t, "worker", s.Name())

	runUntilQuit(s)
	require.NoError(t, s.Close())
	require.NoError(t, WaitForStopped(s, time.Second))
	require.True(t, s.IsStopped())
}

// Error path: closing a Single twice returns an error.
func TestSingle_Close_Twice(t *testing.T) {
	s := NewSingle("worker")
	runUntilQuit(s)
	require.NoError(t, s.Close())
	require.Error(t, s.Close())
}

// Error path: ToStopped panics when the Single was never closed.
func TestSingle_ToStopped_NotStopping(t *testing.T) {
	s := NewSingle("worker")
	require.Panics(t, s.ToStopped)
}

// Error path: WaitForStopped times out when the goroutine never stops.
func TestWaitForStopped_Timeout(t *testing.T) {
	s := NewSingle("stuck")
	require.NoError(t, s.Close())
	require.Error(t, WaitForStopped(s, 30*time.Millisecond))
}

// Tests that a Multi reports the least advanced status of its children and
// closes all of them.
func TestMulti_Close(t *testing.T) {
	m := NewMulti("parent")
	require.True(t, m.IsStopped())
	require.Equal(t, "parent{}", m.Name())

	a, b := NewSingle("a"), NewSingle("b")
	sub := NewMulti("sub")
	sub.Add(b)
	m.Add(a)
	m.Add(sub)
	require.Equal(t, "parent{a, sub{b}}", m.Name())
	require.True(t, m.IsRunning())

	runUntilQuit(a)
	require.NoError(t, m.Close())
	require.NoError(t, WaitForStopped(a, time.Second))
	require.True(t, m.IsStopping())

	b.ToStopped()
	require.True(t, m.IsStopped())
	require.Error(t, m.Close())
}

// Error path: a child that cannot be closed surfaces in the Multi error.
func TestMulti_Close_ChildError(t *testing.T) {
	m := NewMulti("parent")
	a := NewSingle("a")
	require.NoError(t, a.Close())
	m.Add(a)

	err := m.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 1")
}
