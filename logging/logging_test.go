////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

// Consistency test of ThresholdOf.
func TestThresholdOf(t *testing.T) {
	require.Equal(t, jww.LevelInfo, ThresholdOf(0))
	require.Equal(t, jww.LevelDebug, ThresholdOf(1))
	require.Equal(t, jww.LevelTrace, ThresholdOf(2))
	require.Equal(t, jww.LevelTrace, ThresholdOf(9))
}

// Tests that InitLog writes to the requested file.
func TestInitLog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")
	require.NoError(t, InitLog(1, path))
	defer jww.SetStdoutOutput(os.Stdout)

	jww.DEBUG.Print("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")

	require.Error(t, InitLog(0, filepath.Join(t.TempDir(), "no", "such.log")))
}

// Tests that the ring keeps only lines at or above its threshold and only its
// last maxSize bytes.
func TestRingLogger(t *testing.T) {
	jww.SetLogThreshold(jww.LevelTrace)
	rl, err := NewRingLogger(jww.LevelWarn, 64)
	require.NoError(t, err)
	defer rl.Stop()

	jww.INFO.Print("quiet line")
	jww.WARN.Print("loud line")
	require.Contains(t, string(rl.Bytes()), "loud line")
	require.NotContains(t, string(rl.Bytes()), "quiet line")

	jww.ERROR.Print(strings.Repeat("x", 200))
	require.Equal(t, 64, rl.Size())
	require.Equal(t, 64, rl.MaxSize())

	w := httptest.NewRecorder()
	rl.ServeHTTP(w, httptest.NewRequest("GET", "/debug/log", nil))
	require.Equal(t, rl.Bytes(), w.Body.Bytes())

	rl.Stop()
	before := rl.Bytes()
	jww.ERROR.Print("after stop")
	require.Equal(t, before, rl.Bytes())
}

// Tests that Content quotes and shortens long text.
func TestContent(t *testing.T) {
	require.Equal(t, `"hi"`, Content("hi"))

	long := Content(strings.Repeat("a", 200))
	require.LessOrEqual(t, len(long), 67)
	require.Contains(t, long, "...")
}
