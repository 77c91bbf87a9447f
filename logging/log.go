////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package logging configures jwalterweatherman for parley binaries and keeps
// an in-memory copy of recent log output.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/aquilax/truncate"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// InitLog sets the jww thresholds from a verbosity level (0 INFO, 1 DEBUG,
// 2 and above TRACE) and, if logPath is neither empty nor "-", sends log
// output to that file instead of stdout.
func InitLog(threshold uint, logPath string) error {
	if logPath != "-" && logPath != "" {
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", logPath)
		}
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(logOutput)
	}

	level := ThresholdOf(threshold)
	jww.SetStdoutThreshold(level)
	jww.SetLogThreshold(level)
	if level < jww.LevelInfo {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	jww.INFO.Printf("log level set to: %s", level)
	return nil
}

// ThresholdOf maps a verbosity level to a jww threshold.
func ThresholdOf(verbosity uint) jww.Threshold {
	switch {
	case verbosity > 1:
		return jww.LevelTrace
	case verbosity == 1:
		return jww.LevelDebug
	default:
		return jww.LevelInfo
	}
}

// Content renders message content for a log line: quoted and cut down to 64
// characters around the middle.
func Content(s string) string {
	return truncate.Truncate(fmt.Sprintf("%q", s), 64, "...",
		truncate.PositionMiddle)
}
