////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"io"
	"net/http"
	"sync"

	"github.com/armon/circbuf"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// DefaultRingSize is the default number of bytes kept by a RingLogger.
const DefaultRingSize = 1 << 20

// RingLogger keeps the most recent log output at or above its threshold in a
// fixed-size ring buffer.
type RingLogger struct {
	threshold jww.Threshold
	maxSize   int
	id        uint64
	cb        *circbuf.Buffer
	mux       sync.Mutex
}

// NewRingLogger starts copying log output at or above threshold into a ring of
// maxSize bytes.
func NewRingLogger(threshold jww.Threshold, maxSize int) (*RingLogger, error) {
	cb, err := circbuf.NewBuffer(int64(maxSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not create new circular buffer")
	}

	rl := &RingLogger{threshold: threshold, maxSize: maxSize, cb: cb}
	rl.id = AddLogListener(rl.Listen)
	jww.INFO.Printf("[LOG] Keeping last %d bytes of log at level %s",
		maxSize, threshold)
	return rl, nil
}

// Write adheres to the io.Writer interface.
func (rl *RingLogger) Write(p []byte) (int, error) {
	rl.mux.Lock()
	defer rl.mux.Unlock()
	return rl.cb.Write(p)
}

// Listen adheres to the [jwalterweatherman.LogListener] type.
func (rl *RingLogger) Listen(t jww.Threshold) io.Writer {
	if t < rl.threshold {
		return nil
	}
	return rl
}

// Bytes returns a copy of the buffered log.
func (rl *RingLogger) Bytes() []byte {
	rl.mux.Lock()
	defer rl.mux.Unlock()
	return append([]byte{}, rl.cb.Bytes()...)
}

// Size returns the number of buffered bytes.
func (rl *RingLogger) Size() int {
	rl.mux.Lock()
	defer rl.mux.Unlock()
	return len(rl.cb.Bytes())
}

// MaxSize returns the capacity of the ring.
func (rl *RingLogger) MaxSize() int {
	return rl.maxSize
}

// Stop unregisters the logger. The buffer stays readable.
func (rl *RingLogger) Stop() {
	RemoveLogListener(rl.id)
}

// ServeHTTP writes the buffered log as plain text.
func (rl *RingLogger) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write(rl.Bytes()); err != nil {
		jww.WARN.Printf("[LOG] Failed to serve log: %+v", err)
	}
}
