/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package exchange

import (
	"github.com/valyala/bytebufferpool"
)

// FrameAssembler accumulates bytes popped from the payload ring and cuts them
// into frames of a fixed size, oldest first.
type FrameAssembler struct {
	frameSize int
	partial   *bytebufferpool.ByteBuffer
}

// NewFrameAssembler returns an empty assembler for frames of frameSize bytes.
func NewFrameAssembler(frameSize int) *FrameAssembler {
	return &FrameAssembler{frameSize: frameSize, partial: bytebufferpool.Get()}
}

// FrameSize returns the size of the frames.
func (a *FrameAssembler) FrameSize() int { return a.frameSize }

// Push appends bytes to the accumulator.
func (a *FrameAssembler) Push(p []byte) {
	a.partial.B = append(a.partial.B, p...)
}

// PushByte appends one byte to the accumulator.
func (a *FrameAssembler) PushByte(c byte) {
	a.partial.B = append(a.partial.B, c)
}

// Buffered returns the number of accumulated bytes.
func (a *FrameAssembler) Buffered() int { return len(a.partial.B) }

// TryTake removes and returns the oldest complete frame, if any.
func (a *FrameAssembler) TryTake() ([]byte, bool) {
	if len(a.partial.B) < a.frameSize {
		return nil, false
	}
	frame := append([]byte(nil), a.partial.B[:a.frameSize]...)
	a.partial.B = append(a.partial.B[:0], a.partial.B[a.frameSize:]...)
	return frame, true
}

// Reset drops every accumulated byte.
func (a *FrameAssembler) Reset() { a.partial.Reset() }

// DropPartial drops the bytes of an incomplete trailing frame and returns how
// many were dropped. Complete frames stay.
func (a *FrameAssembler) DropPartial() int {
	tail := len(a.partial.B) % a.frameSize
	a.partial.B = a.partial.B[:len(a.partial.B)-tail]
	return tail
}

// Release returns the accumulator to the pool. The assembler is unusable afterwards.
func (a *FrameAssembler) Release() {
	if a.partial != nil {
		bytebufferpool.Put(a.partial)
		a.partial = nil
	}
}

// frameWriter holds serialized bytes the payload ring could not take yet.
// Frames are appended whole and leave in order, so a partially sent frame is
// always completed before the next one starts.
type frameWriter struct {
	frameSize int
	pending   *bytebufferpool.ByteBuffer
	off       int
	// bytes of the head frame already sent
	headSent int
}

func newFrameWriter(frameSize int) *frameWriter {
	return &frameWriter{frameSize: frameSize, pending: bytebufferpool.Get()}
}

func (w *frameWriter) write(frame []byte) {
	w.pending.B = append(w.pending.B, frame...)
}

func (w *frameWriter) unsent() []byte { return w.pending.B[w.off:] }

// advance marks n bytes as sent and reports whether nothing is left.
func (w *frameWriter) advance(n int) bool {
	w.off += n
	w.headSent = (w.headSent + n) % w.frameSize
	if w.off < len(w.pending.B) {
		if w.off*2 > len(w.pending.B) {
			w.pending.B = append(w.pending.B[:0], w.pending.B[w.off:]...)
			w.off = 0
		}
		return false
	}
	w.reset()
	return true
}

// dropPartial skips the rest of a head frame that was partially sent and
// returns how many bytes it skipped. The next byte sent starts a frame.
func (w *frameWriter) dropPartial() int {
	if w.headSent == 0 {
		return 0
	}
	skip := w.frameSize - w.headSent
	w.off += skip
	w.headSent = 0
	if w.off >= len(w.pending.B) {
		w.reset()
	}
	return skip
}

func (w *frameWriter) empty() bool { return w.off >= len(w.pending.B) }

func (w *frameWriter) reset() {
	w.pending.Reset()
	w.off = 0
	w.headSent = 0
}

func (w *frameWriter) release() {
	if w.pending != nil {
		bytebufferpool.Put(w.pending)
		w.pending = nil
	}
}
