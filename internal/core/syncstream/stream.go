// Package syncstream accumulates the values that must be bit-identical across peers and
// detects when two peers stop agreeing on them.
package syncstream

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/lockstep/internal/core/command"
)

var _ command.SyncSink = (*Stream)(nil)

// Value tags keep differently typed appends from colliding in the digest.
const (
	tagUint64 byte = 0x01
	tagInt64  byte = 0x02
	tagBool   byte = 0x03
	tagBytes  byte = 0x04
)

// Stream is an append-only byte sequence folded into a rolling xxhash64 digest. Only the
// last Retain bytes are kept for diagnostics. A stream is reset at session boundaries and
// never mid-session.
type Stream struct {
	digest  *xxhash.Digest
	retain  int
	tail    []byte
	length  uint64
	scratch [10]byte

	checkpoints map[command.Time]uint64
	order       []command.Time
	window      int
}

// NewStream creates an empty stream keeping up to retain trailing bytes and window
// checkpoints.
func NewStream(retain, window int) *Stream {
	if retain < 0 {
		retain = 0
	}
	if window < 1 {
		window = 1
	}
	return &Stream{
		digest:      xxhash.New(),
		retain:      retain,
		checkpoints: make(map[command.Time]uint64),
		window:      window,
	}
}

func (s *Stream) AppendUint64(v uint64) {
	s.scratch[0] = tagUint64
	binary.LittleEndian.PutUint64(s.scratch[1:9], v)
	s.write(s.scratch[:9])
}

func (s *Stream) AppendInt64(v int64) {
	s.scratch[0] = tagInt64
	binary.LittleEndian.PutUint64(s.scratch[1:9], uint64(v))
	s.write(s.scratch[:9])
}

func (s *Stream) AppendBool(v bool) {
	s.scratch[0] = tagBool
	s.scratch[1] = 0
	if v {
		s.scratch[1] = 1
	}
	s.write(s.scratch[:2])
}

func (s *Stream) AppendBytes(b []byte) {
	s.scratch[0] = tagBytes
	binary.LittleEndian.PutUint64(s.scratch[1:9], uint64(len(b)))
	s.write(s.scratch[:9])
	s.write(b)
}

func (s *Stream) write(b []byte) {
	_, _ = s.digest.Write(b)
	s.length += uint64(len(b))
	if s.retain == 0 {
		return
	}
	s.tail = append(s.tail, b...)
	if over := len(s.tail) - s.retain; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}
}

// Digest returns the digest over everything appended since the last reset.
func (s *Stream) Digest() uint64 {
	return s.digest.Sum64()
}

// Len reports the total number of bytes appended since the last reset.
func (s *Stream) Len() uint64 {
	return s.length
}

// Tail returns a copy of the retained trailing bytes.
func (s *Stream) Tail() []byte {
	out := make([]byte, len(s.tail))
	copy(out, s.tail)
	return out
}

// Checkpoint records the current digest for an exchange point and returns it. Only the
// most recent window checkpoints are kept.
func (s *Stream) Checkpoint(at command.Time) uint64 {
	d := s.Digest()
	if _, exists := s.checkpoints[at]; !exists {
		s.order = append(s.order, at)
	}
	s.checkpoints[at] = d
	for len(s.order) > s.window {
		delete(s.checkpoints, s.order[0])
		s.order = s.order[1:]
	}
	return d
}

// CheckpointAt returns the digest recorded for an exchange point.
func (s *Stream) CheckpointAt(at command.Time) (uint64, bool) {
	d, ok := s.checkpoints[at]
	return d, ok
}

// Reset clears the digest, retained bytes and checkpoints.
func (s *Stream) Reset() {
	s.digest.Reset()
	s.tail = s.tail[:0]
	s.length = 0
	s.checkpoints = make(map[command.Time]uint64)
	s.order = s.order[:0]
}
