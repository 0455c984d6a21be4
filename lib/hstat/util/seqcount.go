package util

import (
	"runtime"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// SeqCount (consistent snapshot read)
// ----------------------------------------------------------------------------

// SeqCount protects a multi-field record against torn reads without ever
// blocking the writer.
//
// The writer brackets its update with WriteBegin/WriteEnd, which leave the
// counter odd for the duration of the update. A reader calls ReadBegin,
// copies the fields, and calls ReadRetry with the value ReadBegin returned;
// if ReadRetry reports true the copy may be torn and the reader loops.
//
// Writers to the same SeqCount must be serialized externally. In this
// engine that guarantee comes from the CPU-shard model: only the writer
// owning a given (node, cpu) slot updates it.
//
// The zero value is ready for use.
type SeqCount struct {
	seq atomic.Uint32
}

// WriteBegin marks the start of a writer-side update.
func (s *SeqCount) WriteBegin() {
	s.seq.Add(1)
}

// WriteEnd marks the end of a writer-side update.
func (s *SeqCount) WriteEnd() {
	s.seq.Add(1)
}

// ReadBegin returns the sequence value to validate a snapshot against.
// It spins until no write is in progress.
func (s *SeqCount) ReadBegin() uint32 {
	for {
		seq := s.seq.Load()
		if seq&1 == 0 {
			return seq
		}
		runtime.Gosched()
	}
}

// ReadRetry reports whether a snapshot taken after ReadBegin returned seq
// is invalid and must be retaken.
func (s *SeqCount) ReadRetry(seq uint32) bool {
	return s.seq.Load() != seq
}
