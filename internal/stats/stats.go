// Package stats holds the process-wide counters shared by every connection:
// bytes read from and written to clients, and the running compression
// ratio derived from successful Compress requests.
package stats

import "sync/atomic"

// Stats is safe for concurrent use. Each field is its own atomic counter;
// GetStats is not a consistent snapshot across all four — a concurrent
// Compress racing a Reset may apply its increment after the zero, and that
// interleaving is an accepted outcome rather than a bug.
type Stats struct {
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
	compressionIn  atomic.Uint64
	compressionOut atomic.Uint64
}

// New returns a zeroed Stats instance, shared by all connections of a server.
func New() *Stats {
	return &Stats{}
}

// AddBytesIn accounts n bytes read from a client, whether or not the read
// produced a well-formed message.
func (s *Stats) AddBytesIn(n uint64) {
	s.bytesIn.Add(n)
}

// AddBytesOut accounts n bytes written to a client.
func (s *Stats) AddBytesOut(n uint64) {
	s.bytesOut.Add(n)
}

// AddCompression records a successful Compress operation: in is the
// payload length consumed, out is the compressed length produced.
func (s *Stats) AddCompression(in, out uint64) {
	s.compressionIn.Add(in)
	s.compressionOut.Add(out)
}

// Reset zeros all four counters. Concurrent updates may interleave with the
// reset; see the Stats type doc.
func (s *Stats) Reset() {
	s.bytesIn.Store(0)
	s.bytesOut.Store(0)
	s.compressionIn.Store(0)
	s.compressionOut.Store(0)
}

// Snapshot is a point-in-time (not necessarily consistent) read of all four
// counters plus the derived compression ratio.
type Snapshot struct {
	BytesIn        uint64
	BytesOut       uint64
	CompressionIn  uint64
	CompressionOut uint64
	Ratio          uint8
}

// Snapshot reads the current counters and computes the derived ratio.
func (s *Stats) Snapshot() Snapshot {
	in := s.compressionIn.Load()
	out := s.compressionOut.Load()
	return Snapshot{
		BytesIn:        s.bytesIn.Load(),
		BytesOut:       s.bytesOut.Load(),
		CompressionIn:  in,
		CompressionOut: out,
		Ratio:          ratio(in, out),
	}
}

// ratio computes floor(100 * (in - out) / in), clamped to [0, 100]. It
// returns 0 when in is 0.
func ratio(in, out uint64) uint8 {
	if in == 0 {
		return 0
	}
	if out > in {
		// The compressor never expands input; this only guards against a
		// caller bug rather than a real runtime outcome.
		return 0
	}

	r := 100 * (in - out) / in
	if r > 100 {
		r = 100
	}
	return uint8(r)
}
