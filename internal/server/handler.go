package server

import (
	"encoding/binary"

	"github.com/arlimus/compressd/internal/compress"
	"github.com/arlimus/compressd/internal/protocol"
	"github.com/arlimus/compressd/internal/stats"
)

// handleFrame decodes and dispatches a single frame read off the wire in
// one shot, returning the full response bytes (header plus any payload)
// ready to write back to the client. It never blocks and never mutates
// anything beyond st.
func handleFrame(frame []byte, st *stats.Stats) []byte {
	header, payload, status := protocol.DecodeMessage(frame)
	if status != protocol.StatusOk {
		return protocol.EncodeError(status)
	}

	req, ok := protocol.ParseRequest(header.Code)
	if !ok {
		return protocol.EncodeError(protocol.StatusUnsupportedRequestType)
	}

	switch req {
	case protocol.RequestPing:
		return handlePing(header)
	case protocol.RequestGetStats:
		return handleGetStats(header, st)
	case protocol.RequestResetStats:
		return handleResetStats(header, st)
	case protocol.RequestCompress:
		return handleCompress(header, payload, st)
	}
	panic("unreachable")
}

func handlePing(h protocol.Header) []byte {
	if h.Length != 0 {
		return protocol.EncodeError(protocol.StatusRequestKindRequiresZeroLength)
	}
	return protocol.EncodeResponse(protocol.StatusOk, nil)
}

func handleGetStats(h protocol.Header, st *stats.Stats) []byte {
	if h.Length != 0 {
		return protocol.EncodeError(protocol.StatusRequestKindRequiresZeroLength)
	}
	return protocol.EncodeResponse(protocol.StatusOk, encodeSnapshot(st.Snapshot()))
}

func handleResetStats(h protocol.Header, st *stats.Stats) []byte {
	if h.Length != 0 {
		return protocol.EncodeError(protocol.StatusRequestKindRequiresZeroLength)
	}
	st.Reset()
	return protocol.EncodeResponse(protocol.StatusOk, nil)
}

func handleCompress(h protocol.Header, payload []byte, st *stats.Stats) []byte {
	if h.Length == 0 {
		return protocol.EncodeError(protocol.StatusCompressionRequestRequiresNonZeroLength)
	}

	out, err := compress.Compress(payload)
	if err != nil {
		return protocol.EncodeError(protocol.StatusPayloadContainsInvalidCharacters)
	}
	if len(out) > protocol.MaxPayload {
		// Unreachable given the compressor's never-expands property, but
		// checked defensively in case that property is ever violated.
		return protocol.EncodeError(protocol.StatusMessageTooLarge)
	}

	st.AddCompression(uint64(len(payload)), uint64(len(out)))
	return protocol.EncodeResponse(protocol.StatusOk, out)
}

// encodeSnapshot lays out a stats.Snapshot as the 9-byte big-endian
// [bytes_in u32][bytes_out u32][ratio u8] GetStats payload. bytesIn and
// bytesOut wrap to their low 32 bits if the underlying 64-bit counters have
// overflowed a uint32.
func encodeSnapshot(snap stats.Snapshot) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint32(buf[0:4], uint32(snap.BytesIn))
	binary.BigEndian.PutUint32(buf[4:8], uint32(snap.BytesOut))
	buf[8] = snap.Ratio
	return buf
}
