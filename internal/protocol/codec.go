package protocol

import "encoding/binary"

// DecodeHeader parses the fixed 8-byte header prefix of buf. It never
// inspects the payload: length bounds are the caller's responsibility via
// DecodeMessage, so that a header that declares an oversized length can
// still be reported as MessageTooLarge rather than silently misparsed.
func DecodeHeader(buf []byte) (Header, Status) {
	if len(buf) < HeaderSize {
		return Header{}, StatusMessageTooSmall
	}

	h := Header{
		Magic:  binary.BigEndian.Uint32(buf[0:4]),
		Length: binary.BigEndian.Uint16(buf[4:6]),
		Code:   binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Magic != Magic {
		return Header{}, StatusBadMagic
	}

	return h, StatusOk
}

// DecodeMessage parses a full frame (header plus payload) read in a single
// shot off the wire. It returns the header and a slice of frame pointing at
// the payload bytes. frame's length must exactly equal the header's
// declared Length plus HeaderSize, or HeaderSizeMismatch is returned.
func DecodeMessage(frame []byte) (Header, []byte, Status) {
	h, status := DecodeHeader(frame)
	if status != StatusOk {
		return h, nil, status
	}

	if int(h.Length)+HeaderSize != len(frame) {
		return h, nil, StatusHeaderSizeMismatch
	}
	if h.Length > MaxPayload {
		return h, nil, StatusMessageTooLarge
	}

	return h, frame[HeaderSize:], StatusOk
}

// EncodeResponse serializes a response header carrying the given status
// followed by payload. Callers must ensure len(payload) fits in a uint16
// and, for well-formed responses, does not exceed MaxPayload.
func EncodeResponse(status Status, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], Magic)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(payload)))
	binary.BigEndian.PutUint16(out[6:8], uint16(status))
	copy(out[HeaderSize:], payload)
	return out
}

// EncodeError builds a header-only error response: length zero, the given
// status, and no payload.
func EncodeError(status Status) []byte {
	return EncodeResponse(status, nil)
}
