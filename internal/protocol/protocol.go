// Package protocol implements the compressd wire format: an 8-byte
// big-endian header followed by a bounded payload.
package protocol

// Status is the response code carried in the header of a server-to-client
// message. On ingress the same header field instead carries a Request code.
type Status uint16

const (
	StatusOk                                       Status = 0
	StatusUnknownError                              Status = 1
	StatusMessageTooLarge                           Status = 2
	StatusUnsupportedRequestType                    Status = 3
	StatusMessageTooSmall                           Status = 34
	StatusBadMagic                                  Status = 35
	StatusHeaderSizeMismatch                        Status = 36
	StatusRequestKindRequiresZeroLength             Status = 37
	StatusCompressionRequestRequiresNonZeroLength   Status = 38
	StatusPayloadContainsInvalidCharacters          Status = 39
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusUnknownError:
		return "UnknownError"
	case StatusMessageTooLarge:
		return "MessageTooLarge"
	case StatusUnsupportedRequestType:
		return "UnsupportedRequestType"
	case StatusMessageTooSmall:
		return "MessageTooSmall"
	case StatusBadMagic:
		return "BadMagic"
	case StatusHeaderSizeMismatch:
		return "HeaderSizeMismatch"
	case StatusRequestKindRequiresZeroLength:
		return "RequestKindRequiresZeroLength"
	case StatusCompressionRequestRequiresNonZeroLength:
		return "CompressionRequestRequiresNonZeroLength"
	case StatusPayloadContainsInvalidCharacters:
		return "PayloadContainsInvalidCharacters"
	default:
		return "Unknown"
	}
}

// Request identifies the kind of operation a client's message is asking for.
type Request uint16

const (
	RequestPing       Request = 1
	RequestGetStats   Request = 2
	RequestResetStats Request = 3
	RequestCompress   Request = 4
)

// ParseRequest maps a raw header code to a known Request kind. ok is false
// for any code outside the known domain.
func ParseRequest(code uint16) (req Request, ok bool) {
	switch Request(code) {
	case RequestPing, RequestGetStats, RequestResetStats, RequestCompress:
		return Request(code), true
	default:
		return 0, false
	}
}

func (r Request) String() string {
	switch r {
	case RequestPing:
		return "Ping"
	case RequestGetStats:
		return "GetStats"
	case RequestResetStats:
		return "ResetStats"
	case RequestCompress:
		return "Compress"
	default:
		return "Unknown"
	}
}

const (
	// Magic is the fixed sentinel ("srvc" in ASCII) that opens every
	// conforming frame.
	Magic uint32 = 0x73727663

	// HeaderSize is the fixed size, in bytes, of a message header.
	HeaderSize = 8

	// MaxPayload is the largest payload, in bytes, a single message may carry.
	MaxPayload = 1 << 13

	// MaxMessage is the largest frame, header included, a single message may occupy.
	MaxMessage = HeaderSize + MaxPayload
)

// Header is the parsed form of a message's fixed 8-byte prefix.
type Header struct {
	Magic  uint32
	Length uint16
	Code   uint16
}
