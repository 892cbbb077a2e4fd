package groupcast

import (
	"fmt"

	"github.com/banyan-group/groupcast/packet"
)

// PacketKind distinguishes the three correlator message kinds that travel
// over a [Message] payload (spec §6).
type PacketKind byte

const (
	KindReq          PacketKind = 1
	KindRsp          PacketKind = 2
	KindExceptionRsp PacketKind = 3
)

func (k PacketKind) String() string {
	switch k {
	case KindReq:
		return "REQ"
	case KindRsp:
		return "RSP"
	case KindExceptionRsp:
		return "EXCEPTION_RSP"
	default:
		return fmt.Sprintf("PacketKind(%d)", byte(k))
	}
}

// headerLen is the fixed encoded size of a Header: 8 bytes request id, 1
// byte kind, 1 byte rsp_expected, 2 bytes corr_id.
const headerLen = 12

// Header is the correlator wire header attached to every request/response
// message (spec §6). Its encoding is a fixed-width prefix so that decoding
// never needs to look past the header to find the payload boundary.
type Header struct {
	RequestID   uint64
	Kind        PacketKind
	RspExpected bool
	CorrID      uint16
}

// Encode renders h in binary form using the low-level [packet.Builder]
// primitives, exactly as chirp's Packet/Request/Response types do.
func (h Header) Encode() []byte {
	var b packet.Builder
	b.Grow(headerLen)
	b.Uint32(uint32(h.RequestID >> 32))
	b.Uint32(uint32(h.RequestID))
	b.Put(byte(h.Kind))
	b.Bool(h.RspExpected)
	b.Uint16(h.CorrID)
	return b.Bytes()
}

// DecodeHeader parses a Header from the front of buf and returns it along
// with the remaining, still-unconsumed payload bytes.
func DecodeHeader(buf []byte) (Header, []byte, error) {
	s := packet.NewScanner(buf)
	hi, err := s.Uint32()
	if err != nil {
		return Header{}, nil, fmt.Errorf("header request id (high): %w", err)
	}
	lo, err := s.Uint32()
	if err != nil {
		return Header{}, nil, fmt.Errorf("header request id (low): %w", err)
	}
	kind, err := s.Byte()
	if err != nil {
		return Header{}, nil, fmt.Errorf("header kind: %w", err)
	}
	rspExpected, err := s.Bool()
	if err != nil {
		return Header{}, nil, fmt.Errorf("header rsp_expected: %w", err)
	}
	corrID, err := s.Uint16()
	if err != nil {
		return Header{}, nil, fmt.Errorf("header corr_id: %w", err)
	}
	h := Header{
		RequestID:   uint64(hi)<<32 | uint64(lo),
		Kind:        PacketKind(kind),
		RspExpected: rspExpected,
		CorrID:      corrID,
	}
	return h, s.Rest(), nil
}

// EncodeMessage concatenates h's wire encoding with payload, ready to be
// placed as a Message's Payload.
func EncodeMessage(h Header, payload []byte) []byte {
	enc := h.Encode()
	out := make([]byte, 0, len(enc)+len(payload))
	out = append(out, enc...)
	out = append(out, payload...)
	return out
}
