// Package tlv encodes and decodes the type-length-value records carried in
// the plaintext of encrypted OTR data messages.
//
// A record is a big-endian uint16 type, a big-endian uint16 length and then
// length bytes of payload. Records are simply concatenated.
package tlv

import (
	"encoding/binary"
	"fmt"

	"otrkit/internal/domain"
	"otrkit/internal/domain/types"
)

const headerLen = 4

// New builds a record after checking the payload fits the length field.
func New(typ types.TLVType, payload []byte) (types.TLV, error) {
	if len(payload) > types.MaxTLVPayload {
		return types.TLV{}, fmt.Errorf("%w: %d bytes", domain.ErrPayloadTooLarge, len(payload))
	}
	return types.TLV{Type: typ, Payload: payload}, nil
}

// Validate checks every record before it is handed to an engine.
func Validate(tlvs []types.TLV) error {
	for i, t := range tlvs {
		if len(t.Payload) > types.MaxTLVPayload {
			return fmt.Errorf("%w: record %d has %d bytes", domain.ErrPayloadTooLarge, i, len(t.Payload))
		}
	}
	return nil
}

// Encode concatenates the records. It fails rather than truncate an
// oversized payload.
func Encode(tlvs ...types.TLV) ([]byte, error) {
	if err := Validate(tlvs); err != nil {
		return nil, err
	}
	n := 0
	for _, t := range tlvs {
		n += headerLen + len(t.Payload)
	}
	out := make([]byte, 0, n)
	for _, t := range tlvs {
		out = binary.BigEndian.AppendUint16(out, uint16(t.Type))
		out = binary.BigEndian.AppendUint16(out, uint16(len(t.Payload)))
		out = append(out, t.Payload...)
	}
	return out, nil
}

// DecodeAll parses a block of records. On a truncated header or a length
// running past the end of block it returns the records decoded so far
// together with ErrMalformedTLV. Unknown types are returned as is.
func DecodeAll(block []byte) ([]types.TLV, error) {
	var out []types.TLV
	for len(block) > 0 {
		if len(block) < headerLen {
			return out, fmt.Errorf("%w: %d trailing bytes", domain.ErrMalformedTLV, len(block))
		}
		typ := types.TLVType(binary.BigEndian.Uint16(block))
		n := int(binary.BigEndian.Uint16(block[2:]))
		block = block[headerLen:]
		if n > len(block) {
			return out, fmt.Errorf("%w: type %#x declares %d bytes, %d left",
				domain.ErrMalformedTLV, uint16(typ), n, len(block))
		}
		payload := make([]byte, n)
		copy(payload, block[:n])
		out = append(out, types.TLV{Type: typ, Payload: payload})
		block = block[n:]
	}
	return out, nil
}

// Find returns the first record of the given type.
func Find(tlvs []types.TLV, typ types.TLVType) (types.TLV, bool) {
	for _, t := range tlvs {
		if t.Type == typ {
			return t, true
		}
	}
	return types.TLV{}, false
}

// WithoutPadding drops padding records, which carry nothing for the host.
func WithoutPadding(tlvs []types.TLV) []types.TLV {
	var out []types.TLV
	for _, t := range tlvs {
		if t.Type != types.TLVTypePadding {
			out = append(out, t)
		}
	}
	return out
}

// SMPQuestion extracts the question from an SMP1Q payload, which carries a
// NUL terminated question before the SMP values.
func SMPQuestion(payload []byte) string {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i])
		}
	}
	return string(payload)
}
