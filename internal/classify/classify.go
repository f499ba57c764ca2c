// Package classify recognizes OTR messages on the wire without decrypting
// them, and adds or strips the whitespace tag used to offer encryption.
package classify

import (
	"encoding/base64"
	"strings"

	"otrkit/internal/domain/types"
	"otrkit/internal/fragment"
)

const (
	// Marker starts every OTR protocol message.
	Marker = "?OTR"
	// DataPrefix starts an encoded OTR message.
	DataPrefix = "?OTR:"
	// ErrorPrefix starts an OTR error message.
	ErrorPrefix = "?OTR Error:"
	// Query asks the peer to start OTR version 2.
	Query = "?OTRv2?"

	// TagBase is the whitespace tag announcing OTR support. One eight
	// character version tag follows it per supported version.
	TagBase = " \t  \t\t\t\t \t \t \t  "
	TagV1   = " \t \t  \t "
	TagV2   = "  \t\t  \t "
	TagV3   = "  \t\t  \t\t"
)

const (
	wireDHCommit  = 0x02
	wireData      = 0x03
	wireDHKey     = 0x0a
	wireRevealSig = 0x11
	wireSig       = 0x12
)

// StartsWithOTRPrefix reports whether msg begins with the OTR marker.
func StartsWithOTRPrefix(msg string) bool {
	return strings.HasPrefix(msg, Marker)
}

// TypeOf classifies msg.
func TypeOf(msg string) types.MessageType {
	switch {
	case strings.HasPrefix(msg, DataPrefix):
		return typeOfData(msg[len(DataPrefix):])
	case strings.HasPrefix(msg, ErrorPrefix):
		return types.MessageTypeError
	case fragment.IsFragment(msg):
		f, err := fragment.Parse(msg)
		if err == nil && f.Index == 1 && strings.HasPrefix(f.Piece, DataPrefix) {
			return typeOfData(f.Piece[len(DataPrefix):])
		}
		return types.MessageTypeUnknown
	case IsQuery(msg):
		return types.MessageTypeQuery
	case HasTag(msg):
		return types.MessageTypeTaggedPlainText
	}
	return types.MessageTypeNotOTR
}

// typeOfData names the handshake message a "?OTR:" body carries. Anything
// else behind the data prefix is a data message.
func typeOfData(body string) types.MessageType {
	if len(body) < 4 {
		return types.MessageTypeData
	}
	hdr, err := base64.StdEncoding.DecodeString(body[:4])
	if err != nil || len(hdr) < 3 {
		return types.MessageTypeData
	}
	version := int(hdr[0])<<8 | int(hdr[1])
	switch version {
	case 1:
		switch hdr[2] {
		case wireDHKey:
			return types.MessageTypeV1KeyExchange
		case wireData:
			return types.MessageTypeData
		}
	case 2, 3:
		switch hdr[2] {
		case wireDHCommit:
			return types.MessageTypeDHCommit
		case wireDHKey:
			return types.MessageTypeDHKey
		case wireRevealSig:
			return types.MessageTypeRevealSignature
		case wireSig:
			return types.MessageTypeSignature
		case wireData:
			return types.MessageTypeData
		}
	}
	return types.MessageTypeData
}

// IsQuery reports whether msg contains an OTR query such as "?OTR?" or
// "?OTRv23?".
func IsQuery(msg string) bool {
	pos := strings.Index(msg, Marker)
	if pos < 0 {
		return false
	}
	rest := msg[pos+len(Marker):]
	if strings.HasPrefix(rest, "?") {
		return true
	}
	if !strings.HasPrefix(rest, "v") {
		return false
	}
	for _, c := range rest[1:] {
		switch {
		case c == '?':
			return true
		case c < '0' || c > '9':
			return false
		}
	}
	return false
}

// ErrorText returns the human part of an OTR error message.
func ErrorText(msg string) string {
	return strings.TrimSpace(strings.TrimPrefix(msg, ErrorPrefix))
}

// HasTag reports whether msg carries a whitespace tag.
func HasTag(msg string) bool {
	return strings.Contains(msg, TagBase)
}

// AddTag appends the version 2 whitespace tag to msg.
func AddTag(msg string) string {
	if HasTag(msg) {
		return msg
	}
	return msg + TagBase + TagV2
}

// StripTag removes the whitespace tag and its version tags from msg.
func StripTag(msg string) string {
	pos := strings.Index(msg, TagBase)
	if pos < 0 {
		return msg
	}
	rest := msg[pos+len(TagBase):]
	for len(rest) >= len(TagV1) {
		v := rest[:len(TagV1)]
		if v != TagV1 && v != TagV2 && v != TagV3 {
			break
		}
		rest = rest[len(TagV1):]
	}
	return msg[:pos] + rest
}
