package classify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"otrkit/internal/classify"
	"otrkit/internal/domain/types"
)

func TestTypeOf(t *testing.T) {
	cases := []struct {
		in   string
		want types.MessageType
	}{
		{"hello", types.MessageTypeNotOTR},
		{"", types.MessageTypeNotOTR},
		{"?OTR:AAMDabcdef.", types.MessageTypeData},
		{"?OTR:...", types.MessageTypeData},
		{"?OTR:", types.MessageTypeData},
		{"?OTR:AAn/xyz.", types.MessageTypeData},
		{"?OTR:AAICxyz.", types.MessageTypeDHCommit},
		{"?OTR:AAIKxyz.", types.MessageTypeDHKey},
		{"?OTR:AAIRxyz.", types.MessageTypeRevealSignature},
		{"?OTR:AAISxyz.", types.MessageTypeSignature},
		{"?OTR:AAEKxyz.", types.MessageTypeV1KeyExchange},
		{"?OTR:AAEDxyz.", types.MessageTypeData},
		{"?OTRv2?", types.MessageTypeQuery},
		{"?OTR?v2?", types.MessageTypeQuery},
		{"?OTRv23? Bob wants to talk privately", types.MessageTypeQuery},
		{"?OTR Error: You sent encrypted data", types.MessageTypeError},
		{"?OTR,1,2,?OTR:AAMDab,", types.MessageTypeData},
		{"?OTR,2,2,cdef.,", types.MessageTypeUnknown},
		{"hi" + classify.TagBase + classify.TagV2, types.MessageTypeTaggedPlainText},
	}
	for _, c := range cases {
		require.Equal(t, c.want, classify.TypeOf(c.in), "%q", c.in)
	}
}

func TestTags(t *testing.T) {
	tagged := classify.AddTag("hello")
	require.True(t, classify.HasTag(tagged))
	require.Equal(t, tagged, classify.AddTag(tagged))
	require.Equal(t, "hello", classify.StripTag(tagged))

	multi := "a" + classify.TagBase + classify.TagV1 + classify.TagV3 + "b"
	require.Equal(t, "ab", classify.StripTag(multi))
	require.Equal(t, "plain", classify.StripTag("plain"))
}

func TestStartsWithOTRPrefix(t *testing.T) {
	require.True(t, classify.StartsWithOTRPrefix("?OTR:AAMD"))
	require.True(t, classify.StartsWithOTRPrefix("?OTRv2?"))
	require.False(t, classify.StartsWithOTRPrefix("hi ?OTR"))
	require.Equal(t, "bad mac", classify.ErrorText("?OTR Error: bad mac"))
}
