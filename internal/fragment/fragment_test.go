package fragment_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"otrkit/internal/domain/types"
	"otrkit/internal/fragment"
)

var alice = types.ConversationKey{Account: "alice@example.org", Username: "bob@example.org", Protocol: "xmpp"}

func TestParse(t *testing.T) {
	f, err := fragment.Parse("?OTR,1,2,AB,")
	require.NoError(t, err)
	require.Equal(t, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"}, f)

	for _, bad := range []string{"?OTR,0,2,AB,", "?OTR,3,2,AB,", "?OTR,1,2,AB", "?OTR,x,2,AB,", "?OTR:AAA."} {
		_, err := fragment.Parse(bad)
		require.ErrorIs(t, err, fragment.ErrInvalid, bad)
	}
}

func TestSplitFits(t *testing.T) {
	msg := "?OTR:" + strings.Repeat("Q", 200) + "."
	frags := fragment.Split(msg, 40)
	require.Greater(t, len(frags), 1)
	var whole strings.Builder
	for i, s := range frags {
		require.LessOrEqual(t, len(s), 40)
		f, err := fragment.Parse(s)
		require.NoError(t, err)
		require.Equal(t, i+1, f.Index)
		require.Equal(t, len(frags), f.Total)
		whole.WriteString(f.Piece)
	}
	require.Equal(t, msg, whole.String())

	require.Equal(t, []string{"short"}, fragment.Split("short", 40))
	require.Equal(t, []string{msg}, fragment.Split(msg, 0))
	require.Equal(t, []string{msg}, fragment.Split(msg, 8))
}

func TestReassembleAnyOrder(t *testing.T) {
	r := fragment.NewReassembler(0)
	one := fragment.Fragment{Index: 1, Total: 2, Piece: "AB"}
	two := fragment.Fragment{Index: 2, Total: 2, Piece: "CD"}

	_, done := r.Add(alice, one)
	require.False(t, done)
	msg, done := r.Add(alice, two)
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
	require.False(t, r.Pending(alice))

	_, done = r.Add(alice, two)
	require.False(t, done)
	msg, done = r.Add(alice, one)
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
}

func TestReassembleSplitRoundTrip(t *testing.T) {
	r := fragment.NewReassembler(0)
	msg := "?OTR:" + strings.Repeat("0123456789", 30) + "."
	frags := fragment.Split(msg, 64)
	var got string
	for i := len(frags) - 1; i >= 0; i-- {
		f, err := fragment.Parse(frags[i])
		require.NoError(t, err)
		if out, ok := r.Add(alice, f); ok {
			got = out
		}
	}
	require.Equal(t, msg, got)
}

func TestReassembleMismatchedTotalIgnored(t *testing.T) {
	r := fragment.NewReassembler(0)
	_, done := r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"})
	require.False(t, done)
	_, done = r.Add(alice, fragment.Fragment{Index: 2, Total: 3, Piece: "XX"})
	require.False(t, done)
	msg, done := r.Add(alice, fragment.Fragment{Index: 2, Total: 2, Piece: "CD"})
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
}

func TestReassembleFirstFragmentRestartsSet(t *testing.T) {
	r := fragment.NewReassembler(0)
	r.Add(alice, fragment.Fragment{Index: 1, Total: 3, Piece: "x"})
	r.Add(alice, fragment.Fragment{Index: 3, Total: 3, Piece: "z"})
	_, done := r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"})
	require.False(t, done)
	msg, done := r.Add(alice, fragment.Fragment{Index: 2, Total: 2, Piece: "CD"})
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
}

func TestReassembleRepeatedIndexSupersedes(t *testing.T) {
	r := fragment.NewReassembler(0)
	r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "old"})
	r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"})
	msg, done := r.Add(alice, fragment.Fragment{Index: 2, Total: 2, Piece: "CD"})
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
}

func TestReassembleInterleavedKeys(t *testing.T) {
	r := fragment.NewReassembler(0)
	carol := alice
	carol.Username = "carol@example.org"

	r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"})
	r.Add(carol, fragment.Fragment{Index: 2, Total: 2, Piece: "YZ"})
	msg, done := r.Add(alice, fragment.Fragment{Index: 2, Total: 2, Piece: "CD"})
	require.True(t, done)
	require.Equal(t, "ABCD", msg)
	msg, done = r.Add(carol, fragment.Fragment{Index: 1, Total: 2, Piece: "WX"})
	require.True(t, done)
	require.Equal(t, "WXYZ", msg)
}

func TestReassembleRetention(t *testing.T) {
	now := time.Unix(1000, 0)
	r := fragment.NewReassembler(time.Minute)
	r.SetClock(func() time.Time { return now })

	r.Add(alice, fragment.Fragment{Index: 1, Total: 2, Piece: "AB"})
	now = now.Add(2 * time.Minute)
	_, done := r.Add(alice, fragment.Fragment{Index: 2, Total: 2, Piece: "CD"})
	require.False(t, done)
	require.True(t, r.Pending(alice))
}
