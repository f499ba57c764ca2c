// Package fragment splits OTR messages into transport sized pieces and puts
// them back together.
//
// A fragment looks like "?OTR,k,n,piece," where k is the 1-based index and n
// the number of fragments in the message.
package fragment

import (
	"errors"
	"strconv"
	"strings"
)

// Prefix starts every fragment.
const Prefix = "?OTR,"

// ErrInvalid is returned by Parse for anything that is not a well formed
// fragment.
var ErrInvalid = errors.New("fragment: invalid OTR fragment")

// Fragment is one parsed piece of a message.
type Fragment struct {
	Index int
	Total int
	Piece string
}

// String renders the fragment in wire form.
func (f Fragment) String() string {
	return Prefix + strconv.Itoa(f.Index) + "," + strconv.Itoa(f.Total) + "," + f.Piece + ","
}

// IsFragment reports whether msg carries the fragment prefix.
func IsFragment(msg string) bool {
	return strings.HasPrefix(msg, Prefix)
}

// Parse decodes a fragment.
func Parse(msg string) (Fragment, error) {
	if !IsFragment(msg) {
		return Fragment{}, ErrInvalid
	}
	parts := strings.Split(msg[len(Prefix):], ",")
	if len(parts) != 4 || parts[3] != "" {
		return Fragment{}, ErrInvalid
	}
	k, err := strconv.Atoi(parts[0])
	if err != nil {
		return Fragment{}, ErrInvalid
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return Fragment{}, ErrInvalid
	}
	if k < 1 || n < 1 || k > n {
		return Fragment{}, ErrInvalid
	}
	return Fragment{Index: k, Total: n, Piece: parts[2]}, nil
}

func overhead(total int) int {
	// "?OTR," k "," n "," piece ","
	digits := len(strconv.Itoa(total))
	return len(Prefix) + 2*digits + 3
}

// Split cuts msg so that no fragment is longer than max bytes. Messages that
// already fit, or limits too small to carry a piece, yield msg unchanged.
func Split(msg string, max int) []string {
	if max <= 0 || len(msg) <= max {
		return []string{msg}
	}
	total := 1
	for {
		per := max - overhead(total)
		if per < 1 {
			return []string{msg}
		}
		need := (len(msg) + per - 1) / per
		if need <= total {
			break
		}
		total = need
	}
	per := max - overhead(total)
	out := make([]string, 0, total)
	for i := 0; len(msg) > 0; i++ {
		n := per
		if n > len(msg) {
			n = len(msg)
		}
		out = append(out, Fragment{Index: i + 1, Total: total, Piece: msg[:n]}.String())
		msg = msg[n:]
	}
	// need can come out below total once total has grown
	if len(out) != total {
		for i := range out {
			f, _ := Parse(out[i])
			f.Total = len(out)
			out[i] = f.String()
		}
	}
	return out
}
