package otrkit

import "strings"

// DefaultSeparator splits account names such as "alice@example.org".
const DefaultSeparator = "@"

// LeftPortion returns the part of name before the separator, or name when
// it has none.
func (k *Kit) LeftPortion(name string) string {
	left, _ := k.split(name)
	return left
}

// RightPortion returns the part of name after the separator, or "" when it
// has none.
func (k *Kit) RightPortion(name string) string {
	_, right := k.split(name)
	return right
}

func (k *Kit) split(name string) (string, string) {
	left, right, found := strings.Cut(name, k.separator)
	if !found {
		return name, ""
	}
	return left, right
}
