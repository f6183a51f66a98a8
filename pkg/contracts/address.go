package contracts

import "golang.org/x/text/unicode/norm"

// NormalizeAddress returns addr in Unicode NFC. Canonically equivalent
// spellings of an address normalize to the same string.
func NormalizeAddress(addr string) string {
	return norm.NFC.String(addr)
}

// SameAddress reports whether a and b name the same participant.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
