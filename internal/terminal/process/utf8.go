package process

import "unicode/utf8"

// completeUTF8 returns the length of the longest prefix of b that does not
// end in the middle of a multi-byte sequence. Invalid bytes count as
// complete so they are passed through rather than held forever.
func completeUTF8(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return n
		}
		return i
	}
	return n
}
