// Package compress implements the run-length prefix encoding used by
// Compress requests: runs of three or more identical lowercase ASCII
// characters are replaced by their decimal count followed by the
// character; shorter runs are left untouched.
package compress

import (
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidCharacter is returned by Compress when the input contains a
// byte outside the lowercase ASCII range.
var ErrInvalidCharacter = errors.New("payload contains invalid characters")

// Valid reports whether every byte in s is a lowercase ASCII letter.
func Valid(s []byte) bool {
	for _, c := range s {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Compress run-length encodes s. The caller must have already validated s
// with Valid (and must not call Compress on an empty slice); Compress
// itself re-validates and returns ErrInvalidCharacter rather than trusting
// the caller, since a pure function should not assume its precondition was
// checked correctly upstream.
//
// Examples:
//
//	a => a
//	aa => aa
//	aaa => 3a
//	aaaaabbb => 5a3b
//	aaaaabbbbbbaaabb => 5a6b3abb
//	abcdefg => abcdefg
//	aaaccddddhhhhi => 3acc4d4hi
func Compress(s []byte) ([]byte, error) {
	if !Valid(s) {
		return nil, ErrInvalidCharacter
	}

	out := make([]byte, 0, len(s))
	n := len(s)
	count := 1
	for i := 0; i < n; i++ {
		if i == n-1 || s[i] != s[i+1] {
			switch {
			case count == 2:
				out = append(out, s[i], s[i])
			case count > 2:
				out = append(out, []byte(strconv.Itoa(count))...)
				out = append(out, s[i])
			default:
				out = append(out, s[i])
			}
			count = 0
		}
		count++
	}

	return out, nil
}
