package sourcemap

import (
	"errors"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index [128]int8

func init() {
	for i := range base64Index {
		base64Index[i] = -1
	}
	for i, c := range base64Chars {
		base64Index[c] = int8(i)
	}
}

// ErrBadMappings is returned when a mappings string is malformed.
var ErrBadMappings = errors.New("sourcemap: malformed mappings")

const (
	vlqShift    = 5
	vlqMask     = 1<<vlqShift - 1
	vlqContinue = 1 << vlqShift
)

// writeVLQ appends the base64 VLQ encoding of v.
func writeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & vlqMask
		u >>= vlqShift
		if u > 0 {
			digit |= vlqContinue
		}
		b.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}

// readVLQ decodes one value from s and returns it with the remainder.
func readVLQ(s string) (int, string, error) {
	var (
		result int
		shift  uint
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 128 || base64Index[c] < 0 {
			return 0, s, ErrBadMappings
		}
		digit := int(base64Index[c])
		result += (digit & vlqMask) << shift
		if digit&vlqContinue == 0 {
			v := result >> 1
			if result&1 == 1 {
				v = -v
			}
			return v, s[i+1:], nil
		}
		shift += vlqShift
	}
	return 0, s, ErrBadMappings
}
