package totp

import (
	"fmt"
	"strings"
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// EncodeBase32 encodes data with the RFC 4648 alphabet and no padding.
func EncodeBase32(data []byte) string {
	var b strings.Builder
	b.Grow((len(data)*8 + 4) / 5)

	var buf uint32
	var n uint
	for _, c := range data {
		buf = buf<<8 | uint32(c)
		n += 8
		for n >= 5 {
			n -= 5
			b.WriteByte(base32Alphabet[(buf>>n)&0x1f])
		}
	}
	if n > 0 {
		b.WriteByte(base32Alphabet[(buf<<(5-n))&0x1f])
	}
	return b.String()
}

// DecodeBase32 decodes RFC 4648 base32 text. Padding and whitespace are
// ignored, lowercase is accepted, and trailing bits that do not fill a
// byte are discarded.
func DecodeBase32(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*5/8)

	var buf uint32
	var n uint
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '=' || c == ' ' || c == '\t' || c == '\n' || c == '\r':
			continue
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}

		v := strings.IndexByte(base32Alphabet, c)
		if v < 0 {
			return nil, fmt.Errorf("invalid base32 character %q at offset %d", s[i], i)
		}

		buf = buf<<5 | uint32(v)
		n += 5
		if n >= 8 {
			n -= 8
			out = append(out, byte(buf>>n))
		}
	}
	return out, nil
}
