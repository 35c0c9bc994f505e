package totp

import (
	"encoding/binary"
	"math/bits"
)

const (
	// sha1BlockSize is the SHA-1 block size in bytes.
	sha1BlockSize = 64
	// sha1Size is the SHA-1 digest size in bytes.
	sha1Size = 20
)

var sha1Init = [5]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476, 0xC3D2E1F0}

// SHA1 returns the SHA-1 digest of data (FIPS 180-4).
func SHA1(data []byte) [sha1Size]byte {
	h := sha1Init

	// Message || 0x80 || zeros || 64-bit big-endian bit length, padded to a
	// multiple of the block size.
	msgLen := len(data)
	padLen := sha1BlockSize - (msgLen+9)%sha1BlockSize
	if padLen == sha1BlockSize {
		padLen = 0
	}
	msg := make([]byte, msgLen+9+padLen)
	copy(msg, data)
	msg[msgLen] = 0x80
	binary.BigEndian.PutUint64(msg[len(msg)-8:], uint64(msgLen)*8)

	for off := 0; off < len(msg); off += sha1BlockSize {
		sha1Block(&h, msg[off:off+sha1BlockSize])
	}

	var out [sha1Size]byte
	for i, v := range h {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// sha1Block runs the 80-round compression function over one 64-byte block.
func sha1Block(h *[5]uint32, block []byte) {
	var w [80]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block[i*4:])
	}
	for i := 16; i < 80; i++ {
		w[i] = bits.RotateLeft32(w[i-3]^w[i-8]^w[i-14]^w[i-16], 1)
	}

	a, b, c, d, e := h[0], h[1], h[2], h[3], h[4]
	for i := 0; i < 80; i++ {
		var f, k uint32
		switch {
		case i < 20:
			f = (b & c) | (^b & d)
			k = 0x5A827999
		case i < 40:
			f = b ^ c ^ d
			k = 0x6ED9EBA1
		case i < 60:
			f = (b & c) | (b & d) | (c & d)
			k = 0x8F1BBCDC
		default:
			f = b ^ c ^ d
			k = 0xCA62C1D6
		}
		t := bits.RotateLeft32(a, 5) + f + e + k + w[i]
		e = d
		d = c
		c = bits.RotateLeft32(b, 30)
		b = a
		a = t
	}

	h[0] += a
	h[1] += b
	h[2] += c
	h[3] += d
	h[4] += e
}
