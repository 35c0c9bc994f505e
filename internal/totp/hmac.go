package totp

// HMACSHA1 returns HMAC-SHA1(key, message) per RFC 2104.
func HMACSHA1(key, message []byte) [sha1Size]byte {
	if len(key) > sha1BlockSize {
		sum := SHA1(key)
		key = sum[:]
	}

	var ipad, opad [sha1BlockSize]byte
	copy(ipad[:], key)
	copy(opad[:], key)
	for i := range ipad {
		ipad[i] ^= 0x36
		opad[i] ^= 0x5c
	}

	inner := SHA1(append(ipad[:], message...))
	return SHA1(append(opad[:], inner[:]...))
}
