package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// contentHash computes a stable SHA-256 digest over a sequence of fields,
// length-prefixing each one to avoid delimiter-collision ambiguity between
// adjacent fields.
func contentHash(fields ...any) string {
	h := sha256.New()
	for _, f := range fields {
		switch v := f.(type) {
		case string:
			writeField(h, []byte(v))
		case []string:
			for _, s := range v {
				writeField(h, []byte(s))
			}
		default:
			writeField(h, []byte{})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // field lengths are bounded well under 2^32
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}
