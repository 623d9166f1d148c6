// Package hex provides thin wrappers around encoding/hex with the names
// used throughout relaycore for decoding and encoding the hex-encoded
// fields of the Nostr wire format (event ids, pubkeys, signatures).
package hex

import "encoding/hex"

// Enc encodes b as a lowercase hex string.
func Enc(b []byte) string { return hex.EncodeToString(b) }

// Dec decodes a hex string to bytes.
func Dec(s string) ([]byte, error) { return hex.DecodeString(s) }

// Is32Byte reports whether s decodes to exactly 32 bytes of lowercase hex.
func Is32Byte(s string) bool { return isNByteHex(s, 32) }

// Is64Byte reports whether s decodes to exactly 64 bytes of lowercase hex.
func Is64Byte(s string) bool { return isNByteHex(s, 64) }

func isNByteHex(s string, n int) bool {
	if len(s) != n*2 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
