// Package crypto implements the cryptographic primitives spec.md §4.2
// requires: BIP-340 Schnorr signing/verification over secp256k1, and a
// streaming SHA-256 hasher. Grounded on the teacher's pkg/ec/schnorr API
// (ParsePubKey, ParseSignature, Sign, SerializePubKey, SecKeyFromBytes),
// wired here to the real upstream module those calls were modeled on.
package crypto

import (
	"errors"
	"fmt"
	"hash"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	sha256 "github.com/minio/sha256-simd"

	"github.com/nostrhub/relaycore/pkg/hex"
)

// ErrSign is returned when signing fails, e.g. due to a malformed secret key.
var ErrSign = errors.New("crypto: signing failed")

// NewHasher returns a fresh streaming SHA-256 hasher. Callers may Write to
// it incrementally (e.g. chunk by chunk while reading a large file) without
// buffering the whole input; Sum(nil) yields the final digest.
func NewHasher() hash.Hash { return sha256.New() }

// Hash256 returns the SHA-256 digest of in. Streaming callers should prefer
// NewHasher and Write incrementally instead.
func Hash256(in []byte) []byte {
	h := sha256.Sum256(in)
	return h[:]
}

// PubKey derives the 32-byte x-only public key for the 32-byte secret key
// skBytes, without signing anything.
func PubKey(skBytes []byte) ([]byte, error) {
	if len(skBytes) != 32 {
		return nil, fmt.Errorf("%w: secret key must be 32 bytes, got %d", ErrSign, len(skBytes))
	}
	_, pk := btcec.PrivKeyFromBytes(skBytes)
	return schnorr.SerializePubKey(pk), nil
}

// Sign produces a BIP-340 Schnorr signature over id (which must be the
// 32-byte event id) using the 32-byte secret key skBytes, and returns the
// 32-byte x-only public key and the 64-byte signature. Signing is made
// deterministic by passing a zero auxiliary random value, per spec.md §9
// ("Deterministic signing for NIP-95 two-pass").
func Sign(skBytes, id []byte) (pubkey, sig []byte, err error) {
	if len(skBytes) != 32 {
		return nil, nil, fmt.Errorf("%w: secret key must be 32 bytes, got %d", ErrSign, len(skBytes))
	}
	sk, pk := btcec.PrivKeyFromBytes(skBytes)
	var aux [32]byte
	s, err := schnorr.Sign(sk, id, schnorr.CustomNonce(aux))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSign, err)
	}
	return schnorr.SerializePubKey(pk), s.Serialize(), nil
}

// Verify reports whether sig is a valid BIP-340 signature of id under the
// x-only public key pubkeyHex. It never returns an error for an invalid
// signature — it returns false — so stream processing (e.g. a query's
// per-event signature check) can continue past bad data from a relay.
func Verify(pubkeyHex string, id []byte, sigHex string) bool {
	pkBytes, err := hex.Dec(pubkeyHex)
	if err != nil {
		return false
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}
	sigBytes, err := hex.Dec(sigHex)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(id, pk)
}

// VerifyBytes is like Verify but takes the raw pubkey and signature bytes
// directly (no hex decode).
func VerifyBytes(pubkeyBytes, id, sigBytes []byte) bool {
	pk, err := schnorr.ParsePubKey(pubkeyBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(id, pk)
}
