// Package cryptoutil wraps the sign/verify/hash primitives the core
// consumes but never implements itself (spec §1 lists actual cryptographic
// primitive implementations as an external collaborator). It adapts
// btcsuite's pure-Go secp256k1 implementation — already an indirect
// dependency of the teacher's own secp256k1 story — to the narrow
// episode.Signature-shaped interface the engine needs, plus a BLAKE2b
// hashing helper used both for deterministic episode entropy derivation
// (spec §4.1) and the guardian TLV keyed-MAC (spec §4.6).
package cryptoutil

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/blake2b"

	"github.com/kasperience/kdapp-sub000/episode"
)

// ECDSAVerifier verifies ECDSA signatures over the SHA-256 digest of a
// message, under compressed secp256k1 public keys. It satisfies
// engine.Verifier and guardian's attestation verifier.
type ECDSAVerifier struct{}

// Verify reports whether sig is a valid ECDSA signature by pubKey over msg.
// Malformed keys or signatures verify as false, never as an error: signature
// failure is a command error, not a crash (spec §4.1, §7).
func (ECDSAVerifier) Verify(pubKey episode.PubKey, msg []byte, sig episode.Signature) bool {
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return parsed.Verify(digest[:], key)
}

// Sign produces a DER-encoded ECDSA signature over the SHA-256 digest of
// msg under priv. It exists for tests and for applications' transaction
// builders; the engine itself never signs anything.
func Sign(priv *btcec.PrivateKey, msg []byte) episode.Signature {
	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return episode.Signature(sig.Serialize())
}

// CompressedPubKey returns the 33-byte compressed serialization of priv's
// public key, the form episode.PubKey values carry.
func CompressedPubKey(priv *btcec.PrivateKey) episode.PubKey {
	return episode.PubKey(priv.PubKey().SerializeCompressed())
}

// XOnlyPubKey returns the 32-byte x-only serialization used by
// taproot-style outputs (script_version == 1).
func XOnlyPubKey(priv *btcec.PrivateKey) episode.PubKey {
	full := priv.PubKey().SerializeCompressed()
	return episode.PubKey(full[1:]) // drop the sign-parity prefix byte
}

// DeterministicEntropy hashes the tuple spec §4.1 names as the only
// permitted source of entropy inside Execute: the carrier tx id, the
// accepting block hash, the participant's public key and an
// episode-specific salt. It returns a 32-byte digest; callers fold it down
// however their draw needs (mod N, bit slice, etc).
func DeterministicEntropy(txID episode.TxID, acceptingHash episode.BlockHash, participant episode.PubKey, salt []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(txID[:])
	h.Write(acceptingHash[:])
	h.Write(participant)
	h.Write(salt)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashState returns a stable BLAKE2b-256 digest of an already-serialized
// episode state, used for the guardian protocol's state_hash field and for
// watchtower checkpoint attestations.
func HashState(serialized []byte) [32]byte {
	return blake2b.Sum256(serialized)
}

// KeyedMAC256 computes an unkeyed BLAKE2b-512 hash over sharedSecret||msg,
// truncated to 256 bits, exactly as tlv.rs's
// `Blake2b512::new_with_prefix(key).update(bytes_for_sign())` pins the
// guardian TLV's auth field (spec §4.6/§6: "prefix = shared secret"). The
// secret is prepended to the hash input, not passed as BLAKE2b's native
// keyed-mode parameter — those two constructions produce different digests,
// and only the former interoperates with a guardian built from tlv.rs.
func KeyedMAC256(sharedSecret, msg []byte) [32]byte {
	h := blake2b.Sum512(append(append([]byte{}, sharedSecret...), msg...))
	var out [32]byte
	copy(out[:], h[:32])
	return out
}
