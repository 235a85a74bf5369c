package guardian

import (
	"encoding/binary"
	"math"

	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Attestation is a watchtower's signed claim about fee/congestion policy
// for one epoch, grounded on tlv.rs's Attestation/AttestationSigData pair.
type Attestation struct {
	RootHash        [32]byte
	Epoch           uint64
	FeeBucket       uint64
	CongestionRatio float64
	AttesterPubKey  episode.PubKey
	Signature       episode.Signature
}

// signedBytes reproduces AttestationSigData's field order, a fixed-width
// big-endian encoding since this is an internal signing convention (unlike
// the TLV wire format, nothing external pins it to little-endian).
func (a Attestation) signedBytes() []byte {
	buf := make([]byte, 32+8+8+8+len(a.AttesterPubKey))
	copy(buf[0:32], a.RootHash[:])
	binary.BigEndian.PutUint64(buf[32:40], a.Epoch)
	binary.BigEndian.PutUint64(buf[40:48], a.FeeBucket)
	binary.BigEndian.PutUint64(buf[48:56], math.Float64bits(a.CongestionRatio))
	copy(buf[56:], a.AttesterPubKey)
	return buf
}

// Sign fills in AttesterPubKey and Signature from priv, matching
// sign_attestation's "derive pubkey from the signing key" behavior.
func (a *Attestation) Sign(priv *btcec.PrivateKey) {
	a.AttesterPubKey = cryptoutil.CompressedPubKey(priv)
	a.Signature = cryptoutil.Sign(priv, a.signedBytes())
}

// KnownAttesters is the set of watchtower public keys a receiver accepts
// fee-policy advice from, per spec §4.6 ("verify ... the attester is in a
// known set before accepting fee-policy advice").
type KnownAttesters []episode.PubKey

func (ks KnownAttesters) contains(k episode.PubKey) bool {
	for _, known := range ks {
		if known.Equal(k) {
			return true
		}
	}
	return false
}

// VerifyAttestation reports whether att's signature is valid and its
// attester is in known. Both checks must pass before fee-policy advice is
// accepted.
func VerifyAttestation(att Attestation, known KnownAttesters) bool {
	if !known.contains(att.AttesterPubKey) {
		return false
	}
	return cryptoutil.ECDSAVerifier{}.Verify(att.AttesterPubKey, att.signedBytes(), att.Signature)
}
