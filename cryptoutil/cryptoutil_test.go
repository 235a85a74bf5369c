package cryptoutil

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("CreateInvoice{id:1,amount:50}")
	sig := Sign(priv, msg)
	pub := CompressedPubKey(priv)

	var v ECDSAVerifier
	require.True(t, v.Verify(pub, msg, sig))
	require.False(t, v.Verify(pub, []byte("tampered"), sig))
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	var v ECDSAVerifier
	require.False(t, v.Verify([]byte{1, 2, 3}, []byte("msg"), []byte{4, 5, 6}))
}

func TestDeterministicEntropyStable(t *testing.T) {
	var txID [32]byte
	var hash [32]byte
	rand.Read(txID[:])
	rand.Read(hash[:])
	pub := []byte{0x02, 0x01}
	salt := []byte("challenge")

	a := DeterministicEntropy(txID, hash, pub, salt)
	b := DeterministicEntropy(txID, hash, pub, salt)
	require.Equal(t, a, b)

	c := DeterministicEntropy(txID, hash, pub, []byte("other-salt"))
	require.NotEqual(t, a, c)
}

func TestKeyedMACStableAndKeyed(t *testing.T) {
	secret := []byte("shared-secret-32-bytes-long!!!!")
	msg := []byte("Checkpoint{episode:5,seq:3}")

	a := KeyedMAC256(secret, msg)
	b := KeyedMAC256(secret, msg)
	require.Equal(t, a, b)

	c := KeyedMAC256([]byte("different-secret-32-bytes-long!"), msg)
	require.NotEqual(t, a, c)
}

// Pins KeyedMAC256 to the wire format a guardian built from tlv.rs expects:
// an unkeyed BLAKE2b-512 hash of secret||msg (the secret prepended to the
// message), not BLAKE2b's native keyed-hash mode.
func TestKeyedMACMatchesSecretPrefixConstruction(t *testing.T) {
	secret := []byte("shared-secret-32-bytes-long!!!!")
	msg := []byte("Checkpoint{episode:5,seq:3}")

	want := blake2b.Sum512(append(append([]byte{}, secret...), msg...))
	var wantTruncated [32]byte
	copy(wantTruncated[:], want[:32])

	require.Equal(t, wantTruncated, KeyedMAC256(secret, msg))
}
