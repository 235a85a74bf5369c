package guardian

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestAttestationSignAndVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	att := Attestation{
		RootHash:        StateHash([]byte("root")),
		Epoch:           7,
		FeeBucket:       3,
		CongestionRatio: 0.42,
	}
	att.Sign(priv)

	known := KnownAttesters{att.AttesterPubKey}
	require.True(t, VerifyAttestation(att, known))
}

func TestAttestationRejectsUnknownAttester(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	att := Attestation{RootHash: StateHash([]byte("root")), Epoch: 1}
	att.Sign(priv)

	require.False(t, VerifyAttestation(att, KnownAttesters{}))
}

func TestAttestationRejectsTamperedField(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	att := Attestation{RootHash: StateHash([]byte("root")), Epoch: 1, FeeBucket: 10}
	att.Sign(priv)
	known := KnownAttesters{att.AttesterPubKey}
	require.True(t, VerifyAttestation(att, known))

	att.FeeBucket = 11
	require.False(t, VerifyAttestation(att, known))
}
