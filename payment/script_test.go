package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"
)

func TestNormalizeScriptIdempotentAndLengthPreserving(t *testing.T) {
	merchant := make([]byte, 33)
	for i := range merchant {
		merchant[i] = byte(i + 1)
	}
	nonMinimal := append([]byte{opPushData1, 33}, merchant...)
	nonMinimal = append(nonMinimal, opCheckSig)

	once := NormalizeScript(nonMinimal)
	twice := NormalizeScript(once)
	require.Equal(t, once, twice)
	require.LessOrEqual(t, len(once), len(nonMinimal))
	require.Equal(t, byte(33), once[0])
	require.Equal(t, merchant, once[1:34])
	require.Equal(t, byte(opCheckSig), once[34])

	alreadyMinimal := []byte{33}
	alreadyMinimal = append(alreadyMinimal, merchant...)
	alreadyMinimal = append(alreadyMinimal, opCheckSig)
	require.Equal(t, alreadyMinimal, NormalizeScript(alreadyMinimal))
}

func TestMerchantGuardianMultisigPolicy(t *testing.T) {
	priv1, _ := newKey(t)
	priv2, _ := newKey(t)
	merchant := cryptoutil.CompressedPubKey(priv1)
	guardian := cryptoutil.CompressedPubKey(priv2)

	script := []byte{op1 + 1} // OP_2
	script = append(script, 33)
	script = append(script, merchant...)
	script = append(script, 33)
	script = append(script, guardian...)
	script = append(script, op1+1, opCheckMultisig) // n=2

	ok := matchesMerchantGuardianMultisig(script, []episode.PubKey{merchant}, []episode.PubKey{guardian})
	require.True(t, ok)

	notGuardian := make([]byte, 33)
	copy(notGuardian, guardian)
	notGuardian[0] ^= 0xff
	ok = matchesMerchantGuardianMultisig(script, []episode.PubKey{merchant}, []episode.PubKey{episode.PubKey(notGuardian)})
	require.False(t, ok)
}

func TestTaprootMerchantPolicy(t *testing.T) {
	priv, _ := newKey(t)
	merchant := cryptoutil.CompressedPubKey(priv)
	xonly := cryptoutil.XOnlyPubKey(priv)

	bare := append([]byte{32}, xonly...)
	require.True(t, matchesTaprootMerchant(bare, 1, []episode.PubKey{merchant}))
	require.False(t, matchesTaprootMerchant(bare, 0, []episode.PubKey{merchant}))

	prefixed := append([]byte{op1, 32}, xonly...)
	require.True(t, matchesTaprootMerchant(prefixed, 1, []episode.PubKey{merchant}))
}
