package guardian

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/kvstore"
	"github.com/kasperience/kdapp-sub000/payment"
)

type capturingDispatcher struct {
	sent []struct {
		guardian episode.PubKey
		frame    []byte
	}
}

func (d *capturingDispatcher) Dispatch(guardian episode.PubKey, frame []byte) error {
	d.sent = append(d.sent, struct {
		guardian episode.PubKey
		frame    []byte
	}{guardian, frame})
	return nil
}

func newPairKeys(t *testing.T) (merchant, guardianKey episode.PubKey) {
	t.Helper()
	mp, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	gp, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return cryptoutil.CompressedPubKey(mp), cryptoutil.CompressedPubKey(gp)
}

func TestCheckpointHandlerForwardsHandshakeThenCheckpoint(t *testing.T) {
	merchant, guardianKey := newPairKeys(t)
	secret := []byte("demo-secret")
	dispatcher := &capturingDispatcher{}
	handles := NewHandshakeStore(kvstore.NewMemory())
	h := NewCheckpointHandler(handles, dispatcher, secret, nil)

	state := payment.NewFactory(true)([]episode.PubKey{merchant}, &episode.PayloadMetadata{})
	cmd := payment.Command{Kind: payment.KindCreateInvoice, CreateInvoice: &payment.CreateInvoiceCmd{
		InvoiceID: 1, Amount: 10, GuardianKeys: []episode.PubKey{guardianKey},
	}}
	meta := &episode.PayloadMetadata{AcceptingTime: 100}
	_, err := state.Execute(cmd, merchant, meta)
	require.NoError(t, err)

	h.OnCommand(1, state, cmd, merchant, meta)

	require.GreaterOrEqual(t, len(dispatcher.sent), 3, "expect at least Handshake + New + Checkpoint frames")

	var sawHandshake, sawCheckpoint bool
	for _, s := range dispatcher.sent {
		msg, err := Decode(s.frame)
		require.NoError(t, err)
		require.True(t, msg.Verify(secret))
		switch msg.Type {
		case MsgHandshake:
			sawHandshake = true
		case MsgCheckpoint:
			sawCheckpoint = true
		}
	}
	require.True(t, sawHandshake)
	require.True(t, sawCheckpoint)
	require.True(t, handles.Known(merchant, guardianKey))

	// A second checkpoint-triggering command should not repeat the handshake.
	dispatcher.sent = nil
	h.checkpoint(1, state, 1, meta)
	for _, s := range dispatcher.sent {
		msg, err := Decode(s.frame)
		require.NoError(t, err)
		require.NotEqual(t, MsgHandshake, msg.Type)
	}
}

func TestCheckpointHandlerEscalatesDisputeOnPaidCancel(t *testing.T) {
	merchant, guardianKey := newPairKeys(t)
	secret := []byte("demo-secret")
	dispatcher := &capturingDispatcher{}
	handles := NewHandshakeStore(kvstore.NewMemory())
	h := NewCheckpointHandler(handles, dispatcher, secret, nil)

	_, payer := newPairKeys(t)
	state := payment.NewFactory(true)([]episode.PubKey{merchant}, &episode.PayloadMetadata{})
	createCmd := payment.Command{Kind: payment.KindCreateInvoice, CreateInvoice: &payment.CreateInvoiceCmd{
		InvoiceID: 1, Amount: 10, GuardianKeys: []episode.PubKey{guardianKey},
	}}
	_, err := state.Execute(createCmd, merchant, &episode.PayloadMetadata{})
	require.NoError(t, err)

	p2pk := append([]byte{33}, []byte(merchant)...)
	p2pk = append(p2pk, 0xac)
	var txID episode.TxID
	txID[31] = 1
	payMeta := &episode.PayloadMetadata{
		TxID:      txID,
		TxOutputs: []episode.TxOutputInfo{{Value: 10, ScriptBytes: p2pk}},
	}
	_, err = state.Execute(payment.Command{Kind: payment.KindMarkPaid, MarkPaid: &payment.MarkPaidCmd{InvoiceID: 1, Payer: payer}}, payer, payMeta)
	require.NoError(t, err)

	cancelCmd := payment.Command{Kind: payment.KindCancelInvoice, CancelInvoice: &payment.CancelInvoiceCmd{InvoiceID: 1}}
	_, err = state.Execute(cancelCmd, merchant, &episode.PayloadMetadata{})
	require.NoError(t, err)

	h.OnCommand(1, state, cancelCmd, merchant, &episode.PayloadMetadata{})

	require.NotEmpty(t, dispatcher.sent)
	found := false
	for _, s := range dispatcher.sent {
		msg, err := Decode(s.frame)
		require.NoError(t, err)
		if msg.Type == MsgSubDispute {
			found = true
		}
	}
	require.True(t, found)
}
