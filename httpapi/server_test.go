package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/payment"
	"github.com/kasperience/kdapp-sub000/watcher"
)

type fakeSubmitter struct {
	signed   []payment.Command
	unsigned []payment.Command
}

func (f *fakeSubmitter) SubmitSigned(ctx context.Context, episodeID episode.ID, pubKey episode.PubKey, signature episode.Signature, cmd payment.Command) error {
	f.signed = append(f.signed, cmd)
	return nil
}

func (f *fakeSubmitter) SubmitUnsigned(ctx context.Context, episodeID episode.ID, cmd payment.Command) error {
	f.unsigned = append(f.unsigned, cmd)
	return nil
}

type fakeReader struct{}

func (fakeReader) Invoices() (map[uint64]InvoiceView, bool) { return map[uint64]InvoiceView{}, true }
func (fakeReader) Subscriptions() (map[uint64]SubscriptionView, bool) {
	return map[uint64]SubscriptionView{}, true
}

func newTestServer(t *testing.T) (*Server, *fakeSubmitter) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sub := &fakeSubmitter{}
	w := watcher.New(watcher.Config{})
	s := NewServer(Config{
		EpisodeID:   1,
		APIKey:      "test-key",
		Submitter:   sub,
		MerchantKey: priv,
		MerchantPub: cryptoutil.CompressedPubKey(priv),
		Watcher:     w,
		Invoices:    fakeReader{},
	})
	return s, sub
}

func TestCreateInvoiceRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(createInvoiceReq{InvoiceID: 1, Amount: 10})
	req := httptest.NewRequest(http.MethodPost, "/invoice", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateInvoiceAccepted(t *testing.T) {
	s, sub := newTestServer(t)
	body, _ := json.Marshal(createInvoiceReq{InvoiceID: 1, Amount: 10, Memo: "coffee"})
	req := httptest.NewRequest(http.MethodPost, "/invoice", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sub.signed, 1)
	require.Equal(t, uint64(1), sub.signed[0].CreateInvoice.InvoiceID)
}

func TestAckInvoiceSubmitsUnsigned(t *testing.T) {
	s, sub := newTestServer(t)
	body, _ := json.Marshal(invoiceIDReq{InvoiceID: 5})
	req := httptest.NewRequest(http.MethodPost, "/ack", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sub.unsigned, 1)
	require.Equal(t, uint64(5), sub.unsigned[0].AckReceipt.InvoiceID)
}

func TestWatcherConfigRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	fee := uint64(2000)
	body, _ := json.Marshal(watcherConfigReq{MaxFee: &fee})
	req := httptest.NewRequest(http.MethodPost, "/watcher-config", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var op watcherOpOut
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&op))
	require.Equal(t, "pending", op.Status)

	req2 := httptest.NewRequest(http.MethodGet, "/watcher-config", nil)
	req2.Header.Set("X-API-Key", "test-key")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestPayInvoiceRejectsBadSignatureHex(t *testing.T) {
	s, _ := newTestServer(t)
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	payer := cryptoutil.CompressedPubKey(priv)
	body, _ := json.Marshal(payInvoiceReqSigned{InvoiceID: 1, PayerPublicKey: hex.EncodeToString(payer), Signature: "zz"})
	req := httptest.NewRequest(http.MethodPost, "/pay", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
