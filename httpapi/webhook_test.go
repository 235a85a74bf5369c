package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/metrics"
)

func TestWebhookSenderSignsAndDeliversOnFirstAttempt(t *testing.T) {
	secret := []byte("whsec")
	var received WebhookEvent
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := metrics.NewHTTPMetrics(nil)
	sender := &WebhookSender{URL: srv.URL, Secret: secret, Metrics: m}
	ev := WebhookEvent{Event: "invoice_created", InvoiceID: 1, EpisodeID: 7, Amount: 100}
	sender.Send(context.Background(), ev)

	require.Equal(t, "invoice_created", received.Event)
	require.Equal(t, uint64(1), received.InvoiceID)

	body, _ := json.Marshal(ev)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookSenderRetriesThenGivesUp(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.NewHTTPMetrics(nil)
	sender := &WebhookSender{URL: srv.URL, Secret: []byte("s"), Metrics: m, BaseDelay: time.Millisecond}
	sender.Send(context.Background(), WebhookEvent{Event: "x"})

	require.Equal(t, int32(webhookRetries+1), atomic.LoadInt32(&attempts))
}

func TestWebhookSenderNoopWithoutURLOrSecret(t *testing.T) {
	sender := &WebhookSender{}
	sender.Send(context.Background(), WebhookEvent{Event: "x"})
}
