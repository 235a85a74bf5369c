package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/metrics"
)

// WebhookEvent is the body POSTed to a configured webhook endpoint on an
// invoice lifecycle transition, field-for-field matching server.rs's
// WebhookEvent.
type WebhookEvent struct {
	Event       string  `json:"event"`
	InvoiceID   uint64  `json:"invoice_id"`
	EpisodeID   uint32  `json:"episode_id"`
	Amount      uint64  `json:"amount"`
	Memo        *string `json:"memo,omitempty"`
	PayerPubKey *string `json:"payer_pubkey,omitempty"`
	Timestamp   uint64  `json:"timestamp"`
}

// WebhookSender delivers WebhookEvent bodies to a configured HTTP endpoint,
// signing each body with HMAC-SHA256 and retrying on failure. Grounded on
// server.rs's spawn_webhook: a fire-and-forget task that makes one attempt
// plus up to 3 retries with exponential backoff (1s, 3s, 9s). No-op construction (URL or Secret
// unset) turns every Send into a no-op rather than an error, matching the
// original's "both configured or neither fires" behavior.
type WebhookSender struct {
	URL     string
	Secret  []byte
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *metrics.HTTPMetrics

	// BaseDelay overrides the first retry delay (default webhookBaseDelay);
	// tests shrink this so the 1s/3s/9s backoff doesn't slow the suite.
	BaseDelay time.Duration
}

const (
	webhookRetries    = 3
	webhookBaseDelay  = time.Second
	webhookDelayScale = 3
)

// Send blocks until ev is delivered, the retries are exhausted, or ctx is
// done; request handlers invoke it as `go sender.Send(...)` so they do not
// block on network I/O.
func (w *WebhookSender) Send(ctx context.Context, ev WebhookEvent) {
	if w == nil || w.URL == "" || len(w.Secret) == 0 {
		return
	}
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("httpapi: webhook serialize failed", zap.Error(err))
		return
	}
	sig := signHMAC(w.Secret, body)

	delay := w.BaseDelay
	if delay <= 0 {
		delay = webhookBaseDelay
	}
	for attempt := 0; attempt <= webhookRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			logger.Warn("httpapi: webhook request build failed", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", sig)

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if w.Metrics != nil {
					w.Metrics.WebhookDelivered.Inc()
				}
				return
			}
			logger.Warn("httpapi: webhook POST failed", zap.Int("status", resp.StatusCode))
		} else {
			logger.Warn("httpapi: webhook POST failed", zap.Error(err))
		}

		if attempt < webhookRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= webhookDelayScale
		}
	}
	if w.Metrics != nil {
		w.Metrics.WebhookFailed.Inc()
	}
}

func signHMAC(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
