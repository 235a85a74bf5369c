// Command kdapp-merchantd runs a single merchant payment episode end to
// end: the payment engine, its guardian checkpoint forwarder, the fee/
// congestion watcher, and the HTTP/WebSocket front door. It runs in
// direct-submit mode, pushing commands straight into the engine's inbox
// rather than through a real chain connection (see httpapi.DirectSubmitter);
// wiring an actual chain RPC client is a deployment concern outside this
// framework (spec.md §1's wallet/chain-client exclusion), and no such
// client exists anywhere in this repository to wire in its place.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"go.uber.org/zap"

	"github.com/kasperience/kdapp-sub000/codec"
	"github.com/kasperience/kdapp-sub000/cryptoutil"
	"github.com/kasperience/kdapp-sub000/engine"
	"github.com/kasperience/kdapp-sub000/episode"
	"github.com/kasperience/kdapp-sub000/guardian"
	"github.com/kasperience/kdapp-sub000/handler"
	"github.com/kasperience/kdapp-sub000/httpapi"
	"github.com/kasperience/kdapp-sub000/kvstore"
	"github.com/kasperience/kdapp-sub000/metrics"
	"github.com/kasperience/kdapp-sub000/payment"
	"github.com/kasperience/kdapp-sub000/watcher"
)

// payloadPrefix is this deployment's payload-family magic: the 4-byte tag
// every carrier transaction payload starts with (codec.PackHeader/
// StripHeader). An operator running more than one kdapp application on
// the same chain picks a distinct prefix per application.
const payloadPrefix uint32 = 0x6b645031 // "kdP1"

func main() {
	addr := flag.String("addr", ":8080", "HTTP API bind address")
	udpAddr := flag.String("udp-addr", ":9090", "UDP bind address for the guardian checkpoint transport")
	episodeIDFlag := flag.Uint("episode-id", 1, "payment episode id this daemon serves")
	apiKey := flag.String("api-key", "", "required X-API-Key value for authenticated routes")
	guardianSharedSecret := flag.String("guardian-shared-secret", "", "shared secret authenticating guardian TLV frames")
	webhookURL := flag.String("webhook-url", "", "optional webhook endpoint for invoice lifecycle events")
	webhookSecret := flag.String("webhook-secret", "", "HMAC secret for webhook delivery, required if webhook-url is set")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *apiKey == "" {
		logger.Fatal("kdapp-merchantd: -api-key is required")
	}

	merchantKey, err := btcec.NewPrivateKey()
	if err != nil {
		logger.Fatal("kdapp-merchantd: generating merchant key", zap.Error(err))
	}
	merchantPub := cryptoutil.CompressedPubKey(merchantKey)
	logger.Info("kdapp-merchantd: generated merchant identity", zap.String("merchant_pubkey", merchantPub.String()))

	epID := episode.ID(*episodeIDFlag)

	store := kvstore.NewMemory()
	handshakes := guardian.NewHandshakeStore(store)

	udpConn, err := net.ListenUDP("udp", mustResolveUDP(*udpAddr, logger))
	if err != nil {
		logger.Fatal("kdapp-merchantd: binding guardian UDP socket", zap.Error(err))
	}
	transport := guardian.NewUDPTransport(udpConn, logger)

	guardianMetrics := metrics.NewGuardianMetrics(nil)
	router := guardian.NewRouter(guardian.Config{
		SharedSecret: []byte(*guardianSharedSecret),
		Transport:    transport,
		Forwarder:    noopForwarder{},
		Logger:       logger,
		Metrics:      guardianMetrics,
	})

	checkpoints := guardian.NewCheckpointHandler(handshakes, transport.AsDispatcher(), []byte(*guardianSharedSecret), logger)
	storeHandler := payment.NewStoreHandler(store, logger)

	hub := httpapi.NewHub(logger)
	broadcaster := &httpapi.EventBroadcaster{Hub: hub}

	engineMetrics := metrics.NewEngineMetrics(nil, "payment")
	eng := engine.New(engine.Config[*payment.State, payment.Command, payment.Rollback]{
		Prefix:        payloadPrefix,
		Pattern:       codec.Pattern{},
		NewEpisode:    payment.NewFactory(false),
		DecodeCommand: payment.DecodeCommand,
		Verifier:      cryptoutil.ECDSAVerifier{},
		Handlers: []handler.Handler[*payment.State, payment.Command]{
			storeHandler,
			checkpoints,
			broadcaster,
		},
		Logger:  logger,
		Metrics: engineMetrics,
	})

	httpMetrics := metrics.NewHTTPMetrics(nil)
	watcherMetrics := metrics.NewWatcherMetrics(nil)
	w := watcher.New(watcher.Config{Logger: logger, Metrics: watcherMetrics})

	var webhookSender *httpapi.WebhookSender
	if *webhookURL != "" {
		webhookSender = &httpapi.WebhookSender{
			URL:     *webhookURL,
			Secret:  []byte(*webhookSecret),
			Logger:  logger,
			Metrics: httpMetrics,
		}
	}

	submitter := &httpapi.DirectSubmitter{Engine: eng}
	server := httpapi.NewServer(httpapi.Config{
		EpisodeID:   epID,
		APIKey:      *apiKey,
		Submitter:   submitter,
		MerchantKey: merchantKey,
		MerchantPub: merchantPub,
		Watcher:     w,
		Hub:         hub,
		Webhook:     webhookSender,
		Metrics:     httpMetrics,
		Logger:      logger,
		Invoices:    &httpapi.EngineInvoiceReader{Engine: eng, EpisodeID: epID},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go eng.Run(ctx)
	go func() {
		if err := transport.ListenAndServe(ctx, router); err != nil && ctx.Err() == nil {
			logger.Error("kdapp-merchantd: guardian transport stopped", zap.Error(err))
		}
	}()
	go w.Run(ctx, nil)

	seedGenesisEpisode(eng, epID, merchantPub)

	logger.Info("kdapp-merchantd: starting HTTP API", zap.String("addr", *addr))
	if err := server.ListenAndServe(ctx, *addr); err != nil {
		logger.Error("kdapp-merchantd: http server stopped", zap.Error(err))
	}

	eng.Inbox() <- engine.Exit{}
	logger.Info("kdapp-merchantd: shutdown complete")
}

func mustResolveUDP(addr string, logger *zap.Logger) *net.UDPAddr {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Fatal("kdapp-merchantd: resolving udp-addr", zap.Error(err))
	}
	return resolved
}

// seedGenesisEpisode synthesizes the NewEpisode carrier transaction that
// would otherwise arrive from the chain, so the direct-submit binary has
// a live episode to dispatch commands against from process start.
func seedGenesisEpisode(eng *engine.Engine[*payment.State, payment.Command, payment.Rollback], id episode.ID, merchant episode.PubKey) {
	body := codec.EncodeNewEpisode(uint32(id), [][]byte{merchant})
	payload := codec.PackHeader(eng.Prefix(), body)
	eng.Inbox() <- engine.BlkAccepted{
		AssociatedTxs: []engine.AssociatedTx{{Payload: payload}},
	}
}

// noopForwarder discards inbound guardian frames forwarded by this node's
// own router: a merchant daemon dispatches checkpoints to guardians but is
// never itself the guardian-side recipient of a forwarded Msg in this
// topology, so there is nothing to apply them to.
type noopForwarder struct{}

func (noopForwarder) Forward(guardian.Msg) error { return nil }
