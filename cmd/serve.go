package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/diner/internal/application/assistant"
	appcart "github.com/Zhima-Mochi/diner/internal/application/cart"
	apppay "github.com/Zhima-Mochi/diner/internal/application/payment"
	"github.com/Zhima-Mochi/diner/internal/config"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/amqp"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/broadcast"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/cardgateway"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/catalog"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/id"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/llm"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/observability/provider"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/signature"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/diner/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/diner/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	hubBuffer    = 4
	amqpAttempts = 5
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

type stores struct {
	sessions session.Repository
	intents  dompay.IntentRepository
	sweep    func() (int, int)
	close    func() error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Session.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return &stores{
			sessions: redisstore.NewSessionRepository(client, cfg.Session.TTL),
			intents:  redisstore.NewIntentRepository(client, cfg.Intent.TTL),
			close:    client.Close,
		}, nil
	}

	sessions := memory.NewSessionRepository(cfg.Session.TTL)
	intents := memory.NewIntentRepository(cfg.Intent.TTL)
	return &stores{
		sessions: sessions,
		intents:  intents,
		sweep:    func() (int, int) { return sessions.Sweep(), intents.Sweep() },
		close:    func() error { return nil },
	}, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := provider.Setup(baseLogger, reg, cfg.Service.Name)
	log := tel.Logger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalogs := catalog.NewLoader(cfg.Catalog.Dir)
	if _, err := catalogs.Load(ctx, ""); err != nil {
		log.Error("catalog_load_failed", observability.F("dir", cfg.Catalog.Dir), observability.F("error", err))
		return err
	}

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	go reloadCatalogs(ctx, hangup, catalogs, log)

	privKey, err := signature.LoadPrivateKey(cfg.DePay.PrivateKeyPath)
	if err != nil {
		log.Error("signing_key_load_failed", observability.F("path", cfg.DePay.PrivateKeyPath), observability.F("error", err))
		return err
	}
	pubKey, err := signature.LoadPublicKey(cfg.DePay.PublicKeyPath)
	if err != nil {
		log.Error("verify_key_load_failed", observability.F("path", cfg.DePay.PublicKeyPath), observability.F("error", err))
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Error("store_open_failed", observability.F("backend", cfg.Session.Backend), observability.F("error", err))
		return err
	}
	defer func() { _ = st.close() }()

	bus := outbox.NewBus(tel)
	bus.Start(context.Background())

	hub := broadcast.NewHub(hubBuffer)
	workerpresentation.NewOutcomeRelay(bus, hub, tel).Start()

	if cfg.AMQP.URL != "" {
		conn, ch, err := amqp.SetupConn(cfg.AMQP.URL, cfg.AMQP.Exchange, amqpAttempts, log)
		if err != nil {
			log.Warn("kitchen_broker_unavailable", observability.F("error", err))
		} else {
			defer func() {
				_ = ch.Close()
				_ = conn.Close()
			}()
			amqp.NewKitchenPublisher(ch, cfg.AMQP.Exchange, cfg.AMQP.Timeout, tel).Register(bus)
		}
	}

	ids := id.NewUUIDGenerator()
	carts := appcart.NewService(st.sessions, st.intents, catalogs, ids, tel)

	gateway := cardgateway.New(cardgateway.Config{
		Endpoint:   cfg.Card.Endpoint,
		MerchantID: cfg.Card.MerchantID,
		APIKey:     cfg.Card.APIKey,
		Timeout:    cfg.Card.Timeout,
	}, tel.Metrics())
	completer := llm.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, tel.Metrics())
	signer := signature.NewSigner(privKey)
	verifier := signature.NewVerifier(pubKey)

	handler := httppresentation.NewHandler(httppresentation.Deps{
		Cart:           carts,
		CardPayment:    apppay.NewCardPaymentUseCase(st.sessions, st.intents, gateway, carts, ids, bus, tel),
		CryptoConfig:   apppay.NewCryptoConfigureUseCase(verifier, signer, st.intents, acceptedAssets(cfg.DePay.Accept), tel),
		CryptoEvents:   apppay.NewCryptoEventUseCase(verifier, st.intents, carts, bus, tel),
		Chat:           assistant.NewChatUseCase(st.sessions, carts, completer, cfg.LLM.MaxHistory, tel),
		Observers:      hub,
		SessionIDs:     ids,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RequestTimeout: cfg.HTTP.RequestTimeout,
		SecureCookies:  cfg.HTTP.SecureCookies,
	}, tel)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// event streams stay open, so writes are bounded per route instead
		WriteTimeout: 0,
	}

	if st.sweep != nil && cfg.Session.SweepInterval > 0 {
		go sweepLoop(ctx, cfg.Session.SweepInterval, st.sweep, log)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("session_backend", cfg.Session.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("http_server_error", observability.F("error", err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		log.Info("http_server_stopped")
	}
	bus.Stop(shutdownCtx)
	return nil
}

func sweepLoop(ctx context.Context, every time.Duration, sweep func() (int, int), log observability.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sessions, intents := sweep()
			if sessions+intents > 0 {
				log.Debug("store_swept",
					observability.F("sessions", sessions),
					observability.F("intents", intents),
				)
			}
		}
	}
}

func acceptedAssets(in []config.AcceptedAsset) []apppay.AcceptedAsset {
	out := make([]apppay.AcceptedAsset, 0, len(in))
	for _, a := range in {
		out = append(out, apppay.AcceptedAsset{Blockchain: a.Blockchain, Token: a.Token, Receiver: a.Receiver})
	}
	return out
}

type reloadable interface {
	Invalidate()
	Load(ctx context.Context, selector string) (*menu.Catalog, error)
}

// reloadCatalogs drops the catalog cache on every signal and rereads the default catalog.
func reloadCatalogs(ctx context.Context, signals <-chan os.Signal, catalogs reloadable, log observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			catalogs.Invalidate()
			c, err := catalogs.Load(ctx, "")
			if err != nil {
				log.Error("catalog_reload_failed", observability.F("error", err))
				continue
			}
			log.Info("catalog_reloaded", observability.F("in_stock", len(c.InStock())))
		}
	}
}
