package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"

	"resale-market/config"
	"resale-market/internal/docstore"
	"resale-market/internal/engine"
	"resale-market/internal/handlers"
	"resale-market/internal/ledger"
	"resale-market/internal/notify"
	_ "resale-market/migrations"
	"resale-market/monitoring"
	"resale-market/security"
	"resale-market/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)
	notifier := notify.NewPubNubNotifier(pn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the ledger. The memory driver exists for local development
	// without a database file; everything else goes through SQLite.
	var store ledger.Ledger
	switch cfg.LedgerDriver {
	case "memory":
		store = ledger.NewMemoryLedger()
		slog.Warn("using in-memory ledger, data will not survive a restart")
	default:
		store = ledger.NewSQLiteLedger(app)
	}

	// Initialize the document store and reissue pipeline. The buffered
	// queue keeps jobs in process while Redis is unreachable, so a store
	// outage cannot drop the attach retry along with the document write.
	docs := docstore.NewRedisStore(redisClient)
	reissueQueue := docstore.NewBufferedReissueQueue(docstore.NewRedisReissueQueue(redisClient))

	// Initialize the engine
	eng := engine.New(store, docs, notifier, reissueQueue, cfg.LedgerTimeout)

	reissueWorker := docstore.NewReissueWorker(reissueQueue, eng.AttachDocument, cfg.ReissueInterval, cfg.ReissueMaxAttempts)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(app, eng)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMaxHits)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go reissueWorker.Run(ctx)
	go monitoring.NewMonitor(reissueQueue).Run(ctx)

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort)
	}

	if cfg.Environment == "development" {
		// Mirror the lifecycle stream to the log so a developer can watch
		// commits without a PubNub console.
		go func() {
			for event := range notifier.Subscribe(ctx) {
				slog.Info("lifecycle event",
					"type", event.Type,
					"ticketID", event.TicketID,
					"buyerID", event.BuyerID,
					"sellerID", event.SellerID,
				)
			}
		}()
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		limit := rateLimiter.Middleware()

		// Ticket lifecycle endpoints
		e.Router.POST("/api/v1/tickets", ticketHandler.ListForSale).BindFunc(limit)
		e.Router.POST("/api/v1/tickets/{ticketId}/purchase", ticketHandler.Purchase).BindFunc(limit)
		e.Router.POST("/api/v1/tickets/{ticketId}/resell", ticketHandler.Resell).BindFunc(limit)
		e.Router.POST("/api/v1/tickets/{ticketId}/withdraw", ticketHandler.Withdraw).BindFunc(limit)

		// Browse endpoints
		e.Router.GET("/api/v1/tickets", ticketHandler.ListAvailable)
		e.Router.GET("/api/v1/tickets/{ticketId}/document", ticketHandler.Document)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Metrics listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
