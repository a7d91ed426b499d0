package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/bridge"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/config"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/httpserver"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger"
	ledgerpg "github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger/postgres"
	ledgersqlite "github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger/sqlite"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/modelres"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/promptfilter"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/upstream"
)

const maxLogBytes = 64 << 20

func main() {
	configRoot := flag.String("config", ".", "directory holding config/setting.ini")
	listenAddr := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg, err := config.LoadGatewayConfig(*configRoot)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		rotating, err := logging.NewRotatingWriter(cfg.LogFile, maxLogBytes)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer rotating.Close()
		logOutput = io.MultiWriter(os.Stdout, rotating)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	levelTag := strings.ToUpper(cfg.LogLevel)
	rootLogger := logging.New(logOutput, fmt.Sprintf("[gateway/main][%s][%s] ", cfg.Environment, levelTag), level)
	bridgeLogger := logging.New(logOutput, fmt.Sprintf("[gateway/bridge][%s][%s] ", cfg.Environment, levelTag), level)
	httpLogger := logging.New(logOutput, fmt.Sprintf("[gateway/http][%s][%s] ", cfg.Environment, levelTag), level)

	if cfg.UpstreamBaseURL == "" {
		rootLogger.Errorf("missing upstream_base_url (XCS_UPSTREAM_BASE_URL or config)")
		os.Exit(1)
	}

	completer, err := upstream.New(upstream.Config{
		APIKey:         cfg.UpstreamAPIKey,
		BaseURL:        cfg.UpstreamBaseURL,
		RequestTimeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		rootLogger.Errorf("create upstream client: %v", err)
		os.Exit(1)
	}

	resolver := modelres.New(bridgeLogger)
	resolver.SetAliases(cfg.ModelAliases)
	seedModelCandidates(completer, resolver, rootLogger)

	patterns := cfg.ExcludedFilePatterns
	if cfg.ExcludedFilePatternsFile != "" {
		filePatterns, err := promptfilter.LoadPatterns(cfg.ExcludedFilePatternsFile)
		if err != nil {
			rootLogger.Errorf("load excluded file patterns: %v", err)
			os.Exit(1)
		}
		patterns = append(patterns, filePatterns...)
	}
	filter := promptfilter.New(patterns, bridgeLogger)

	store, err := openLedger(cfg)
	if err != nil {
		rootLogger.Errorf("open ledger: %v", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
		rootLogger.Infof("audit ledger enabled backend=%s", cfg.LedgerBackend)
	}

	manager := bridge.NewManager(bridgeLogger)

	srv, err := httpserver.New(httpserver.Config{
		Manager:      manager,
		Upstream:     completer,
		Resolver:     resolver,
		Filter:       filter,
		Ledger:       store,
		DefaultModel: cfg.DefaultModel,
		Logger:       httpLogger,
	})
	if err != nil {
		rootLogger.Errorf("create server: %v", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: upstream completions can legitimately run for minutes.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		rootLogger.Infof("gateway listening on %s env=%s", cfg.ListenAddr, cfg.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rootLogger.Errorf("http server error: %v", err)
			os.Exit(1)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	rootLogger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		rootLogger.Warnf("graceful shutdown failed: %v", err)
	}
	// Reject any tool calls still awaiting results before exit.
	manager.CleanupAll()
}

// seedModelCandidates primes the resolver from the upstream model list. A
// failure here is not fatal: the /v1/models endpoint refreshes the list, and
// an empty resolver passes model identifiers through unchanged.
func seedModelCandidates(completer *upstream.Client, resolver *modelres.Resolver, logger *logging.Leveled) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	models, err := completer.ListModels(ctx)
	if err != nil {
		logger.Warnf("list upstream models: %v", err)
		return
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	resolver.SetCandidates(ids)
	logger.Infof("seeded %d model candidate(s) from upstream", len(ids))
}

func openLedger(cfg config.GatewayConfig) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case "sqlite":
		path := cfg.LedgerPath
		if path == "" {
			path = "data/bridge.db"
		}
		return ledgersqlite.New(path)
	case "postgres":
		if cfg.LedgerDSN == "" {
			return nil, fmt.Errorf("ledger_backend postgres requires ledger_dsn")
		}
		return ledgerpg.New(cfg.LedgerDSN, 10, 5)
	default:
		return nil, nil
	}
}
