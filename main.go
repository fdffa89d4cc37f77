package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lanchat/config"
	"lanchat/metrics"
	"lanchat/session"
	"lanchat/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	name := flag.String("name", cfg.DeviceName, "display name announced to peers (default: OS user name)")
	port := flag.Int("port", cfg.ListeningPort, "TCP message port (0 picks a free port)")
	metricsAddr := flag.String("metrics", cfg.MetricsAddress, "address to serve Prometheus /metrics on (empty disables)")
	logLevel := flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.Parse()
	cfg.ListeningPort = *port

	logger, err := newLogger(*logLevel)
	if err != nil {
		log.Fatalf("startup failed while building logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	messageLog, err := openMessageLog(cfg.MessageLog)
	if err != nil {
		logger.Fatal("startup failed while opening message log", zap.Error(err))
	}

	m := metrics.New(metrics.DefaultNamespace)
	out := newConsole(os.Stdout)

	sess, err := session.New(session.Options{
		Identity:                  session.NewIdentity(*name, cfg.ListeningPort),
		ListenAddress:             cfg.ListenAddress(),
		DiscoveryAddress:          cfg.DiscoveryAddress(),
		BroadcastTarget:           cfg.BroadcastTarget(),
		BroadcastInterval:         cfg.BroadcastInterval.Std(),
		FreshnessWindow:           cfg.FreshnessWindow.Std(),
		TextTimeout:               cfg.TextTimeout.Std(),
		FileTimeout:               cfg.FileTimeout.Std(),
		MaxEnvelopeSize:           cfg.MaxEnvelopeBytes,
		MaxConcurrentConnections:  cfg.MaxConcurrentConnections,
		ConnectionRateLimitPerIP:  cfg.ConnectionRateLimitPerIP,
		ConnectionRateLimitWindow: time.Second,
		EnableMDNS:                cfg.EnableMDNS,
		MessageLog:                messageLog,
		Logger:                    logger,
		Metrics:                   m,
		OnMessageReceived:         out.printReceived,
		OnMessageSent:             out.printSent,
		OnNotification:            out.printNotification,
		OnPeerDiscovered:          out.printPeer,
	})
	if err != nil {
		logger.Fatal("startup failed while creating session", zap.Error(err))
	}
	if err := sess.Start(); err != nil {
		logger.Fatal("startup failed while starting session", zap.Error(err))
	}

	id, displayName := sess.GetMyInfo()
	out.printf("Node ID:         %s\n", id)
	out.printf("Display Name:    %s\n", displayName)
	if addr := sess.Addr(); addr != nil {
		out.printf("Listening On:    %s\n", addr)
	} else {
		out.printf("Listening On:    unavailable (receiving disabled)\n")
	}
	out.printf("Config File:     %s\n", cfgPath)
	out.printf("Data Directory:  %s\n", filepath.Dir(cfgPath))

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = serveMetrics(*metricsAddr, m, logger)
		out.printf("Metrics:         http://%s/metrics\n", *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.printf("Status:          running (type /help for commands)\n")
	go func() {
		// Without a terminal stdin ends at once; keep running until a signal.
		if runCommands(ctx, bufio.NewScanner(os.Stdin), sess, out) {
			stop()
		}
	}()

	<-ctx.Done()
	out.printf("Status:          shutting down\n")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	if err := sess.Stop(); err != nil {
		logger.Warn("session shutdown", zap.Error(err))
	}
	if err := messageLog.Close(); err != nil {
		logger.Warn("message log close", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var zapCfg zap.Config
	if atomicLevel.Level() <= zap.DebugLevel {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.Encoding = "console"
	}
	zapCfg.Level = atomicLevel
	// Keep stdout for the chat transcript.
	zapCfg.OutputPaths = []string{"stderr"}
	return zapCfg.Build()
}

func openMessageLog(kind string) (storage.MessageLog, error) {
	switch kind {
	case config.MessageLogSQLite:
		return storage.OpenSQLiteLog()
	case config.MessageLogMemory, "":
		return storage.NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("unknown message log %q", kind)
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return server
}
