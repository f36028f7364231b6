package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bkonline.net/internal/config"
	"bkonline.net/internal/lobby"
	"bkonline.net/internal/logging"
	"bkonline.net/internal/persistence"
	"bkonline.net/internal/protocol"
	"bkonline.net/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path (empty for defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		adminAddr  = flag.String("admin_addr", "", "admin http listen address (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
	)
	flag.Parse()

	cfg, err := config.LoadServer(strings.TrimSpace(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *adminAddr != "" {
		cfg.AdminListen = *adminAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync()
	logger = logger.Named("server")

	ctx, cancel := signalContext()
	defer cancel()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) error {
	pers, err := persistence.Open(persistence.Config{
		DataDir:      cfg.DataDir,
		SnapshotKeep: cfg.SnapshotKeep,
		IndexPath:    cfg.IndexPath,
		Journal:      cfg.Journal,
		Mirror: persistence.MirrorConfig{
			Endpoint:        cfg.Mirror.Endpoint,
			Bucket:          cfg.Mirror.Bucket,
			Region:          cfg.Mirror.Region,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
			Prefix:          cfg.Mirror.Prefix,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer pers.Close()

	var validator *protocol.Validator
	if cfg.ValidateFrames {
		if validator, err = protocol.NewValidator(); err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
	}

	// Lobbies outlive the listeners so they can save after the last peer is gone.
	lobbyCtx, stopLobbies := context.WithCancel(context.Background())
	defer stopLobbies()
	lobbies := lobby.NewManager(lobbyCtx, lobby.Config{
		MaxPeers:      cfg.MaxPeers,
		SnapshotEvery: cfg.SnapshotEvery,
	}, pers, logger)

	wsSrv := ws.NewServer(lobbies, validator, ws.Config{
		QueueSize:   cfg.QueueSize,
		ReadTimeout: cfg.ReadTimeout,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           publicMux(wsSrv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	servers := []*http.Server{srv}
	if cfg.AdminListen != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.AdminListen,
			Handler:           adminMux(lobbies, pers, logger),
			ReadHeaderTimeout: 5 * time.Second,
		})
	} else {
		logger.Info("admin endpoints disabled (admin_listen is empty)")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		for _, s := range servers {
			_ = s.Shutdown(sctx)
		}
		return nil
	})
	err = g.Wait()

	stopLobbies()
	lobbies.Wait()
	logger.Info("lobbies saved")
	return err
}

func publicMux(wsSrv *ws.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
