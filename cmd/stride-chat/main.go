package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/tcriess/stride-chat/api"
	"github.com/tcriess/stride-chat/auth"
	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/globals"
	"github.com/tcriess/stride-chat/media"
	"github.com/tcriess/stride-chat/metrics"
	"github.com/tcriess/stride-chat/notify"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/presence"
	"github.com/tcriess/stride-chat/profiles"
	"github.com/tcriess/stride-chat/relay"
	"github.com/tcriess/stride-chat/sequencer"
	"github.com/tcriess/stride-chat/ws"
)

func main() {
	flagSet := config.GetFlagSet()
	configPath := flagSet.StringP("config", "c", "", "path to config file or directory")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}
	if err := run(cfg, globals.AppLogger); err != nil {
		globals.AppLogger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := persistence.OpenGormStore(cfg.PersistenceConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	objects, err := media.OpenObjectStore(ctx, cfg.StorageConfig, logger)
	if err != nil {
		return err
	}
	ledger, err := media.OpenStagingLedger(cfg.StorageConfig.StagingPath)
	if err != nil {
		return err
	}
	defer ledger.Close()
	sweeper := media.NewSweeper(ledger, objects, store, cfg.StorageConfig.GCGrace, cfg.StorageConfig.LockPath, logger)
	if err := sweeper.Start(cfg.StorageConfig.GCSpec); err != nil {
		return err
	}
	defer sweeper.Stop()

	directory, err := profiles.NewDirectory(store, cfg.CacheConfig.ProfileCacheSize, logger)
	if err != nil {
		return err
	}

	instanceId := cfg.ServerConfig.InstanceId
	if instanceId == "" {
		instanceId = uuid.NewString()
	}
	var (
		tracker presence.Tracker = presence.NewLocal()
		rl      relay.Relay      = relay.Local{}
	)
	if cfg.RedisConfig.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable yet", "addr", cfg.RedisConfig.Addr, "error", err)
		}
		tracker = presence.NewRedis(client, cfg.RedisConfig.Prefix)
		rl = relay.NewRedis(client, cfg.RedisConfig.Prefix, instanceId, logger)
		logger.Info("using redis relay", "addr", cfg.RedisConfig.Addr, "instance", instanceId)
	}
	defer rl.Close()

	var sink notify.Sink = notify.NopSink{}
	if len(cfg.KafkaConfig.Brokers) > 0 {
		sink = notify.NewKafkaSink(cfg.KafkaConfig.Brokers, cfg.KafkaConfig.Topic)
		logger.Info("publishing committed messages", "brokers", cfg.KafkaConfig.Brokers, "topic", cfg.KafkaConfig.Topic)
	}

	hub := ws.NewHub(rl, logger)
	go func() {
		if err := hub.Run(ctx); err != nil {
			logger.Error("relay stopped", "error", err)
		}
	}()
	dispatcher := notify.NewDispatcher(store, hub, tracker, sink, notify.Options{
		ReorderWindow: cfg.FanoutConfig.ReorderWindow,
		LaneBuffer:    cfg.FanoutConfig.LaneBuffer,
	}, logger)
	defer dispatcher.Close()

	coordinator := sequencer.New(store, media.NewUploader(objects, ledger, logger), directory, dispatcher, sequencer.Options{
		Limits: media.Limits{
			MaxFiles:     cfg.LimitsConfig.MaxAttachments,
			MaxFileBytes: cfg.LimitsConfig.MaxAttachmentBytes,
		},
		SendTimeout: cfg.LimitsConfig.SendTimeout,
	}, logger)

	authenticator := auth.NewChain(cfg)
	router := mux.NewRouter()
	ws.NewGateway(hub, authenticator, store, coordinator, directory, tracker, cfg, logger).Routes(router)
	api.New(authenticator, store, coordinator, logger).Routes(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.ServerConfig.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if cfg.ServerConfig.CertFile != "" && cfg.ServerConfig.KeyFile != "" {
			errChan <- srv.ListenAndServeTLS(cfg.ServerConfig.CertFile, cfg.ServerConfig.KeyFile)
		} else {
			errChan <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown; they end with the process
	return srv.Shutdown(shutdownCtx)
}
