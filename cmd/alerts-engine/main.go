package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpiwatch/kpiwatch-engine/internal/api"
	"github.com/kpiwatch/kpiwatch-engine/internal/cache"
	"github.com/kpiwatch/kpiwatch-engine/internal/config"
	"github.com/kpiwatch/kpiwatch-engine/internal/metrics"
	"github.com/kpiwatch/kpiwatch-engine/internal/repo"
	"github.com/kpiwatch/kpiwatch-engine/internal/services"
	"github.com/kpiwatch/kpiwatch-engine/internal/utils"
)

func main() {
	var (
		configPath string
		once       bool
		pastDays   int
		futurePred bool
		evPred     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run one detection, print the report, and exit")
	flag.IntVar(&pastDays, "past-days", 0, "Override the modelling window length in days")
	flag.BoolVar(&futurePred, "future-pred", false, "Produce predictions through month end")
	flag.BoolVar(&evPred, "ev-pred", false, "Evaluate previously stored predictions")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting kpiwatch engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	specs, err := config.LoadParams(cfg.Detection.ParamsPath)
	if err != nil {
		logger.Error("failed to load metric parameters", slog.Any("error", err))
		os.Exit(1)
	}

	warehouse, err := repo.Open(cfg.Warehouse, logger)
	if err != nil {
		logger.Error("failed to connect to warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	defer warehouse.Close()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	service := services.NewDetectService(logger, specs, cfg.Detection, warehouse, warehouse, cacheProvider)

	if once {
		opts := services.RunOptions{
			PastDays:            pastDays,
			FuturePredictions:   futurePred || cfg.Detection.FuturePredictions,
			EvaluatePredictions: evPred || cfg.Detection.EvaluatePredictions,
		}
		outcome, err := service.RunDetection(context.Background(), opts)
		if err != nil {
			logger.Error("detection run failed", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(string(outcome.Report))
		return
	}

	handler := api.NewHandler(logger, service)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}
