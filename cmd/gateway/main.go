// Command gateway is the industrial edge gateway process: it loads the
// device catalog, supervises one Modbus or OPC-UA worker per device, and
// drains accumulated telemetry to the upstream broker. Process lifecycle:
// bootstrap (load catalog once, seed cache) → run supervisor + forwarder
// concurrently → SIGINT/SIGTERM cancels the root context, workers drain,
// broker/store handles dispose, exit code 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wmind/edge-gateway/internal/broker"
	"github.com/wmind/edge-gateway/internal/catalog"
	"github.com/wmind/edge-gateway/internal/config"
	"github.com/wmind/edge-gateway/internal/forwarder"
	"github.com/wmind/edge-gateway/internal/health"
	"github.com/wmind/edge-gateway/internal/logger"
	"github.com/wmind/edge-gateway/internal/metrics"
	"github.com/wmind/edge-gateway/internal/opcua"
	"github.com/wmind/edge-gateway/internal/supervisor"
	"github.com/wmind/edge-gateway/internal/telemetry"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ./configs/config.yaml, ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      orDefault(cfg.Logger.Level, "info"),
		Format:     orDefault(cfg.Logger.Format, "json"),
		LogDir:     cfg.Logger.FilePath,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("starting edge gateway", zap.String("version", Version))

	if cfg.Gateway.ClientID == "" || cfg.Gateway.ClientSecret == "" {
		log.Fatal("gateway.clientid and gateway.clientsecret are required")
	}
	if cfg.Auth.BaseURL == "" || cfg.DeviceAPI.BaseURL == "" {
		log.Fatal("auth.baseurl and deviceapi.baseurl are required")
	}

	sink, err := telemetry.NewSink(telemetry.Config{
		URL:    cfg.InfluxDB.URL,
		Token:  cfg.InfluxDB.Token,
		Org:    cfg.InfluxDB.Org,
		Bucket: cfg.InfluxDB.Bucket,
	}, log)
	if err != nil {
		log.Fatal("failed to connect telemetry sink", zap.Error(err))
	}
	defer sink.Close()

	publisher, err := broker.NewPublisher(broker.Config{
		Host:        cfg.RabbitMQ.Host,
		Port:        cfg.RabbitMQ.Port,
		UserName:    cfg.RabbitMQ.UserName,
		Password:    cfg.RabbitMQ.Password,
		VirtualHost: cfg.RabbitMQ.VirtualHost,
		QueueName:   cfg.RabbitMQ.QueueName,
	}, log)
	if err != nil {
		log.Fatal("failed to connect broker publisher", zap.Error(err))
	}
	defer publisher.Close()

	cache := catalog.NewCache()
	tokens := catalog.NewTokenCache(cfg.Auth.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret)
	ttl := time.Duration(orDefaultInt(cfg.Cache.ConfigurationsMinutes, 30)) * time.Minute
	loader := catalog.NewLoader(cfg.DeviceAPI.BaseURL, cfg.Gateway.ClientID, tokens, cache, ttl, log)

	connSem := semaphore.NewWeighted(int64(orDefaultInt(cfg.Modbus.MaxConcurrentPolls, 10)))
	sessions, err := opcua.NewSessionManager(opcua.SecurityConfig{
		AutoAccept: cfg.OPCUA.AutoAccept,
		CertDir:    cfg.OPCUA.CertDir,
	}, log)
	if err != nil {
		log.Fatal("failed to provision opc-ua session manager", zap.Error(err))
	}

	sup := supervisor.New(cache, sink, connSem, sessions, log)
	fwd := forwarder.New(sink, publisher, sink, time.Duration(5)*time.Second, log)

	metricsReg, metricsHandler := metrics.New(func() float64 { return float64(sup.ActiveCount()) })
	sup.SetRecorder(metricsReg)
	sup.SetWorkerRecorders(metricsReg.For("modbus"), metricsReg.For("opcua-poll"), metricsReg.For("opcua-sub"))
	fwd.SetRecorder(metricsReg)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewHealthChecker()
	checker.RegisterCheck("supervisor", func(context.Context) (health.Status, string) {
		return health.StatusHealthy, fmt.Sprintf("%d active workers", sup.ActiveCount())
	}, 10*time.Second)
	checker.RegisterCheck("influxdb", health.DatabaseHealthCheck(sink.Ping), 30*time.Second)
	checker.RegisterCheck("broker", health.DatabaseHealthCheck(publisher.Ping), 30*time.Second)
	checker.RegisterCheck("goroutines", health.GoroutineHealthCheck(runtime.NumGoroutine, 5000), 30*time.Second)
	checker.StartPeriodicChecks(rootCtx)

	catalogTick := time.NewTicker(ttl / 2)
	defer catalogTick.Stop()
	catalogDone := make(chan struct{})
	go func() {
		loader.Run(rootCtx.Done(), catalogTick.C)
		close(catalogDone)
	}()

	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(rootCtx) // blocks until rootCtx is cancelled, then drains every worker
		close(supervisorDone)
	}()

	forwarderDone := make(chan struct{})
	go func() {
		fwd.Run(rootCtx)
		close(forwarderDone)
	}()

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(checker))
	mux.Handle("/metrics", metricsHandler)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", orDefault(cfg.Server.Host, "0.0.0.0"), orDefaultInt(cfg.Server.Port, 8080)),
		Handler: mux,
	}
	go func() {
		log.Info("health/metrics listener starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health/metrics listener stopped", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown signal received, draining workers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	<-supervisorDone
	<-forwarderDone
	<-catalogDone

	log.Info("edge gateway stopped")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
