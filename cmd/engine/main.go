package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blockchain "censustwin/blockchain/client"
	"censustwin/config"
	"censustwin/internal/messaging/consumer"
	"censustwin/internal/metrics"
	"censustwin/internal/tracing"
	worker "censustwin/processing"
)

const engineConfigPath = "./config/engine.defaults.yml"

func main() {
	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting Census Invocation Engine...")

	// 1. Load Engine Config
	engineCfg, err := config.LoadEngineConfig(engineConfigPath)
	if err != nil {
		logger.Fatalf("FATAL: Failed to load engine configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.NewProvider(ctx, engineCfg.Tracing, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize tracing: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 2. Initialize the ledger client. Events of engine commits are emitted by the ledger itself.
	logger.Println("Initializing ledger client using configuration files...")
	ledgerClient, err := blockchain.NewLedgerClientFromFile(ctx, engineCfg.BlockchainClientConfigPath, nil, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize ledger client: %v", err)
	}
	defer ledgerClient.Close()

	// 3. Initialize Multiple Consumers
	var mqConsumers []consumer.Consumer
	if !engineCfg.KafkaConsumer.UseMock {
		logger.Printf("Initializing %d Kafka message queue consumers...", engineCfg.KafkaConsumer.Count)
		for i := 0; i < engineCfg.KafkaConsumer.Count; i++ {
			kafkaConsumer, err := consumer.NewKafkaConsumer(engineCfg.KafkaConsumer, logger)
			if err != nil {
				logger.Fatalf("FATAL: Failed to initialize Kafka consumer %d: %v", i, err)
			}
			mqConsumers = append(mqConsumers, kafkaConsumer)
		}
	} else {
		logger.Println("Initializing Mock message queue consumer...")
		mqConsumers = append(mqConsumers, consumer.NewMockConsumer(logger))
	}

	// Ensure all consumers are closed on exit
	defer func() {
		for _, c := range mqConsumers {
			c.Close()
		}
	}()

	// 4. Optional metrics listener
	var metricsServer *http.Server
	if engineCfg.Monitoring.EnableMetrics && engineCfg.Monitoring.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(engineCfg.Monitoring.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		mux.HandleFunc(engineCfg.Monitoring.HealthCheckPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{Addr: engineCfg.Monitoring.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("Metrics server listening on %s", engineCfg.Monitoring.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server failed: %v", err)
			}
		}()
	}

	// 5. Create and Start one worker pool per consumer
	var workers []*worker.Worker
	var wg sync.WaitGroup

	for i, mqConsumer := range mqConsumers {
		workerInstance := worker.New(engineCfg.Worker, logger, mqConsumer, ledgerClient, m)
		workers = append(workers, workerInstance)

		wg.Add(1)
		go func(workerID int, w *worker.Worker) {
			defer wg.Done()
			logger.Printf("Starting worker %d with its dedicated consumer...", workerID)
			w.Run(ctx)
			logger.Printf("Worker %d stopped.", workerID)
		}(i+1, workerInstance)
	}

	logger.Printf("Invocation Engine started with %d worker pools. Press Ctrl+C to stop.", len(workers))

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("Received shutdown signal, initiating graceful shutdown...")
	cancel()

	logger.Println("Waiting for all workers to finish...")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Metrics server shutdown failed: %v", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Tracer provider shutdown failed: %v", err)
	}

	logger.Println("Invocation Engine shut down gracefully.")
}
