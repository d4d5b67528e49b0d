package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	blockchain "censustwin/blockchain/client"
	apiconfig "censustwin/config"
	core "censustwin/gateway/service/core"
	grpchandler "censustwin/gateway/service/grpc"
	httphandler "censustwin/gateway/service/http"
	"censustwin/internal/messaging/producer"
	"censustwin/internal/metrics"
	"censustwin/internal/tracing"
	"censustwin/ledger"
)

// Gateway configuration file path
const gatewayConfigPath = "./config/gateway.defaults.yml"

func main() {
	logger := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting Census Ledger Gateway...")

	// 1. Load gateway configuration
	cfg, err := apiconfig.LoadGatewayConfig(gatewayConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load gateway configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.NewProvider(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 2. Optional Kafka producer: committed events and queued invocations
	var (
		kafkaProducer producer.Producer
		sink          ledger.EventSink
		queue         *core.BatchProcessor
	)
	if cfg.KafkaProducer.Enabled() {
		logger.Println("Initializing Kafka producer...")
		kp, err := producer.NewKafkaProducer(cfg.KafkaProducer, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize Kafka producer: %v", err)
		}
		kafkaProducer = kp
		if cfg.KafkaProducer.EventsTopic != "" {
			sink = producer.EventSink(kafkaProducer, m)
		}
		if cfg.KafkaProducer.InvocationsTopic != "" {
			queue = core.NewBatchProcessor(
				cfg.InvocationQueue.BatchSize,
				cfg.InvocationQueue.BatchTimeout,
				cfg.InvocationQueue.FlushChannelBuffer,
				kafkaProducer,
				logger,
			)
		}
	} else {
		logger.Println("kafka_producer.brokers not configured, events are not published and invocation queueing is disabled.")
	}

	// 3. Ledger client
	logger.Println("Initializing ledger client using configuration files...")
	ledgerClient, err := blockchain.NewLedgerClientFromFile(ctx, cfg.BlockchainClientConfigPath, sink, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize ledger client: %v", err)
	}

	// 4. Core Service and Handlers
	coreService := core.NewService(ledgerClient, queue, m, logger)
	recordHttpHandler := httphandler.NewRecordHandler(coreService, cfg.Identity, logger)
	recordGrpcService := grpchandler.NewServer(coreService, cfg.Identity, logger)

	var wg sync.WaitGroup

	// 5. [Conditional startup] HTTP server
	var httpServer *http.Server
	if cfg.HttpListenAddr != "" {
		router := httphandler.NewRouter(recordHttpHandler, cfg.Monitoring,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

		httpServer = &http.Server{
			Addr:           cfg.HttpListenAddr,
			Handler:        otelhttp.NewHandler(router, "census-gateway"),
			ReadTimeout:    cfg.HttpServer.ReadTimeout,
			WriteTimeout:   cfg.HttpServer.WriteTimeout,
			IdleTimeout:    cfg.HttpServer.IdleTimeout,
			MaxHeaderBytes: cfg.HttpServer.MaxHeaderBytes,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("HTTP server listening on %s", cfg.HttpListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("HTTP server startup failed: %v", err)
			}
			logger.Println("HTTP server stopped listening.")
		}()
	} else {
		logger.Println("http_listen_addr not configured, skipping HTTP server startup.")
	}

	// 6. [Conditional startup] gRPC server
	var grpcServer *grpc.Server
	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			logger.Fatalf("Unable to listen on gRPC port %s: %v", cfg.GrpcListenAddr, err)
		}
		grpcServer = grpc.NewServer()
		recordGrpcService.Register(grpcServer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("gRPC server listening on %s", cfg.GrpcListenAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Fatalf("gRPC server startup failed: %v", err)
			}
			logger.Println("gRPC server stopped listening.")
		}()
	} else {
		logger.Println("grpc_listen_addr not configured, skipping gRPC server startup.")
	}

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("Received shutdown signal: %s, starting graceful shutdown of gateway...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		logger.Println("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP server shutdown failed: %v", err)
		} else {
			logger.Println("HTTP server shutdown.")
		}
	}
	if grpcServer != nil {
		logger.Println("Shutting down gRPC server...")
		grpcServer.GracefulStop()
		logger.Println("gRPC server shutdown.")
	}
	wg.Wait()

	// Queued invocations are flushed before the producer closes
	coreService.Close()
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Printf("Kafka producer close failed: %v", err)
		}
	}
	if err := ledgerClient.Close(); err != nil {
		logger.Printf("Ledger client close failed: %v", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Tracer provider shutdown failed: %v", err)
	}
	logger.Println("All servers stopped. Gateway shutdown.")
}
