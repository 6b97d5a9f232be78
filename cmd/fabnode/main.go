// Command fabnode runs one node of the chat message fabric: the
// WebSocket ingress handler, session registry, write serializer, queue
// producer, consumer pool, broadcaster, batch writer, and dead-letter
// sink described in spec.md, wired together explicitly at startup
// (no framework DI, no reflection — see SPEC_FULL.md §9).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chatfabric/fabnode/internal/batchwriter"
	"github.com/chatfabric/fabnode/internal/broadcast"
	"github.com/chatfabric/fabnode/internal/config"
	"github.com/chatfabric/fabnode/internal/consumer"
	"github.com/chatfabric/fabnode/internal/database"
	"github.com/chatfabric/fabnode/internal/dlq"
	"github.com/chatfabric/fabnode/internal/ingress"
	"github.com/chatfabric/fabnode/internal/log"
	"github.com/chatfabric/fabnode/internal/metrics"
	"github.com/chatfabric/fabnode/internal/partition"
	"github.com/chatfabric/fabnode/internal/queue"
	"github.com/chatfabric/fabnode/internal/session"
	"github.com/chatfabric/fabnode/internal/writeserializer"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// fatal at startup, per spec §7's configuration-invariant policy.
		fmt.Fprintf(os.Stderr, "fabnode: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "fabnode"})
	logger := log.L()
	logger.Info().Str(log.FieldNodeID, cfg.Node.ID).Msg("fabnode starting")

	db, err := database.New(database.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, &batchwriter.Message{}, &batchwriter.UserActivityRow{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database schema")
	}

	ctx, cancelSQS := context.WithTimeout(context.Background(), 10*time.Second)
	sqsQueue, err := queue.NewSQSQueue(ctx, queue.SQSConfig{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	cancelSQS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize SQS client")
	}

	// Session Registry, Write Serializer, Broadcaster.
	registry := session.NewRegistry()
	wsMetrics := &writeserializer.Metrics{}
	writePool := writeserializer.NewPool(cfg.WriteSerializer.WorkerThreads, registry, wsMetrics)

	broadcastMetrics := &broadcast.Metrics{}
	caster := broadcast.New(registry, writePool, broadcastMetrics)

	// Dead-Letter Sink.
	dlqMetrics := &dlq.Metrics{}
	sink := dlq.New(sqsQueue, cfg.DLQ.QueueName, cfg.DLQ.Enabled, dlqMetrics)

	// Batch Writer.
	bwMetrics := &batchwriter.Metrics{}
	writer := batchwriter.New(db, sink, batchwriter.Config{
		BatchSize:      cfg.BatchWriter.Size,
		FlushInterval:  cfg.BatchWriter.FlushMs,
		BufferCapacity: cfg.BatchWriter.BufferCapacity,
	}, bwMetrics)
	writer.Start()

	// Queue Producer.
	producerMetrics := &queue.ProducerMetrics{}
	producer := queue.NewProducer(sqsQueue, queue.ProducerConfig{
		QueuePrefix:  cfg.Queue.Prefix,
		FIFOEnabled:  cfg.Queue.FIFOEnabled,
		BatchEnabled: cfg.ProducerBatch.Enabled,
		BatchMaxSize: cfg.ProducerBatch.MaxSize,
		BatchFlushMs: cfg.ProducerBatch.FlushMs,
		URLRetryMs:   cfg.Queue.URLRetryMs,
	}, producerMetrics)

	// Consumer Pool, under a partition assignment recomputed at
	// startup and on config reload (SPEC_FULL.md §11).
	consumerMetrics := &consumer.Metrics{}
	consumerCfg := consumer.Config{
		Threads:           cfg.Consumer.Threads,
		MaxMessages:       cfg.Consumer.MaxMessages,
		WaitTime:          cfg.Consumer.WaitTime,
		VisibilityTimeout: cfg.Consumer.VisibilityTimeout,
		QueuePrefix:       cfg.Queue.Prefix,
		URLRetryInterval:  cfg.Queue.URLRetryMs,
	}
	cm := newConsumerManager(sqsQueue, consumerCfg, caster, writer, consumerMetrics)
	assignment := partition.ResolveAssignment(cfg.Node.ID, cfg.Node.List, cfg.Node.Rooms)
	cm.restart(assignment.OwnedRooms)

	if err := config.WatchReload(*configPath, func(newCfg *config.Config) {
		newAssignment := partition.ResolveAssignment(newCfg.Node.ID, newCfg.Node.List, newCfg.Node.Rooms)
		logger.Info().Strs("owned_rooms", intsToStrings(newAssignment.OwnedRooms)).
			Msg("config reload: recomputed partition assignment")
		cm.restart(newAssignment.OwnedRooms)
	}); err != nil {
		logger.Warn().Err(err).Msg("config hot-reload watch not started")
	}

	// Ingress Handler.
	ingressMetrics := &ingress.Metrics{}
	handler := ingress.NewHandler(registry, writePool, producer, cfg.Node.ID, cfg.Node.Rooms, cfg.WebSocket,
		cfg.Session.WriteQueueCapacity, ingressMetrics)

	// Metrics/Health HTTP surface.
	metricsResolver := queue.NewURLResolver(sqsQueue, cfg.Queue.URLRetryMs)
	allRooms := make([]int, cfg.Node.Rooms)
	for i := range allRooms {
		allRooms[i] = i + 1
	}
	metricsRegistry := &metrics.Registry{
		Ingress:         ingressMetrics,
		Producer:        producerMetrics,
		Consumer:        consumerMetrics,
		Broadcast:       broadcastMetrics,
		WriteSerializer: wsMetrics,
		BatchWriter: metrics.NewBatchWriterMetrics(
			&bwMetrics.Enqueued, &bwMetrics.Written, &bwMetrics.Batches, &bwMetrics.Dropped, &bwMetrics.WriteErrors,
			writer.BufferSize,
		),
		Sessions: registry,
	}
	metricsServer := metrics.NewServer(metricsRegistry, sqsQueue, metricsResolver, cfg.Queue.Prefix, allRooms)

	// Only the health/metrics routes go through HTTPMiddleware: its
	// status recorder does not pass http.Hijacker through, which the
	// WebSocket upgrade on /chat/ needs.
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	metricsMux := http.NewServeMux()
	metricsServer.RegisterRoutes(metricsMux)
	loggedMetrics := log.HTTPMiddleware(logger)(metricsMux)
	mux.Handle("/healthz", loggedMetrics)
	mux.Handle("/metrics", loggedMetrics)
	mux.Handle("/metrics/rooms", loggedMetrics)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("fabnode listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("fabnode shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server forced to shutdown")
	}

	cm.stop()
	producer.Close()
	writePool.Close()
	writer.Stop()

	logger.Info().Msg("fabnode stopped")
}

// consumerManager owns the currently-running *consumer.Pool and
// restarts it (stop then start fresh) when the partition assignment
// changes, so a config reload's "recomputed ... on config reload"
// requirement (spec.md §3) takes effect without a process restart.
type consumerManager struct {
	q           queue.Queue
	cfg         consumer.Config
	broadcaster *broadcast.Broadcaster
	writer      *batchwriter.Writer
	metrics     *consumer.Metrics

	mu      sync.Mutex
	current *consumer.Pool
}

func newConsumerManager(q queue.Queue, cfg consumer.Config, broadcaster *broadcast.Broadcaster, writer *batchwriter.Writer, metrics *consumer.Metrics) *consumerManager {
	return &consumerManager{q: q, cfg: cfg, broadcaster: broadcaster, writer: writer, metrics: metrics}
}

func (m *consumerManager) restart(rooms []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Stop()
	}
	m.current = consumer.New(m.q, rooms, m.cfg, m.broadcaster, m.writer, m.metrics)
	m.current.Start()
}

func (m *consumerManager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Stop()
	}
}

func intsToStrings(ints []int) []string {
	out := make([]string, len(ints))
	for i, v := range ints {
		out[i] = fmt.Sprintf("%d", v)
	}
	return out
}
