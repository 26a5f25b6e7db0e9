package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cortexbrain/cortex/internal/db"
	"github.com/cortexbrain/cortex/internal/queue"
	"github.com/cortexbrain/cortex/internal/server"
	mid "github.com/cortexbrain/cortex/internal/server/middleware"
	"github.com/cortexbrain/cortex/internal/storage"
	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/chunker"
	"github.com/cortexbrain/cortex/pkg/inference"
	"github.com/cortexbrain/cortex/pkg/ingest"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/logger/console"
	"github.com/cortexbrain/cortex/pkg/store"
	mongostore "github.com/cortexbrain/cortex/pkg/store/mongo"
	pgxstore "github.com/cortexbrain/cortex/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)

	// Inference gateway
	gateway := mid.NewGatewayFromEnv()

	// Init pgx store
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	pgConn, err := pgxstore.NewPool(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	st := pgxstore.NewStore(pgConn)

	// Backup store
	var backup store.BackupStore
	if uri := util.GetEnvString("MONGO_URL", ""); uri != "" {
		b, err := mongostore.NewBackupStore(ctx, mongostore.NewBackupStoreParams{
			URI:      uri,
			Database: util.GetEnvString("MONGO_DB", "cortex"),
		})
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", "err", err)
		}
		backup = b
	}

	// Job tracking shared with the API process
	tracker := ingest.NewTracker(server.NewJobStoreFromEnv(ctx))

	coord := ingest.NewCoordinator(ingest.CoordinatorParams{
		Gateway:   gateway,
		Documents: st,
		Chunks:    st,
		Graphs:    st,
		Backup:    backup,
		Tracker:   tracker,

		MaxConcurrentDocuments: int64(util.GetEnvNumeric("INGEST_MAX_DOCS", 2)),
		ChunkParallelism:       int(util.GetEnvNumeric("INGEST_CHUNK_PARALLELISM", 4)),
		MaxRetries:             int(util.GetEnvNumeric("INGEST_MAX_RETRIES", 3)),
		GenerateEmbeddings:     util.GetEnvBool("AI_EMBED_CHUNKS", false),
	})

	splitter := chunker.New(chunker.Params{
		MaxTokens: int(util.GetEnvNumeric("CHUNK_MAX_TOKENS", 512)),
		Counter:   newTokenCounter(),
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	// One in-flight message at a time; the coordinator parallelizes
	// within a document.
	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.IngestQueue,
		"ingest_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("Listening for messages")

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed")
					return
				}

				startTime := time.Now()
				logger.Info("Received message", "queue", queue.IngestQueue)

				processingErr := queue.ProcessIngestMessage(ctx, s3Client, coord, tracker, splitter, msg.Body)
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.IngestQueue, "err", processingErr)
					handleProcessingError(consumerCh, msg, queue.IngestQueue)
				} else {
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", queue.IngestQueue)
				}

				logMetrics(gateway)

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining jobs...")
	coord.Wait()
}

func newTokenCounter() chunker.TokenCounter {
	encoding := util.GetEnvString("TOKEN_ENCODING", "o200k_base")
	counter, err := chunker.NewTiktokenCounter(encoding)
	if err != nil {
		logger.Warn("Failed to load token encoding, using byte estimate", "encoding", encoding, "err", err)
		return nil
	}
	return counter
}

type metricsProvider interface {
	GetMetrics() inference.Metrics
	ResetMetrics()
}

func logMetrics(gateway inference.Client) {
	mp, ok := gateway.(metricsProvider)
	if !ok {
		return
	}
	metrics := mp.GetMetrics()
	duration := time.Duration(metrics.DurationMs) * time.Millisecond
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60
	logger.Info(
		"Gateway metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	)
	mp.ResetMetrics()
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// After 10 attempts the message goes to the dead-letter queue.
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
