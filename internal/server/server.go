package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cortexbrain/cortex/internal/db"
	"github.com/cortexbrain/cortex/internal/queue"
	mid "github.com/cortexbrain/cortex/internal/server/middleware"
	"github.com/cortexbrain/cortex/internal/storage"
	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/ingest"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/retrieve"
	"github.com/cortexbrain/cortex/pkg/store"
	mongostore "github.com/cortexbrain/cortex/pkg/store/mongo"
	pgxstore "github.com/cortexbrain/cortex/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxstore.NewPool(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	st := pgxstore.NewStore(conn)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3 := storage.NewS3Client(ctx)
	gateway := mid.NewGatewayFromEnv()

	jobs := NewJobStoreFromEnv(ctx)
	tracker := ingest.NewTracker(jobs)

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

	engine := retrieve.NewEngine(retrieve.EngineParams{
		Gateway:      gateway,
		Chunks:       st,
		Graphs:       st,
		Limit:        int(util.GetEnvNumeric("RETRIEVE_LIMIT", 8)),
		EmbedQueries: util.GetEnvBool("AI_EMBED_QUERIES", false),
	})

	app := &mid.App{
		DBConn:  conn,
		Queue:   ch,
		S3:      s3,
		Gateway: gateway,
		Store:   st,
		Backup:  backup,
		Jobs:    tracker,
		Engine:  engine,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// NewJobStoreFromEnv returns the Redis job store when REDIS_ADDR is set
// (required when API and worker run as separate processes) and the
// in-process store otherwise.
func NewJobStoreFromEnv(ctx context.Context) ingest.JobStore {
	addr := util.GetEnvString("REDIS_ADDR", "")
	if addr == "" {
		logger.Warn("REDIS_ADDR not set, job state stays process-local")
		return ingest.NewMemoryJobStore()
	}

	jobs, err := ingest.NewRedisJobStore(ctx, ingest.NewRedisJobStoreParams{
		Addr:     addr,
		Password: util.GetEnvString("REDIS_PASSWORD", ""),
		DB:       int(util.GetEnvNumeric("REDIS_DB", 0)),
		TTL:      time.Duration(util.GetEnvNumeric("JOB_TTL_HOURS", 24)) * time.Hour,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "err", err)
	}
	return jobs
}
