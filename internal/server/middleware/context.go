package middleware

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/cortexbrain/cortex/internal/util"
	"github.com/cortexbrain/cortex/pkg/inference"
	infollama "github.com/cortexbrain/cortex/pkg/inference/ollama"
	infopenai "github.com/cortexbrain/cortex/pkg/inference/openai"
	"github.com/cortexbrain/cortex/pkg/ingest"
	"github.com/cortexbrain/cortex/pkg/logger"
	"github.com/cortexbrain/cortex/pkg/retrieve"
	"github.com/cortexbrain/cortex/pkg/store"
	pgxstore "github.com/cortexbrain/cortex/pkg/store/pgx"
)

// App bundles the process-wide collaborators handlers need.
type App struct {
	DBConn  *pgxpool.Pool
	Queue   *amqp091.Channel
	S3      *s3.Client
	Gateway inference.Client
	Store   *pgxstore.Store
	Backup  store.BackupStore
	Jobs    *ingest.Tracker
	Engine  *retrieve.Engine
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}

// NewGatewayFromEnv builds the inference gateway the AI_ADAPTER env var
// selects.
func NewGatewayFromEnv() inference.Client {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := infollama.NewClient(infollama.NewClientParams{
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			AnswerModel:     util.GetEnv("AI_CHAT_ANSWER_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return infopenai.NewClient(infopenai.NewClientParams{
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			AnswerModel:     util.GetEnv("AI_CHAT_ANSWER_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
	}
}
