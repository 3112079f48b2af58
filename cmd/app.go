package main

import (
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/embedding"
	"github.com/docmind/docmind/internal/llmservice"
	"github.com/docmind/docmind/internal/parser"
	"github.com/docmind/docmind/internal/rag"
	"github.com/docmind/docmind/internal/vectorstore"
	"github.com/docmind/docmind/internal/workflow"
)

// loadConfig reads the --config file and configures the global logger from it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.App)
	log.Debug().Str("store", cfg.VectorStore.Type).Str("collection", cfg.VectorStore.Collection).Msg("Loaded config")
	return cfg, nil
}

func setupLogger(cfg config.AppConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("app", cfg.Name).Caller().Logger()
}

// pipelines holds the two workflows and the clients they share.
type pipelines struct {
	store  vectorstore.Store
	ingest *workflow.IngestWorkflow
	query  *workflow.QueryWorkflow
}

func buildPipelines(cfg *config.Config) (*pipelines, error) {
	store, err := vectorstore.Shared(cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	embedClient := embedding.NewClient(embedder)

	model, err := llmservice.NewModel(cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}
	completer := llmservice.NewClient(model, cfg.InferenceLLM.MaxTokens, cfg.InferenceLLM.Temperature)

	chunking := parser.Options{ChunkSize: cfg.RAG.ChunkSize, ChunkOverlap: cfg.RAG.ChunkOverlap}
	load := func(path string) ([]string, error) {
		return parser.LoadAndChunk(path, chunking)
	}

	return &pipelines{
		store:  store,
		ingest: workflow.NewIngestWorkflow(load, embedClient, store),
		query:  workflow.NewQueryWorkflow(rag.NewRetriever(embedClient, store), completer),
	}, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
