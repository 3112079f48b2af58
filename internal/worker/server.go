package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/worker/handlers"
	"github.com/docmind/docmind/internal/worker/tasks"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// RedisOpt converts the redis section of the config into asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewServer(redisCfg config.RedisConfig, workerCfg config.WorkerConfig, ragHandler *handlers.RAGHandler) *Server {
	srv := asynq.NewServer(
		RedisOpt(redisCfg),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				tasks.QueueRAG: 1,
			},
			Logger: newAsynqLogger(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error().
					Str("type", task.Type()).
					Int("retried", retried).
					Int("max_retry", maxRetry).
					Err(err).
					Msg("Task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeIngestPDF, ragHandler.HandleIngestPDF)
	mux.HandleFunc(tasks.TypeQueryPDFAI, ragHandler.HandleQueryPDFAI)

	return &Server{
		server: srv,
		mux:    mux,
	}
}

// Run blocks until the process receives a termination signal.
func (s *Server) Run() error {
	log.Info().Msg("Starting worker server")
	return s.server.Run(s.mux)
}

// Start runs the worker in the background.
func (s *Server) Start() error {
	log.Info().Msg("Starting worker server in background")
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	log.Info().Msg("Stopping worker server")
	s.server.Shutdown()
}
