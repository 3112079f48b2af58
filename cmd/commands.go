package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/helper"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/server"
	"github.com/docmind/docmind/internal/vectorstore"
	"github.com/docmind/docmind/internal/watcher"
	"github.com/docmind/docmind/internal/worker"
	"github.com/docmind/docmind/internal/worker/handlers"
	"github.com/docmind/docmind/internal/workflow"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := worker.NewClient(cfg.Redis, cfg.Worker)
	defer client.Close()

	if cmd.Bool("with-worker") {
		srv, err := newWorkerServer(cfg)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	api := server.NewServer(client, cfg.Server)
	errCh := make(chan error, 1)
	go func() { errCh <- api.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return api.Stop(shutdownCtx)
}

func workerAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	srv, err := newWorkerServer(cfg)
	if err != nil {
		return err
	}
	return srv.Run()
}

// newWorkerServer wires the pipelines to an asynq server with a Redis step memo.
func newWorkerServer(cfg *config.Config) (*worker.Server, error) {
	p, err := buildPipelines(cfg)
	if err != nil {
		return nil, err
	}
	memo := workflow.NewRedisMemo(newRedisClient(cfg.Redis), cfg.Redis.MemoTTL())
	h := handlers.NewRAGHandler(p.ingest, p.query, memo)
	return worker.NewServer(cfg.Redis, cfg.Worker, h), nil
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a document path is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	event := models.IngestEvent{PDFPath: path, SourceID: cmd.String("source-id")}

	if cmd.Bool("inline") {
		p, err := buildPipelines(cfg)
		if err != nil {
			return err
		}
		defer p.store.Close()
		run := workflow.NewRun(workflow.IngestWorkflowName, uuid.NewString(), workflow.NewMemoryMemo())
		res, err := p.ingest.Run(ctx, run, event)
		if err != nil {
			return err
		}
		helper.PrettyPrint(res)
		return nil
	}

	client := worker.NewClient(cfg.Redis, cfg.Worker)
	defer client.Close()
	runID, err := client.EnqueueIngest(ctx, event)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", runID).Str("source", event.Source()).Msg("Ingest queued")
	if !cmd.Bool("wait") {
		fmt.Println(runID)
		return nil
	}
	status, err := client.WaitForResult(ctx, runID, cfg.Worker.Timeout())
	if err != nil {
		return err
	}
	helper.PrettyPrint(status)
	return nil
}

func queryAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	topK := cmd.Int("top-k")
	if topK == 0 {
		topK = cfg.RAG.TopK
	}
	event := models.QueryEvent{Question: question, SourceIDs: cmd.StringSlice("source"), TopK: topK}

	var answer models.AnswerResult
	if cmd.Bool("inline") {
		p, err := buildPipelines(cfg)
		if err != nil {
			return err
		}
		defer p.store.Close()
		run := workflow.NewRun(workflow.QueryWorkflowName, uuid.NewString(), workflow.NewMemoryMemo())
		if answer, err = p.query.Run(ctx, run, event); err != nil {
			return err
		}
	} else {
		client := worker.NewClient(cfg.Redis, cfg.Worker)
		defer client.Close()
		runID, err := client.EnqueueQuery(ctx, event)
		if err != nil {
			return err
		}
		status, err := client.WaitForResult(ctx, runID, cfg.Server.QueryWait())
		if err != nil {
			return err
		}
		switch status.State {
		case worker.RunCompleted:
			if err := json.Unmarshal(status.Result, &answer); err != nil {
				return fmt.Errorf("malformed run result: %w", err)
			}
		case worker.RunFailed:
			return fmt.Errorf("query run %s failed: %s", runID, status.Error)
		default:
			return fmt.Errorf("no answer available yet, check run %s later", runID)
		}
	}

	log.Info().Msg("Question: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", question)
	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", strings.Join(answer.Sources, ", "))
	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Answer)
	return nil
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Watch.Dirs) == 0 {
		return errors.New("watch.dirs is empty")
	}
	client := worker.NewClient(cfg.Redis, cfg.Worker)
	defer client.Close()

	onIngest := func(path string) {
		event := models.IngestEvent{PDFPath: path, SourceID: filepath.Base(path)}
		runID, err := client.EnqueueIngest(ctx, event)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to enqueue ingest")
			return
		}
		log.Info().Str("path", path).Str("run_id", runID).Msg("Ingest queued")
	}

	var opts []watcher.Option
	if cmd.Bool("prune") {
		store, err := vectorstore.Shared(cfg.VectorStore)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, watcher.WithRemoveHandler(func(path string) {
			source := filepath.Base(path)
			if err := store.DeleteSource(ctx, source); err != nil {
				log.Error().Err(err).Str("source", source).Msg("Failed to delete source")
				return
			}
			log.Info().Str("source", source).Msg("Source deleted")
		}))
	}

	w := watcher.New(cfg.Watch.Dirs, cfg.Watch.Extensions, onIngest, opts...)
	if cmd.Bool("sync") {
		if err := w.Sync(); err != nil {
			return err
		}
	}
	return w.Run(ctx)
}

func openStore(cmd *cli.Command) (vectorstore.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return vectorstore.New(cfg.VectorStore)
}

func collectionStatsAction(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Count(ctx, vectorstore.SourceFilter(cmd.StringSlice("source")))
	if err != nil {
		return err
	}
	cc := store.Config()
	helper.PrettyPrint(map[string]any{
		"collection": cc.Name,
		"dimension":  cc.Dimension,
		"metric":     cc.Metric,
		"points":     n,
	})
	return nil
}

func collectionDeleteSourceAction(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	source := cmd.String("source")
	if err := store.DeleteSource(ctx, source); err != nil {
		return err
	}
	log.Info().Str("source", source).Msg("Source deleted")
	return nil
}

func chromemStore(cmd *cli.Command) (*vectorstore.ChromemStore, error) {
	store, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	cs, ok := store.(*vectorstore.ChromemStore)
	if !ok {
		store.Close()
		return nil, fmt.Errorf("export and import need the %s store", config.StoreChromem)
	}
	return cs, nil
}

func collectionExportAction(_ context.Context, cmd *cli.Command) error {
	store, err := chromemStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Export(cmd.String("file"), cmd.String("key")); err != nil {
		return err
	}
	log.Info().Str("file", cmd.String("file")).Msg("Collection exported")
	return nil
}

func collectionImportAction(_ context.Context, cmd *cli.Command) error {
	store, err := chromemStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Import(cmd.String("file"), cmd.String("key")); err != nil {
		return err
	}
	log.Info().Str("file", cmd.String("file")).Msg("Collection imported")
	return nil
}
