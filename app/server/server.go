package server

import (
	"context"
	"fmt"
	"log/slog"

	"mercurial/app/api"
	"mercurial/index"
	"mercurial/loader"
	"mercurial/model"
	"mercurial/rag"
	"mercurial/store"
	"mercurial/types"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	cfg    types.Config
	logger *slog.Logger

	app    *fiber.App
	pool   *store.PostgresStore
	cancel context.CancelFunc
}

func NewServer(cfg types.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	pool, err := store.NewPostgresStore(ctx, s.cfg.PGConnStr())
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	s.pool = pool

	if err := pool.Init(ctx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	idx, err := index.LoadOrCreate(s.cfg.IndexPath, s.cfg.EmbedDim)
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	s.logger.Info("vector index loaded", "count", idx.Count(), "dim", idx.Dim())

	embedder := model.NewOllamaEmbedder(s.cfg.EmbedURL, s.cfg.EmbedModel, s.cfg.EmbedDim)
	completer := model.NewOllamaChat(s.cfg.ChatURL, s.cfg.ChatModel)

	engine, err := rag.NewEngine(rag.EngineConfig{
		MinScore:         s.cfg.MinScore,
		MaxCharsPerChunk: s.cfg.MaxCharsPerChunk,
		MaxContextChunks: s.cfg.MaxContextChunks,
		ChunkSize:        s.cfg.ChunkSize,
		ChunkOverlap:     s.cfg.ChunkOverlap,
		IndexPath:        s.cfg.IndexPath,
	}, idx, pool, embedder)
	if err != nil {
		return err
	}

	assembler := rag.NewAssembler(pool)
	system, err := assembler.SystemPrompt(ctx)
	if err != nil {
		return fmt.Errorf("build initial system prompt: %w", err)
	}
	conversation := rag.NewConversation(system)

	if s.cfg.SourceDir != "" {
		watcher, err := loader.NewWatcher(loader.Config{
			SourceDir:      s.cfg.SourceDir,
			ArchiveDir:     s.cfg.ArchiveDir,
			MonitoringTime: s.cfg.MonitoringTime,
		}, engine)
		if err != nil {
			return fmt.Errorf("start directory watcher: %w", err)
		}
		go watcher.Run(ctx)
	}

	var (
		app            = fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler})
		checkHandler   = api.NewCheckHandler()
		docHandler     = api.NewDocHandler(engine, pool, s.cfg.UploadDir)
		profileHandler = api.NewProfileHandler(pool)
		chatHandler    = api.NewChatHandler(engine, assembler, conversation, completer, s.cfg.MinScore, s.cfg.CodesDir)

		check = app.Group("/check")
		apiv1 = app.Group("/api/v1")
	)
	s.app = app

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Get("/docs", docHandler.HandleList)
	apiv1.Post("/docs", docHandler.HandleUpload)
	apiv1.Delete("/docs/:id", docHandler.HandleDelete)

	apiv1.Get("/profile", profileHandler.HandleGetProfile)
	apiv1.Put("/profile", profileHandler.HandleSetProfile)
	apiv1.Get("/prefs", profileHandler.HandleGetPrefs)
	apiv1.Put("/prefs", profileHandler.HandleSetPrefs)

	apiv1.Post("/chat", chatHandler.HandleChat)
	apiv1.Post("/clear", chatHandler.HandleClear)

	return app.Listen(s.cfg.ServerAddr)
}

func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error shutting down fiber", "error", err.Error())
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.logger.Info("server stopped")
}
