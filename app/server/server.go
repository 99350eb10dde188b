package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"rag/app/agent"
	"rag/app/api"
	"rag/app/middleware"
	"rag/chunker"
	"rag/loader"
	"rag/memory"
	"rag/model"
	"rag/store"
	"rag/types"

	"github.com/gofiber/fiber/v2"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
	cancel     context.CancelFunc
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error to shut down server", "error", err)
		}
	}
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	cfg := types.ConfigFromEnv()

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal("invalid chunker configuration: ", err)
		return
	}

	embedder, err := model.NewEmbedder(ctx)
	if err != nil {
		log.Fatal("error to connect to embedding model: ", err)
		return
	}

	contextStore, err := buildStore(ctx, cfg, ch, embedder)
	if err != nil {
		log.Fatal("error to build vector store: ", err)
		return
	}

	mem := memory.New(cfg.MaxHistoryLength, cfg.SessionTimeout)
	ag := agent.New(cfg.MaxContextLength)

	var (
		app            = fiber.New(config)
		checkHandler   = api.NewCheckHandler(contextStore, mem)
		requestHandler = api.NewRequestHandler(contextStore, mem, ag, cfg)
		fileHandler    = api.NewFileHandler(contextStore, cfg.MaxFileSizeMB)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	app.Use(middleware.RequestLogger())

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/ask", requestHandler.HandleAsk)
	apiv1.Post("/upload", fileHandler.HandleUpload)
	apiv1.Get("/session/:id", requestHandler.HandleSessionInfo)
	apiv1.Delete("/session/:id", requestHandler.HandleClearSession)
	apiv1.Delete("/vectorstore", requestHandler.HandleClearStore)

	if cfg.SourceDir != "" {
		pdfLoader, err := loader.New(cfg, contextStore)
		if err != nil {
			log.Fatal("error to start PDF loader: ", err)
			return
		}
		go pdfLoader.Run(ctx)
	}

	s.app = app
	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}

func buildStore(ctx context.Context, cfg types.Config, ch *chunker.Chunker, embedder model.EmbedderInterface) (store.VectorStorer, error) {
	switch cfg.StoreBackend {
	case "postgres":
		port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
		connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
		return store.NewPostgresStore(ctx, connStr, ch, embedder)
	default:
		persist, err := store.NewFilePersister(cfg.DataDir)
		if err != nil {
			// Durability is best effort: run from memory only.
			slog.Warn("could not open persistence layer, running without durability", "error", err)
			persist = nil
		}
		return store.NewMemoryStore(ch, embedder, persist), nil
	}
}
