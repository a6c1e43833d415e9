// Package server provides the HTTP API for tsunagu: retrieval, graph reads, the ingestion
// queue, host UI commands and a server-sent event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/indexer"
	"github.com/hyperjump/tsunagu/internal/ingest"
)

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the tsunagu API.
type Server struct {
	store      *graph.Store
	retriever  events.Retriever
	queue      *ingest.Queue
	broker     *events.Broker
	dispatcher *events.Dispatcher
	indexer    *indexer.Indexer // optional
	watch      WatchService     // optional
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server

	// full config, persisted when watch directories change
	appConfig   *config.Config
	configPath  string
	appConfigMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithIndexer enables the document index and delete endpoints.
func WithIndexer(idx *indexer.Indexer) Option {
	return func(s *Server) { s.indexer = idx }
}

// WithWatch enables the watch directory endpoints. When configPath is set, directory changes
// are saved back to the config file.
func WithWatch(w WatchService, configPath string, cfg *config.Config) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
		s.appConfig = cfg
	}
}

// NewServer creates a server with the given dependencies. broker may be nil, in which case
// the event stream carries nothing.
func NewServer(
	store *graph.Store,
	retriever events.Retriever,
	queue *ingest.Queue,
	broker *events.Broker,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if broker == nil {
		broker = events.NewBroker(0)
	}
	s := &Server{
		store:     store,
		retriever: retriever,
		queue:     queue,
		broker:    broker,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = events.NewDispatcher(retriever, store, broker,
		events.WithLogger(logger),
		events.WithStatus(s.statusPayload))
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// the event stream is long-lived and must not be compressed or timed out
	r.Get("/api/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Post("/api/v1/retrieve", s.handleRetrieve)
		r.Post("/api/v1/search", s.handleSearch)
		r.Post("/api/v1/filter", s.handleFilter)
		r.Get("/api/v1/subgraph", s.handleSubgraph)
		r.Post("/api/v1/commands", s.handleCommand)
		r.Post("/api/v1/compact", s.handleCompact)
		r.Get("/api/v1/status", s.handleStatus)

		r.Post("/api/v1/queue", s.handleEnqueue)
		r.Get("/api/v1/queue", s.handleQueueList)
		r.Delete("/api/v1/queue/completed", s.handleQueueClear)
		r.Get("/api/v1/queue/{id}", s.handleQueueGet)
		r.Post("/api/v1/queue/{id}/retry", s.handleQueueRetry)

		r.Post("/api/v1/documents/index", s.handleIndexPath)
		r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)

		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)

		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server. Event streams are closed first so Shutdown does not
// wait on them.
func (s *Server) Stop(ctx context.Context) error {
	s.broker.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) statusPayload() events.StatusPayload {
	nodes, edges := s.store.Counts()
	p := events.StatusPayload{Nodes: nodes, Edges: edges, Time: time.Now().UTC()}
	if s.queue != nil {
		p.Queue = s.queue.Counts()
	}
	return p
}
