package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/search"
	"github.com/hyperjump/tsunagu/internal/storage"
)

const maxBodyBytes = 32 << 20

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("retrieve request", zap.String("query", query.Query), zap.String("strategy", string(query.Strategy)))
	if s.retriever == nil {
		s.respondError(w, http.StatusNotImplemented, "retrieval not enabled")
		return
	}
	response, err := s.retriever.Retrieve(r.Context(), query)
	if err != nil {
		s.respondFailure(w, "retrieve failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	snap := s.store.Snapshot()
	response, err := search.Search(snap.Nodes, snap.Edges, query)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var opts models.FilterOptions
	if !s.decode(w, r, &opts) {
		return
	}
	filtered, err := graph.Filter(s.store.Snapshot(), opts)
	if err != nil {
		s.respondFailure(w, "filter failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, filtered)
}

// handleSubgraph serves GET /api/v1/subgraph?seed=a&seed=b&depth=1. No seeds returns the whole
// active graph up to the configured cap.
func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	seeds := r.URL.Query()["seed"]
	depth := 1
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			s.respondError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		depth = d
	}
	s.respondJSON(w, http.StatusOK, s.store.Subgraph(seeds, depth))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd, err := events.DecodeCommand(body)
	if err != nil {
		s.respondFailure(w, "command rejected", err)
		return
	}
	s.logger.Debug("command request", zap.String("command", string(cmd.Type)))
	out, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		s.respondFailure(w, "command failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

// handleEvents streams broker events as server-sent events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, unsubscribe := s.broker.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// current status first, so a new client need not wait for activity
	if err := writeEvent(w, events.New(events.TypeStatus, s.statusPayload())); err != nil {
		return
	}
	flusher.Flush()
	s.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := s.store.Compact(r.Context())
	if err != nil {
		s.respondFailure(w, "compact failed", err)
		return
	}
	s.logger.Info("graph compacted", zap.Int("nodes", nodes), zap.Int("edges", edges))
	s.respondJSON(w, http.StatusOK, map[string]int{"nodes_removed": nodes, "edges_removed": edges})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if !s.decode(w, r, &input) {
		return
	}
	s.logger.Debug("enqueue request", zap.String("id", input.ID), zap.String("title", input.Title))
	id, err := s.queue.Enqueue(r.Context(), input)
	if err != nil {
		s.respondFailure(w, "enqueue failed", err)
		return
	}
	item, _ := s.queue.Get(id)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "document_id": item.DocumentID, "status": string(item.Status)})
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  s.queue.List(),
		"counts": s.queue.Counts(),
	})
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	item, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "queue item not found")
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("retry request", zap.String("queue_id", id))
	if err := s.queue.Retry(r.Context(), id); err != nil {
		s.respondFailure(w, "retry failed", err)
		return
	}
	item, _ := s.queue.Get(id)
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	n := s.queue.ClearCompleted(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": n})
}

type indexRequest struct {
	Path       string   `json:"path"`
	Extensions []string `json:"extensions,omitempty"`
}

// handleIndexPath indexes a file or, recursively, a directory.
func (s *Server) handleIndexPath(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.respondError(w, http.StatusNotImplemented, "indexing not enabled")
		return
	}
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "path not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("index request", zap.String("path", req.Path), zap.Bool("directory", info.IsDir()))
	if info.IsDir() {
		n, err := s.indexer.IndexDirectory(r.Context(), req.Path, req.Extensions)
		if err != nil {
			s.respondFailure(w, "indexing failed", err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": req.Path, "indexed": n})
		return
	}
	outcome, err := s.indexer.IndexFile(r.Context(), req.Path, req.Extensions)
	if err != nil {
		s.respondFailure(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": req.Path, "outcome": outcome})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.respondError(w, http.StatusNotImplemented, "indexing not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	deleted, err := s.indexer.DeleteDocument(r.Context(), id)
	if err != nil {
		s.respondFailure(w, "deletion failed", err)
		return
	}
	if !deleted {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.statusPayload()
	snap := s.store.Snapshot()
	resp := map[string]interface{}{
		"nodes": status.Nodes,
		"edges": status.Edges,
		"queue": status.Queue,
		"stats": snap.Stats,
	}
	if s.appConfig != nil {
		s.appConfigMu.Lock()
		cfg := *s.appConfig
		s.appConfigMu.Unlock()
		resp["config"] = map[string]interface{}{
			"llm_provider":       cfg.LLM.Provider,
			"chunk_size":         cfg.Ingest.ChunkSize,
			"chunk_overlap":      cfg.Ingest.ChunkOverlap,
			"default_strategy":   cfg.Retrieval.Strategy,
			"database_path":      cfg.Storage.DatabasePath,
			"bleve_index_path":   cfg.Storage.BleveIndexPath,
			"max_subgraph_nodes": cfg.Graph.MaxSubgraphNodes,
		}
		if usage, err := storage.MeasureUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
			resp["disk_usage"] = usage
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	dirs := s.watch.Directories()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchConfig() {
	if s.configPath == "" || s.appConfig == nil {
		return
	}
	s.appConfigMu.Lock()
	s.appConfig.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.appConfig)
	s.appConfigMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondFailure maps validation errors to 400 and missing items to 404; anything else is
// logged and returned as 500.
func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	switch {
	case models.IsValidation(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
