package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/indexer"
	"github.com/hyperjump/tsunagu/internal/ingest"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/retriever"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fixture struct {
	srv    *Server
	store  *graph.Store
	queue  *ingest.Queue
	broker *events.Broker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := graph.NewStore()
	now := time.Now()
	auth := models.NewNode("ent:auth", "AuthService", models.NodeTypeEntity, 0.9, now)
	auth.EntityType = models.KnownEntityType(models.EntityClass)
	token := models.NewNode("ent:token", "TokenStore", models.NodeTypeEntity, 0.8, now)
	for _, n := range []models.Node{auth, token} {
		if _, err := store.UpsertNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	e, err := models.NewEdge("edge:1", models.EdgeDependsOn, "ent:auth", "ent:token", 1, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertEdge(ctx, e); err != nil {
		t.Fatal(err)
	}
	queue := ingest.NewQueue()
	broker := events.NewBroker(8)
	srv := NewServer(store, retriever.New(store), queue, broker, &config.ServerConfig{Port: 8080}, zap.NewNop(), opts...)
	return &fixture{srv: srv, store: store, queue: queue, broker: broker}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleRetrieve(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{"query": "AuthService", "strategy": "keyword"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.RetrieveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "ent:auth" {
		t.Errorf("results: got %+v", resp.Results)
	}
}

func TestHandleRetrieve_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"empty query", map[string]interface{}{"query": ""}},
		{"unknown strategy", map[string]interface{}{"query": "auth", "strategy": "vector"}},
		{"min score out of range", map[string]interface{}{"query": "auth", "min_score": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/retrieve", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "token", "mode": "exact"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Node.ID != "ent:token" {
		t.Errorf("unexpected response: %+v", resp)
	}

	w = f.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "token", "mode": "semantic"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: got %d, want 400", w.Code)
	}
}

func TestHandleFilter(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/filter", map[string]interface{}{"min_confidence": 0.85})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var snap models.GraphSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 1 || len(snap.Edges) != 0 {
		t.Errorf("filtered snapshot: %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}

	w = f.do(t, http.MethodPost, "/api/v1/filter", map[string]interface{}{"min_confidence": 2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid filter: got %d, want 400", w.Code)
	}
}

func TestHandleSubgraph(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/subgraph?seed=ent:auth&depth=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var snap models.GraphSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 1 || len(snap.Edges) != 0 {
		t.Errorf("depth 0: %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}

	w = f.do(t, http.MethodGet, "/api/v1/subgraph?seed=ent:auth&depth=-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative depth: got %d, want 400", w.Code)
	}
}

func TestHandleQueue(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/queue", map[string]interface{}{"title": "notes", "content": "Alice maintains the billing service."})
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue: got %d, body: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	id := created["id"]
	if id == "" || created["status"] != string(models.StatusPending) {
		t.Fatalf("unexpected enqueue response: %v", created)
	}

	if w := f.do(t, http.MethodPost, "/api/v1/queue", map[string]interface{}{"content": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty content: got %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/queue", nil); w.Code != http.StatusOK {
		t.Errorf("list: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/queue/"+id, nil); w.Code != http.StatusOK {
		t.Errorf("get: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/queue/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing: got %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/queue/"+id+"/retry", nil); w.Code != http.StatusBadRequest {
		t.Errorf("retry pending item: got %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/v1/queue/missing/retry", nil); w.Code != http.StatusNotFound {
		t.Errorf("retry missing: got %d, want 404", w.Code)
	}

	ctx := context.Background()
	item, ok := f.queue.Next(ctx)
	if !ok {
		t.Fatal("expected a pending item")
	}
	if err := f.queue.Complete(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	w = f.do(t, http.MethodDelete, "/api/v1/queue/completed", nil)
	var cleared map[string]int
	if err := json.NewDecoder(w.Body).Decode(&cleared); err != nil {
		t.Fatal(err)
	}
	if cleared["removed"] != 1 {
		t.Errorf("cleared: got %v", cleared)
	}
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/commands", map[string]interface{}{"type": "refresh"})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Events []events.Event `json:"events"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Events) != 2 || out.Events[0].Type != events.TypeStatus || out.Events[1].Type != events.TypeSubgraph {
		t.Errorf("refresh events: got %+v", out.Events)
	}

	w = f.do(t, http.MethodPost, "/api/v1/commands", map[string]interface{}{"type": "search", "query": map[string]interface{}{"query": "token"}})
	if w.Code != http.StatusOK {
		t.Errorf("search: got %d, body: %s", w.Code, w.Body.String())
	}

	for _, body := range []interface{}{
		map[string]interface{}{"type": "explode"},
		map[string]interface{}{"type": "search"},
		"not json",
	} {
		if w := f.do(t, http.MethodPost, "/api/v1/commands", body); w.Code != http.StatusBadRequest {
			t.Errorf("command %v: got %d, want 400", body, w.Code)
		}
	}
}

func TestHandleCompact(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.DeleteNode(context.Background(), "ent:token"); err != nil {
		t.Fatal(err)
	}
	w := f.do(t, http.MethodPost, "/api/v1/compact", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]int
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["nodes_removed"] != 1 || out["edges_removed"] != 1 {
		t.Errorf("compact: got %v", out)
	}
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["nodes"].(float64) != 2 || out["edges"].(float64) != 1 {
		t.Errorf("status: got %v", out)
	}
}

func TestHandleEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}
	if got := next(); got != string(events.TypeStatus) {
		t.Fatalf("first event: got %q, want status", got)
	}

	f.broker.Publish(events.New(events.TypeProgress, map[string]int{"progress": 50}))
	if got := next(); got != string(events.TypeProgress) {
		t.Errorf("second event: got %q, want progress", got)
	}
}

func TestHandleIndexPath(t *testing.T) {
	dir := t.TempDir()
	store := graph.NewStore()
	queue := ingest.NewQueue()
	idx := indexer.NewIndexer(store, extraction.NewEngine(), indexer.WithQueue(queue))
	srv := NewServer(store, retriever.New(store), queue, nil, &config.ServerConfig{Port: 8080}, zap.NewNop(), WithIndexer(idx))
	f := &fixture{srv: srv, store: store, queue: queue}

	fPath := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(fPath, []byte("Bob reviews the deploy checklist."), 0600); err != nil {
		t.Fatal(err)
	}
	w := f.do(t, http.MethodPost, "/api/v1/documents/index", map[string]interface{}{"path": dir})
	if w.Code != http.StatusOK {
		t.Fatalf("index directory: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(queue.List()) != 1 {
		t.Errorf("queued: got %d, want 1", len(queue.List()))
	}

	if w := f.do(t, http.MethodPost, "/api/v1/documents/index", map[string]interface{}{"path": filepath.Join(dir, "missing.md")}); w.Code != http.StatusNotFound {
		t.Errorf("missing path: got %d, want 404", w.Code)
	}

	docs := store.Snapshot().Nodes
	var docID string
	for _, n := range docs {
		if n.Type == models.NodeTypeDocument {
			docID = n.ID
		}
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil); w.Code != http.StatusOK {
		t.Errorf("delete: got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", w.Code)
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	f := newFixture(t, WithWatch(mock, "", nil))

	w := f.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAdd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	appCfg := &config.Config{}
	mock := &mockWatchService{}
	f := newFixture(t, WithWatch(mock, cfgPath, appCfg))

	w := f.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}
	saved, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 1 || saved.Watch.Directories[0] != dir {
		t.Errorf("persisted directories: got %v", saved.Watch.Directories)
	}
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, WithWatch(&mockWatchService{}, "", nil))

	w := f.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir + "/nonexistent"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleWatchDirectoriesRemove(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{dir}}
	f := newFixture(t, WithWatch(mock, "", nil))

	w := f.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if len(mock.Directories()) != 0 {
		t.Errorf("expected 0 directories, got %v", mock.Directories())
	}
}
