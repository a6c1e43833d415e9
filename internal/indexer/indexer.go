// Package indexer feeds files from disk into the knowledge graph. Source code goes through the
// extraction engine and enrichment straight into the graph; other documents are queued for
// LLM discovery.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/enrichment"
	"github.com/hyperjump/tsunagu/internal/extract"
	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/ingest"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

const defaultWorkspaceLabel = "workspace"

// Outcome reports what IndexFile did with a file.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeExtracted Outcome = "extracted"
	OutcomeQueued    Outcome = "queued"
)

// Indexer routes files into the graph store or the ingestion queue.
type Indexer struct {
	store          *graph.Store
	engine         *extraction.Engine
	extractor      *extract.Extractor
	queue          *ingest.Queue // optional; without it documents are only registered
	keywordIndex   keyword.Index // optional
	workspaceLabel string
	logger         *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithQueue sends non-code documents to the ingestion queue.
func WithQueue(q *ingest.Queue) IndexerOption {
	return func(idx *Indexer) { idx.queue = q }
}

// WithExtractor sets the text extractor for office and pdf files. Without one, files are read
// as plain text.
func WithExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithKeywordIndex indexes extracted code entities for keyword lookup.
func WithKeywordIndex(k keyword.Index) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithWorkspaceLabel sets the label of the workspace node documents hang from.
func WithWorkspaceLabel(label string) IndexerOption {
	return func(idx *Indexer) {
		if label != "" {
			idx.workspaceLabel = label
		}
	}
}

// NewIndexer creates an indexer. engine may be nil, in which case every file is treated as a
// document.
func NewIndexer(store *graph.Store, engine *extraction.Engine, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:          store,
		engine:         engine,
		workspaceLabel: defaultWorkspaceLabel,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

const (
	metaKeyLanguage    = "language"
	metaKeyFormat      = "format"
	metaKeySections    = "sections"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IndexFile indexes one file. The document ID is derived from the absolute path so re-indexing
// updates the same document node. If allowedExts is non-empty, the file's extension must be in
// the list (case-insensitive). Unchanged files (same path, mtime and size) are skipped.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (Outcome, error) {
	if idx.logger != nil {
		idx.logger.Debug("indexer indexing file", zap.String("path", path))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return "", models.NewValidationError("path", "extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", models.NewValidationError("path", "not a regular file: %s", absPath)
	}
	docID := fileid.FileDocID(absPath)
	if idx.shouldSkipFile(absPath, docID, info) {
		if idx.logger != nil {
			idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		}
		return OutcomeSkipped, nil
	}

	if idx.engine != nil && extraction.LanguageFromPath(absPath) != extraction.LangUnknown {
		if err := idx.indexCode(ctx, absPath, docID, info); err != nil {
			return "", err
		}
		return OutcomeExtracted, nil
	}
	if err := idx.indexDocument(ctx, absPath, docID, info); err != nil {
		return "", err
	}
	return OutcomeQueued, nil
}

// shouldSkipFile returns true if the file is already indexed with the same mtime and size.
func (idx *Indexer) shouldSkipFile(absPath, docID string, info os.FileInfo) bool {
	doc, ok := idx.store.GetNode(docID)
	if !ok || doc.Metadata == nil {
		return false
	}
	if doc.MetaString(models.MetaFilePath) != absPath {
		return false
	}
	// Values are stored as strings to avoid JSON float64 precision loss (UnixNano exceeds 53 bits).
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// indexCode extracts entities from a source file and merges them into the graph.
func (idx *Indexer) indexCode(ctx context.Context, absPath, docID string, info os.FileInfo) error {
	source, err := os.ReadFile(absPath)
	if err != nil {
		return models.NewError(models.KindExtraction, "read "+absPath, err)
	}
	res := idx.engine.Extract(ctx, absPath, source)
	if len(res.Diagnostics) > 0 && idx.logger != nil {
		idx.logger.Debug("extraction diagnostics", zap.String("path", absPath), zap.Strings("diagnostics", res.Diagnostics))
	}
	enriched := enrichment.Enrich(enrichment.FromExtraction(res), string(source), absPath)
	nodes, edges := enrichment.ToGraph(enriched, docID)

	doc, err := idx.upsertDocument(ctx, absPath, docID, info, func(n *models.Node) {
		n.Metadata[models.MetaOrigin] = models.OriginAST
		n.Metadata[metaKeyLanguage] = string(res.Language)
	})
	if err != nil {
		return err
	}

	remap := make(map[string]string, len(nodes))
	entries := make([]*keyword.Entry, 0, len(nodes))
	for _, n := range nodes {
		stored, err := idx.store.MergeEntity(ctx, n)
		if err != nil {
			if models.IsValidation(err) {
				continue
			}
			return fmt.Errorf("failed to merge entity %q: %w", n.Label, err)
		}
		remap[n.ID] = stored.ID
		entries = append(entries, &keyword.Entry{
			ID:         stored.ID,
			Title:      stored.Label,
			Content:    stored.MetaString(models.MetaDescription),
			Kind:       keyword.KindNode,
			DocumentID: docID,
		})
	}

	rels := 0
	for _, e := range edges {
		src, tgt := e.Source, e.Target
		if src != docID {
			var ok bool
			if src, ok = remap[src]; !ok {
				continue
			}
		}
		var ok bool
		if tgt, ok = remap[tgt]; !ok || src == tgt {
			continue
		}
		if e.Bidirectional && src > tgt {
			src, tgt = tgt, src
		}
		e.ID = fileid.EdgeID(string(e.Type), src, tgt)
		e.Source, e.Target = src, tgt
		if prev, ok := idx.store.GetEdge(e.ID); ok {
			e.CreatedAt = prev.CreatedAt
			e.Confidence = utils.MaxFloat(e.Confidence, prev.Confidence)
			e.Weight = utils.MaxFloat(e.Weight, prev.Weight)
		}
		if _, err := idx.store.UpsertEdge(ctx, e); err != nil {
			if errors.Is(err, models.ErrSelfLoop) {
				continue
			}
			return fmt.Errorf("failed to store relationship: %w", err)
		}
		if e.Source != docID {
			rels++
		}
	}

	doc.Metadata[models.MetaEntityCount] = len(remap)
	doc.Metadata[models.MetaRelCount] = rels
	if _, err := idx.store.UpsertNode(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document counts: %w", err)
	}

	if idx.keywordIndex != nil {
		if _, err := idx.keywordIndex.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete previous keyword entries: %w", err)
		}
		for _, entry := range entries {
			if err := idx.keywordIndex.Index(ctx, entry.ID, entry); err != nil {
				return fmt.Errorf("failed to index entity %s: %w", entry.ID, err)
			}
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer code file extracted",
			zap.String("path", absPath),
			zap.String("doc_id", docID),
			zap.Int("entities", len(remap)),
			zap.Int("relationships", rels))
	}
	return nil
}

// indexDocument registers the document node and queues its text for discovery. Documents
// with no extractable text (scanned pdfs, empty files) keep their node but are not queued.
func (idx *Indexer) indexDocument(ctx context.Context, absPath, docID string, info os.FileInfo) error {
	doc, err := idx.extractContent(absPath)
	if err != nil {
		return models.NewError(models.KindExtraction, "extract "+absPath, err)
	}
	title := doc.Title
	if title == "" {
		title = filepath.Base(absPath)
	}
	if _, err := idx.upsertDocument(ctx, absPath, docID, info, func(n *models.Node) {
		n.Label = title
		n.Metadata[models.MetaOrigin] = models.OriginIngest
		n.Metadata[metaKeyFormat] = doc.Format
		n.Metadata[metaKeySections] = len(doc.Sections)
	}); err != nil {
		return err
	}
	text := doc.Text()
	if idx.queue == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	queueID, err := idx.queue.Enqueue(ctx, models.DocumentInput{
		ID:      docID,
		Title:   title,
		Path:    absPath,
		Content: text,
	})
	if err != nil {
		return err
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document queued",
			zap.String("path", absPath),
			zap.String("doc_id", docID),
			zap.String("format", doc.Format),
			zap.Int("sections", len(doc.Sections)),
			zap.String("queue_id", queueID))
	}
	return nil
}

// upsertDocument creates or refreshes the document node with the file stamps used by the
// incremental skip, and links it under the workspace node.
func (idx *Indexer) upsertDocument(ctx context.Context, absPath, docID string, info os.FileInfo, fn func(*models.Node)) (models.Node, error) {
	ws, err := idx.store.EnsureWorkspaceNode(ctx, idx.workspaceLabel)
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to ensure workspace node: %w", err)
	}
	doc := models.NewNode(docID, filepath.Base(absPath), models.NodeTypeDocument, 1, time.Now())
	if existing, ok := idx.store.GetNode(docID); ok {
		doc.CreatedAt = existing.CreatedAt
		for k, v := range existing.Metadata {
			doc.Metadata[k] = v
		}
	}
	doc.Sources = []string{docID}
	doc.Metadata[models.MetaFilePath] = absPath
	doc.Metadata[metaKeySourceMtime] = strconv.FormatInt(info.ModTime().UnixNano(), 10)
	doc.Metadata[metaKeySourceSize] = strconv.FormatInt(info.Size(), 10)
	if fn != nil {
		fn(&doc)
	}
	stored, err := idx.store.UpsertNode(ctx, doc)
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to store document node: %w", err)
	}
	link, err := models.NewEdge(fileid.EdgeID(string(models.EdgeContains), ws.ID, docID), models.EdgeContains, ws.ID, docID, 1, 1, time.Now())
	if err != nil {
		return models.Node{}, err
	}
	if _, err := idx.store.UpsertEdge(ctx, link); err != nil {
		return models.Node{}, fmt.Errorf("failed to link document: %w", err)
	}
	return stored, nil
}

// IndexDirectory walks dir recursively and indexes each regular file whose extension
// is in allowedExts (if non-empty; otherwise all files). Returns the number of files
// extracted or queued, and the first error encountered, if any.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, models.NewValidationError("path", "not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		outcome, indexErr := idx.IndexFile(ctx, path, allowedExts)
		if indexErr != nil {
			return indexErr
		}
		if outcome != OutcomeSkipped {
			n++
		}
		return nil
	})
	return n, err
}

func (idx *Indexer) extractContent(path string) (extract.Document, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return extract.Document{}, err
	}
	return extract.Document{Format: "text", Sections: []extract.Section{{Text: string(content)}}}, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument logically deletes a document node and its chunk nodes, and drops its keyword
// entries. Entities stay, since other documents may mention them. It reports whether the
// document existed.
func (idx *Indexer) DeleteDocument(ctx context.Context, docID string) (bool, error) {
	if idx.logger != nil {
		idx.logger.Debug("indexer deleting document", zap.String("id", docID))
	}
	if _, ok := idx.store.GetNode(docID); !ok {
		return false, nil
	}
	for _, e := range idx.store.Neighbors(docID) {
		if e.Type != models.EdgeContains || e.Source != docID {
			continue
		}
		if n, ok := idx.store.GetNode(e.Target); ok && n.Type == models.NodeTypeChunk {
			if _, err := idx.store.DeleteNode(ctx, n.ID); err != nil {
				return false, fmt.Errorf("failed to delete chunk: %w", err)
			}
		}
	}
	if _, err := idx.store.DeleteNode(ctx, docID); err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.keywordIndex != nil {
		if _, err := idx.keywordIndex.DeleteDocument(ctx, docID); err != nil {
			return true, fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document deleted", zap.String("id", docID))
	}
	return true, nil
}

// DeletePath deletes the document indexed for path, if any.
func (idx *Indexer) DeletePath(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, fileid.FileDocID(absPath))
}
