package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/discovery"
	"github.com/hyperjump/tsunagu/internal/enrichment"
	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/storage"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

// Processing steps reported in QueuedDocument.CurrentStep.
const (
	StepChunking    = "chunking"
	StepDiscovering = "discovering"
	StepStoring     = "storing"
)

const (
	defaultWorkspaceLabel = "workspace"
	chunkPreviewChars     = 120
	chunkingProgress      = 10
	storingProgress       = 90
)

// Processor drains the queue one document at a time: chunk, discover per chunk, merge into
// the graph, store chunk records, and surface aggregate counts on the document node.
type Processor struct {
	queue      *Queue
	store      *graph.Store
	discoverer discovery.Discoverer

	chunker        *Chunker
	discoveryOpts  discovery.Options
	backend        storage.Storage  // optional, chunk records
	keywordIndex   keyword.Index    // optional, chunk text
	publisher      events.Publisher // optional
	logger         *zap.Logger      // optional
	workspaceLabel string

	busy atomic.Bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets a logger for chunk failures and document outcomes.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithBackend stores chunk records linking chunk ids to entity ids.
func WithBackend(s storage.Storage) ProcessorOption {
	return func(p *Processor) { p.backend = s }
}

// WithKeywordIndex indexes chunk text for the retriever's keyword scorer.
func WithKeywordIndex(idx keyword.Index) ProcessorOption {
	return func(p *Processor) { p.keywordIndex = idx }
}

// WithEvents publishes error events for failed documents. Progress events come from the queue.
func WithEvents(pub events.Publisher) ProcessorOption {
	return func(p *Processor) { p.publisher = pub }
}

// WithDiscoveryOptions overrides discovery.DefaultOptions.
func WithDiscoveryOptions(o discovery.Options) ProcessorOption {
	return func(p *Processor) { p.discoveryOpts = o }
}

// WithChunker overrides the default chunker.
func WithChunker(c *Chunker) ProcessorOption {
	return func(p *Processor) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithWorkspaceLabel sets the label of the workspace node documents hang from.
func WithWorkspaceLabel(label string) ProcessorOption {
	return func(p *Processor) {
		if label != "" {
			p.workspaceLabel = label
		}
	}
}

// NewProcessor creates a processor. discoverer may be nil, in which case every chunk
// yields no entities.
func NewProcessor(queue *Queue, store *graph.Store, discoverer discovery.Discoverer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:          queue,
		store:          store,
		discoverer:     discoverer,
		chunker:        NewChunker(0, 0),
		discoveryOpts:  discovery.DefaultOptions(),
		workspaceLabel: defaultWorkspaceLabel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes documents until ctx is cancelled, waking on queue notifications.
func (p *Processor) Run(ctx context.Context) {
	for {
		for {
			worked, err := p.ProcessNext(ctx)
			if err != nil && p.logger != nil {
				p.logger.Warn("document processing failed", zap.Error(err))
			}
			if !worked || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Notify():
		}
	}
}

// ProcessNext processes the oldest pending document. It reports false when there was nothing
// to do or another document is already being processed. The returned error is the document
// failure, which is also recorded on the queue item.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return false, nil
	}
	defer p.busy.Store(false)

	item, ok := p.queue.Next(ctx)
	if !ok {
		return false, nil
	}
	started := time.Now()
	stats, err := p.process(ctx, item)
	if err != nil {
		if failErr := p.queue.Fail(ctx, item.ID, err); failErr != nil && p.logger != nil {
			p.logger.Error("failed to mark queue item failed", zap.String("queue_id", item.ID), zap.Error(failErr))
		}
		if p.publisher != nil {
			p.publisher.Publish(events.New(events.TypeError, events.ErrorPayload{Message: err.Error(), QueueID: item.ID}))
		}
		if p.logger != nil {
			p.logger.Error("document failed",
				zap.String("queue_id", item.ID),
				zap.String("document_id", item.DocumentID),
				zap.Error(err))
		}
		return true, models.NewError(models.KindIngestion, "process "+item.ID, err)
	}
	if err := p.queue.Complete(ctx, item.ID); err != nil {
		return true, models.NewError(models.KindIngestion, "complete "+item.ID, err)
	}
	if p.logger != nil {
		p.logger.Info("document processed",
			zap.String("queue_id", item.ID),
			zap.String("document_id", item.DocumentID),
			zap.Int("chunks", stats.chunks),
			zap.Int("failed_chunks", stats.failedChunks),
			zap.Int("entities", stats.entities),
			zap.Int("relationships", stats.relationships),
			zap.Duration("took", time.Since(started)))
	}
	return true, nil
}

type runStats struct {
	chunks        int
	failedChunks  int
	entities      int
	relationships int
}

// process runs the steps for one document. A panic is converted to an error so the queue
// item fails instead of staying processing.
func (p *Processor) process(ctx context.Context, item models.QueuedDocument) (stats runStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing: %v", r)
		}
	}()

	p.step(ctx, item.ID, StepChunking, 0, nil)
	docNode, err := p.upsertDocument(ctx, item)
	if err != nil {
		return stats, err
	}
	chunks := p.chunker.Chunk(item.DocumentID, item.Content)
	stats.chunks = len(chunks)
	p.step(ctx, item.ID, StepChunking, chunkingProgress, func(it *models.QueuedDocument) {
		it.TotalChunks = len(chunks)
	})
	if err := p.clearPrevious(ctx, item.DocumentID, chunks); err != nil {
		return stats, err
	}

	entitySet := make(map[string]struct{})
	edgeSet := make(map[string]struct{})
	records := make([]*models.Chunk, 0, len(chunks))
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ch := chunks[i]
		ch.CreatedAt = time.Now().UTC()
		if err := p.upsertChunk(ctx, docNode, ch, item.Title); err != nil {
			return stats, err
		}

		res := p.discover(ctx, ch.Content)
		if res.Error {
			stats.failedChunks++
			if p.logger != nil {
				p.logger.Warn("chunk discovery failed",
					zap.String("queue_id", item.ID),
					zap.String("document_id", item.DocumentID),
					zap.Int("chunk_index", ch.ChunkIndex),
					zap.String("summary", res.Summary))
			}
		} else {
			ids, edgeIDs, err := p.mergeChunk(ctx, item, ch, res)
			if err != nil {
				return stats, err
			}
			ch.EntityIDs = ids
			for _, id := range ids {
				entitySet[id] = struct{}{}
			}
			for _, id := range edgeIDs {
				edgeSet[id] = struct{}{}
			}
		}
		records = append(records, &ch)

		done := i + 1
		p.step(ctx, item.ID, StepDiscovering, chunkingProgress+float64(done)*(storingProgress-chunkingProgress)/float64(len(chunks)), func(it *models.QueuedDocument) {
			it.ProcessedChunks = done
			it.EntityCount = len(entitySet)
			it.RelationshipCount = len(edgeSet)
		})
	}
	stats.entities = len(entitySet)
	stats.relationships = len(edgeSet)

	p.step(ctx, item.ID, StepStoring, storingProgress, nil)
	if err := p.storeChunks(ctx, item, records); err != nil {
		return stats, err
	}
	docNode.Metadata[models.MetaEntityCount] = stats.entities
	docNode.Metadata[models.MetaRelCount] = stats.relationships
	docNode.Metadata[models.MetaChunkCount] = stats.chunks
	if _, err := p.store.UpsertNode(ctx, docNode); err != nil {
		return stats, fmt.Errorf("failed to update document counts: %w", err)
	}
	return stats, nil
}

func (p *Processor) step(ctx context.Context, id, step string, progress float64, fn func(*models.QueuedDocument)) {
	err := p.queue.Update(ctx, id, func(it *models.QueuedDocument) {
		it.CurrentStep = step
		if progress > it.Progress {
			it.Progress = progress
		}
		if fn != nil {
			fn(it)
		}
	})
	if err != nil && p.logger != nil {
		p.logger.Debug("progress update skipped", zap.String("queue_id", id), zap.Error(err))
	}
}

func (p *Processor) discover(ctx context.Context, content string) discovery.Result {
	if p.discoverer == nil {
		return discovery.Result{Summary: "no discoverer configured"}
	}
	return p.discoverer.Discover(ctx, content, p.discoveryOpts)
}

// upsertDocument creates (or refreshes) the document node under the workspace node.
func (p *Processor) upsertDocument(ctx context.Context, item models.QueuedDocument) (models.Node, error) {
	ws, err := p.store.EnsureWorkspaceNode(ctx, p.workspaceLabel)
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to ensure workspace node: %w", err)
	}
	doc := models.NewNode(item.DocumentID, item.Title, models.NodeTypeDocument, 1, time.Now())
	if existing, ok := p.store.GetNode(item.DocumentID); ok {
		doc.CreatedAt = existing.CreatedAt
		for k, v := range existing.Metadata {
			doc.Metadata[k] = v
		}
	}
	doc.Sources = []string{item.DocumentID}
	doc.Metadata[models.MetaOrigin] = models.OriginIngest
	if item.Path != "" {
		doc.Metadata[models.MetaFilePath] = item.Path
	}
	stored, err := p.store.UpsertNode(ctx, doc)
	if err != nil {
		return models.Node{}, fmt.Errorf("failed to store document node: %w", err)
	}
	if err := p.link(ctx, models.EdgeContains, ws.ID, stored.ID, 1); err != nil {
		return models.Node{}, err
	}
	return stored, nil
}

func (p *Processor) upsertChunk(ctx context.Context, doc models.Node, ch models.Chunk, title string) error {
	label := fmt.Sprintf("%s #%d", title, ch.ChunkIndex+1)
	n := models.NewNode(ch.ID, label, models.NodeTypeChunk, 1, time.Now())
	n.Sources = []string{ch.DocumentID}
	n.Metadata[models.MetaOrigin] = models.OriginIngest
	n.Metadata[models.MetaDescription] = utils.Truncate(utils.CollapseWhitespace(ch.Content), chunkPreviewChars)
	n.Metadata["chunk_index"] = ch.ChunkIndex
	if fp := doc.MetaString(models.MetaFilePath); fp != "" {
		n.Metadata[models.MetaFilePath] = fp
	}
	if _, err := p.store.UpsertNode(ctx, n); err != nil {
		return fmt.Errorf("failed to store chunk node: %w", err)
	}
	return p.link(ctx, models.EdgeContains, doc.ID, ch.ID, 1)
}

// mergeChunk maps one discovery result into the graph: entities are merged through the store's
// dedup policy, the chunk mentions every entity, and discovered relationships become edges
// between the surviving entity ids. It returns the chunk's entity ids and relationship edge ids.
func (p *Processor) mergeChunk(ctx context.Context, item models.QueuedDocument, ch models.Chunk, res discovery.Result) ([]string, []string, error) {
	enriched := enrichment.Enrich(enrichment.FromDiscovery(res.Entities, res.Relationships), ch.Content, item.Path)
	nodes, edges := enrichment.ToGraph(enriched, item.DocumentID)

	remap := make(map[string]string, len(nodes))
	entityIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		stored, err := p.store.MergeEntity(ctx, n)
		if err != nil {
			if models.IsValidation(err) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to merge entity %q: %w", n.Label, err)
		}
		remap[n.ID] = stored.ID
		entityIDs = append(entityIDs, stored.ID)
	}
	sort.Strings(entityIDs)

	var edgeIDs []string
	for _, e := range edges {
		if e.Source == item.DocumentID {
			// document-level links become chunk mentions
			tgt, ok := remap[e.Target]
			if !ok {
				continue
			}
			if err := p.link(ctx, models.EdgeMentions, ch.ID, tgt, e.Confidence); err != nil {
				return nil, nil, err
			}
			continue
		}
		src, okS := remap[e.Source]
		tgt, okT := remap[e.Target]
		if !okS || !okT || src == tgt {
			continue
		}
		if e.Bidirectional && src > tgt {
			src, tgt = tgt, src
		}
		e.ID = fileid.EdgeID(string(e.Type), src, tgt)
		e.Source, e.Target = src, tgt
		if prev, ok := p.store.GetEdge(e.ID); ok {
			e.CreatedAt = prev.CreatedAt
			e.Confidence = utils.MaxFloat(e.Confidence, prev.Confidence)
			e.Weight = utils.MaxFloat(e.Weight, prev.Weight)
		}
		stored, err := p.store.UpsertEdge(ctx, e)
		if err != nil {
			if errors.Is(err, models.ErrSelfLoop) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to store relationship: %w", err)
		}
		edgeIDs = append(edgeIDs, stored.ID)
	}
	return entityIDs, edgeIDs, nil
}

func (p *Processor) link(ctx context.Context, typ models.EdgeType, src, tgt string, conf float64) error {
	e, err := models.NewEdge(fileid.EdgeID(string(typ), src, tgt), typ, src, tgt, 1, conf, time.Now())
	if err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", src, tgt, err)
	}
	if _, err := p.store.UpsertEdge(ctx, e); err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", src, tgt, err)
	}
	return nil
}

// clearPrevious drops chunk records and index entries from an earlier run of the same document,
// and deletes chunk nodes the new chunking no longer produces.
func (p *Processor) clearPrevious(ctx context.Context, docID string, chunks []models.Chunk) error {
	keep := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		keep[ch.ID] = struct{}{}
	}
	for _, e := range p.store.Neighbors(docID) {
		if e.Type != models.EdgeContains || e.Source != docID {
			continue
		}
		if _, ok := keep[e.Target]; ok {
			continue
		}
		if n, ok := p.store.GetNode(e.Target); !ok || n.Type != models.NodeTypeChunk {
			continue
		}
		if _, err := p.store.DeleteNode(ctx, e.Target); err != nil {
			return fmt.Errorf("failed to delete stale chunk %s: %w", e.Target, err)
		}
	}
	if p.backend != nil {
		if err := p.backend.DeleteChunksByDocumentID(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete previous chunks: %w", err)
		}
	}
	if p.keywordIndex != nil {
		if _, err := p.keywordIndex.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete previous keyword entries: %w", err)
		}
	}
	return nil
}

func (p *Processor) storeChunks(ctx context.Context, item models.QueuedDocument, records []*models.Chunk) error {
	if p.backend != nil && len(records) > 0 {
		if err := p.backend.BatchCreateChunks(ctx, records); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
	}
	if p.keywordIndex != nil {
		for _, ch := range records {
			entry := &keyword.Entry{
				ID:         ch.ID,
				Title:      item.Title,
				Content:    ch.Content,
				Kind:       keyword.KindChunk,
				DocumentID: ch.DocumentID,
			}
			if err := p.keywordIndex.Index(ctx, ch.ID, entry); err != nil {
				return fmt.Errorf("failed to index chunk %s: %w", ch.ID, err)
			}
		}
	}
	return nil
}
