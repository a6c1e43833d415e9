package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/tsunagu/internal/extract"
	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/ingest"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/models"
)

const greeterSource = `package demo

func NewGreeter() string {
	return "hello"
}
`

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".pdf", []string{".txt", ".md"}, false},
		{"", []string{".txt"}, false},
		{".go", []string{".GO"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}
	return abs
}

func testIndexer(t *testing.T, opts ...IndexerOption) (*Indexer, *graph.Store, *ingest.Queue) {
	t.Helper()
	store := graph.NewStore()
	queue := ingest.NewQueue()
	opts = append([]IndexerOption{WithQueue(queue)}, opts...)
	return NewIndexer(store, extraction.NewEngine(), opts...), store, queue
}

func TestIndexFile_codeExtractedIntoGraph(t *testing.T) {
	dir := t.TempDir()
	idx, store, queue := testIndexer(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "greeter.go")
	if err := os.WriteFile(fPath, []byte(greeterSource), 0600); err != nil {
		t.Fatal(err)
	}
	outcome, err := idx.IndexFile(ctx, fPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeExtracted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeExtracted)
	}
	if len(queue.List()) != 0 {
		t.Error("code files must not be queued for discovery")
	}

	docID := fileid.FileDocID(mustAbs(fPath))
	doc, ok := store.GetNode(docID)
	if !ok {
		t.Fatal("document node missing")
	}
	if doc.Type != models.NodeTypeDocument || doc.Label != "greeter.go" {
		t.Errorf("unexpected doc: type=%q label=%q", doc.Type, doc.Label)
	}
	if doc.MetaString(models.MetaFilePath) != mustAbs(fPath) {
		t.Errorf("file_path = %q", doc.MetaString(models.MetaFilePath))
	}
	if doc.MetaString(models.MetaOrigin) != models.OriginAST {
		t.Errorf("origin = %q, want %q", doc.MetaString(models.MetaOrigin), models.OriginAST)
	}

	ent, ok := store.FindEntity("NewGreeter")
	if !ok {
		t.Fatal("NewGreeter entity missing")
	}
	if ent.EntityType.Kind() != models.EntityFunction {
		t.Errorf("entity type = %q, want function", ent.EntityType)
	}
	edgeID := fileid.EdgeID(string(models.EdgeContains), docID, ent.ID)
	if _, ok := store.GetEdge(edgeID); !ok {
		t.Error("document should contain the extracted entity")
	}
	wsEdge := fileid.EdgeID(string(models.EdgeContains), store.WorkspaceID(), docID)
	if _, ok := store.GetEdge(wsEdge); !ok {
		t.Error("workspace should contain the document")
	}
}

func TestIndexFile_unchangedFileSkipped(t *testing.T) {
	dir := t.TempDir()
	idx, _, _ := testIndexer(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "greeter.go")
	if err := os.WriteFile(fPath, []byte(greeterSource), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	outcome, err := idx.IndexFile(ctx, fPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("second index: outcome = %q, want %q", outcome, OutcomeSkipped)
	}

	if err := os.WriteFile(fPath, []byte(greeterSource+"\nfunc Farewell() {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	outcome, err = idx.IndexFile(ctx, fPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeExtracted {
		t.Errorf("after change: outcome = %q, want %q", outcome, OutcomeExtracted)
	}
}

func TestIndexFile_documentQueued(t *testing.T) {
	dir := t.TempDir()
	idx, store, queue := testIndexer(t)
	ctx := context.Background()

	fPath := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(fPath, []byte("The billing service owns invoices."), 0600); err != nil {
		t.Fatal(err)
	}
	outcome, err := idx.IndexFile(ctx, fPath, []string{".md"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeQueued {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeQueued)
	}
	items := queue.List()
	if len(items) != 1 {
		t.Fatalf("queued %d items, want 1", len(items))
	}
	docID := fileid.FileDocID(mustAbs(fPath))
	if items[0].DocumentID != docID || items[0].Title != "notes.md" || items[0].Content != "The billing service owns invoices." {
		t.Errorf("unexpected item: %+v", items[0])
	}
	doc, ok := store.GetNode(docID)
	if !ok {
		t.Fatal("document node missing")
	}
	if doc.MetaString(models.MetaOrigin) != models.OriginIngest {
		t.Errorf("origin = %q, want %q", doc.MetaString(models.MetaOrigin), models.OriginIngest)
	}
}

func TestIndexFile_extensionFiltered(t *testing.T) {
	dir := t.TempDir()
	idx, _, _ := testIndexer(t)

	fPath := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(fPath, []byte("#!/bin/bash"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := idx.IndexFile(context.Background(), fPath, []string{".txt", ".md"})
	if !models.IsValidation(err) {
		t.Errorf("expected validation error for disallowed extension, got %v", err)
	}
}

func TestIndexFile_notRegularFile(t *testing.T) {
	dir := t.TempDir()
	idx, _, _ := testIndexer(t)

	if _, err := idx.IndexFile(context.Background(), dir, nil); err == nil {
		t.Error("expected error for directory")
	}
}

func TestIndexFile_nonexistent(t *testing.T) {
	dir := t.TempDir()
	idx, _, _ := testIndexer(t)

	if _, err := idx.IndexFile(context.Background(), filepath.Join(dir, "missing.txt"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIndexFile_excelWithExtractor(t *testing.T) {
	dir := t.TempDir()
	idx, store, queue := testIndexer(t, WithExtractor(extract.NewExtractor()))

	fPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	if _, err := idx.IndexFile(context.Background(), fPath, []string{".xlsx", ".txt"}); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	items := queue.List()
	if len(items) != 1 {
		t.Fatalf("queued %d items, want 1", len(items))
	}
	if items[0].Content != "Sheet1\nExcel searchable content" {
		t.Errorf("content = %q", items[0].Content)
	}
	doc, ok := store.GetNode(fileid.FileDocID(mustAbs(fPath)))
	if !ok {
		t.Fatal("document node missing")
	}
	if doc.MetaString(metaKeyFormat) != "xlsx" {
		t.Errorf("format = %q, want xlsx", doc.MetaString(metaKeyFormat))
	}
}

func TestIndexFile_markdownTitle(t *testing.T) {
	dir := t.TempDir()
	idx, store, queue := testIndexer(t, WithExtractor(extract.NewExtractor()))

	fPath := filepath.Join(dir, "billing.md")
	if err := os.WriteFile(fPath, []byte("# Billing Service\nOwns invoices.\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexFile(context.Background(), fPath, nil); err != nil {
		t.Fatal(err)
	}
	items := queue.List()
	if len(items) != 1 || items[0].Title != "Billing Service" {
		t.Fatalf("queued %+v, want title Billing Service", items)
	}
	doc, _ := store.GetNode(fileid.FileDocID(mustAbs(fPath)))
	if doc.Label != "Billing Service" {
		t.Errorf("document label = %q", doc.Label)
	}
}

func TestIndexFile_emptyDocumentNotQueued(t *testing.T) {
	dir := t.TempDir()
	idx, store, queue := testIndexer(t, WithExtractor(extract.NewExtractor()))

	fPath := filepath.Join(dir, "blank.txt")
	if err := os.WriteFile(fPath, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexFile(context.Background(), fPath, nil); err != nil {
		t.Fatal(err)
	}
	if n := len(queue.List()); n != 0 {
		t.Errorf("queued %d items for an empty document", n)
	}
	if _, ok := store.GetNode(fileid.FileDocID(mustAbs(fPath))); !ok {
		t.Error("empty document should still have a node")
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	idx, _, queue := testIndexer(t)
	ctx := context.Background()

	sub := filepath.Join(dir, "sub")
	hidden := filepath.Join(dir, ".git")
	for _, d := range []string{sub, hidden} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):      "file a",
		filepath.Join(dir, "b.txt"):      "file b",
		filepath.Join(sub, "c.txt"):      "file c",
		filepath.Join(dir, "skip.xyz"):   "skip",
		filepath.Join(hidden, "d.txt"):   "hidden",
		filepath.Join(sub, "greeter.go"): greeterSource,
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.IndexDirectory(ctx, dir, []string{".txt", ".go"})
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if n != 4 {
		t.Errorf("IndexDirectory: indexed %d files, want 4", n)
	}
	if got := len(queue.List()); got != 3 {
		t.Errorf("queued %d documents, want 3", got)
	}

	n, err = idx.IndexDirectory(ctx, dir, []string{".txt", ".go"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second walk indexed %d files, want 0", n)
	}
}

func TestDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	kw, err := keyword.NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	idx, store, _ := testIndexer(t, WithKeywordIndex(kw))
	ctx := context.Background()

	fPath := filepath.Join(dir, "greeter.go")
	if err := os.WriteFile(fPath, []byte(greeterSource), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	docID := fileid.FileDocID(mustAbs(fPath))
	if count, _ := kw.DocCount(); count == 0 {
		t.Fatal("expected entity entries in the keyword index")
	}

	deleted, err := idx.DeletePath(ctx, fPath)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("DeletePath should report the document existed")
	}
	if _, ok := store.GetNode(docID); ok {
		t.Error("document should be deleted")
	}
	if _, ok := store.FindEntity("NewGreeter"); !ok {
		t.Error("entities outlive their document")
	}
	if count, _ := kw.DocCount(); count != 0 {
		t.Errorf("keyword entries left: %d", count)
	}

	deleted, err = idx.DeleteDocument(ctx, docID)
	if err != nil || deleted {
		t.Errorf("second delete = %v, %v; want false, nil", deleted, err)
	}

	outcome, err := idx.IndexFile(ctx, fPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeExtracted {
		t.Errorf("re-index after delete: outcome = %q", outcome)
	}
}
