package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/hyperjump/tsunagu/internal/models"
)

func sampleResponse() *models.RetrieveResponse {
	return &models.RetrieveResponse{
		Query: "auth service",
		Results: []*models.RetrieveResult{
			{
				ID:        "ent:auth",
				Label:     "AuthService",
				Type:      models.NodeTypeEntity,
				Source:    models.SourceCode,
				Category:  "security",
				Score:     0.91,
				BaseScore: 0.87,
				Scorer:    "keyword",
				Rank:      1,
				Node: &models.Node{
					ID:    "ent:auth",
					Label: "AuthService",
					Metadata: map[string]interface{}{
						models.MetaFilePath:    "/repo/auth.go",
						models.MetaDescription: "Validates bearer tokens",
					},
				},
			},
		},
		Metadata: models.RetrieveMetadata{
			Strategy:  models.StrategyHybrid,
			Scorers:   []string{"keyword"},
			Total:     3,
			Returned:  1,
			Truncated: true,
			QueryTime: 12,
		},
	}
}

func TestWriteRetrieveResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteRetrieveResults(json): %v", err)
	}
	var decoded models.RetrieveResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.Metadata.QueryTime != 12 {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.Metadata.QueryTime)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].ID != "ent:auth" {
		t.Errorf("decoded results: %+v", decoded.Results)
	}
}

func TestWriteRetrieveResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteRetrieveResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{
		"Found 3 results", "12ms", "truncated", "Rank: 1", "ID: ent:auth",
		"AuthService [entity, security]", "Path: /repo/auth.go", "Validates bearer tokens",
	} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteRetrieveResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "1\t0.9100\tentity\tent:auth\tAuthService\n"
	if buf.String() != want {
		t.Errorf("compact output = %q, want %q", buf.String(), want)
	}
}

func TestWriteRetrieveResults_subgraphSummary(t *testing.T) {
	response := &models.RetrieveResponse{Query: "x"}
	sg := models.NewSnapshot([]models.Node{{ID: "a"}, {ID: "b"}}, []models.Edge{{ID: "e", Source: "a", Target: "b"}})
	response.Subgraph = &sg
	var buf bytes.Buffer
	if err := WriteRetrieveResults(&buf, response, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Subgraph: 2 nodes, 1 edges") {
		t.Errorf("missing subgraph summary:\n%s", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in   string
		want OutputFormat
	}{
		{"json", OutputJSON},
		{" JSON ", OutputJSON},
		{"text", OutputText},
		{"Compact", OutputCompact},
		{"", OutputText},
		{"yaml", OutputText},
	}
	for _, tt := range tests {
		if got := ParseOutputFormat(tt.in); got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteQueue(t *testing.T) {
	items := []models.QueuedDocument{
		{ID: "q1", DocumentID: "doc-1", Title: "notes.md", Status: models.StatusCompleted, Progress: 100},
		{ID: "q2", DocumentID: "doc-2", Status: models.StatusFailed, Error: "llm unavailable"},
	}
	counts := map[models.QueueStatus]int{models.StatusCompleted: 1, models.StatusFailed: 1}

	var buf bytes.Buffer
	if err := WriteQueue(&buf, items, counts, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Queue: 2 items", "completed=1 failed=1", "notes.md", "100.0%", "doc-2", "error: llm unavailable"} {
		if !strings.Contains(out, sub) {
			t.Errorf("queue output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteQueue(&buf, items, counts, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Items  []models.QueuedDocument `json:"items"`
		Counts map[string]int          `json:"counts"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Items) != 2 || decoded.Counts["failed"] != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteStats(t *testing.T) {
	stats := models.GraphStats{
		NodeCount:   3,
		EdgeCount:   2,
		NodesByType: map[string]int{"entity": 2, "document": 1},
		EdgesByType: map[string]int{"contains": 2},
	}
	var buf bytes.Buffer
	if err := WriteStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Nodes: 3", "Edges: 2", "Nodes by type:", "document", "contains"} {
		if !strings.Contains(out, sub) {
			t.Errorf("stats output missing %q:\n%s", sub, out)
		}
	}
	if strings.Index(out, "document") > strings.Index(out, "entity") {
		t.Errorf("types should be sorted:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"empty", "", 5, ""},
		{"short", "hi", 5, "hi"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 5, "hello..."},
		{"multibyte", "つながりグラフ", 4, "つながり..."},
		{"maxLen zero", "ab", 0, "ab"},
		{"maxLen negative", "ab", -1, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.s, tt.maxLen)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		maxWords int
		want     string
	}{
		{"empty", "", 3, ""},
		{"few words", "one two", 3, "one two"},
		{"exact", "one two three", 3, "one two three"},
		{"more", "one two three four", 3, "one two three..."},
		{"single long", "word", 1, "word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateWords(tt.s, tt.maxWords)
			if got != tt.want {
				t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
			}
		})
	}
}

func TestPrintRetrieveResults(t *testing.T) {
	response := &models.RetrieveResponse{Query: "print test"}
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
		_ = w.Close()
	}()
	PrintRetrieveResults(response)
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("PrintRetrieveResults should write to stdout; got %q", buf.String())
	}
}
