// Package cli provides output helpers for the tsunagu command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hyperjump/tsunagu/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format. Anything unrecognised is text.
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputJSON:
		return OutputJSON
	case OutputCompact:
		return OutputCompact
	}
	return OutputText
}

// WriteRetrieveResults writes a retrieval response to w in the given format.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		writeRetrieveCompact(w, response)
	default:
		writeRetrieveText(w, response)
	}
	return nil
}

// writeRetrieveCompact prints one tab-separated line per result.
func writeRetrieveCompact(w io.Writer, response *models.RetrieveResponse) {
	for _, r := range response.Results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\n", r.Rank, r.Score, r.Type, r.ID, r.Label)
	}
}

func writeRetrieveText(w io.Writer, response *models.RetrieveResponse) {
	md := response.Metadata
	fmt.Fprintf(w, "\nFound %d results in %dms (strategy: %s, returned %d)\n",
		md.Total, md.QueryTime, md.Strategy, md.Returned)
	var flags []string
	if md.Truncated {
		flags = append(flags, "truncated")
	}
	if md.Cancelled {
		flags = append(flags, "cancelled")
	}
	if md.Reranked {
		flags = append(flags, "reranked")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "(%s)\n", strings.Join(flags, ", "))
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	if sg := response.Subgraph; sg != nil {
		fmt.Fprintf(w, "Subgraph: %d nodes, %d edges\n", sg.Stats.NodeCount, sg.Stats.EdgeCount)
	}
}

func writeOneResult(w io.Writer, result *models.RetrieveResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Base: %.4f, %s)\n",
		result.Rank, result.Score, result.BaseScore, result.Scorer)
	fmt.Fprintf(w, "ID: %s\n", result.ID)
	fmt.Fprintf(w, "Label: %s [%s", result.Label, result.Type)
	if result.Category != "" {
		fmt.Fprintf(w, ", %s", result.Category)
	}
	fmt.Fprintf(w, "]\n")
	if result.Node != nil {
		if p, ok := result.Node.Metadata[models.MetaFilePath].(string); ok && p != "" {
			fmt.Fprintf(w, "Path: %s\n", p)
		}
		if d, ok := result.Node.Metadata[models.MetaDescription].(string); ok && d != "" {
			fmt.Fprintf(w, "\n%s\n", TruncateWords(d, 40))
		}
	}
	fmt.Fprintln(w)
}

// PrintRetrieveResults prints a retrieval response to stdout as text.
func PrintRetrieveResults(response *models.RetrieveResponse) {
	_ = WriteRetrieveResults(os.Stdout, response, OutputText)
}

// WriteQueue writes queue items and their status counts.
func WriteQueue(w io.Writer, items []models.QueuedDocument, counts map[models.QueueStatus]int, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"items": items, "counts": counts})
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, counts[models.QueueStatus(s)]))
	}
	fmt.Fprintf(w, "Queue: %d items (%s)\n", len(items), strings.Join(parts, " "))
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.DocumentID
		}
		fmt.Fprintf(w, "  %s  %-10s %5.1f%%  %s", item.ID, item.Status, item.Progress, Truncate(title, 60))
		if item.Error != "" {
			fmt.Fprintf(w, "  error: %s", Truncate(item.Error, 80))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteStats writes graph statistics.
func WriteStats(w io.Writer, stats models.GraphStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Nodes: %d\nEdges: %d\nDensity: %.6f\n", stats.NodeCount, stats.EdgeCount, stats.Density)
	writeCounts(w, "Nodes by type", stats.NodesByType)
	writeCounts(w, "Edges by type", stats.EdgesByType)
	return nil
}

func writeCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-14s %d\n", k, counts[k])
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
