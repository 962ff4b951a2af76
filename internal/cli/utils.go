// Package cli provides the shiryo command line client and output formatting.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates an -output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (index: %s)\n\n", response.Total, response.QueryTime, response.IndexMode)
	for i, hit := range response.Hits {
		writeHit(w, i+1, hit)
	}
	return nil
}

func writeHit(w io.Writer, rank int, hit *models.SearchHit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "#%d  Score: %.4f", rank, hit.Score)
	if hit.KeywordRank > 0 {
		fmt.Fprintf(w, "  keyword #%d", hit.KeywordRank)
	}
	if hit.VectorRank > 0 {
		fmt.Fprintf(w, "  vector #%d", hit.VectorRank)
	}
	if hit.Penalized {
		fmt.Fprintf(w, "  [%s, demoted]", hit.DedupStatus)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Document %d: %s", hit.DocID, hit.Filename)
	if hit.Page != nil {
		fmt.Fprintf(w, " (page %d)", *hit.Page)
	}
	fmt.Fprintln(w)
	if hit.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", hit.Title)
	}
	if hit.SectionTitle != "" {
		fmt.Fprintf(w, "Section: %s\n", hit.SectionTitle)
	}
	text := hit.Snippet
	if text == "" {
		text = utils.Truncate(hit.Content, 200)
	}
	fmt.Fprintf(w, "\n%s\n\n", text)
}

// WriteStatus writes a status document.
func WriteStatus(w io.Writer, status map[string]any, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := status[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "\n# %s\n", k)
			if err := WriteStatus(w, v, format); err != nil {
				return err
			}
		default:
			fmt.Fprintf(w, "%-22s %v\n", k+":", formatValue(v))
		}
	}
	return nil
}

func formatValue(v any) any {
	// JSON numbers decode as float64; print integral values without a fraction.
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

// WriteClusters writes dedup clusters with their members.
func WriteClusters(w io.Writer, clusters []*models.DedupCluster, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, clusters)
	}
	if len(clusters) == 0 {
		fmt.Fprintln(w, "No duplicate clusters.")
		return nil
	}
	for _, c := range clusters {
		writeCluster(w, c)
	}
	return nil
}

func writeCluster(w io.Writer, c *models.DedupCluster) {
	manual := ""
	if c.ManualPrimary {
		manual = " (manual)"
	}
	fmt.Fprintf(w, "Cluster %d [%s] primary=%d%s\n", c.ID, c.Method, c.PrimaryDocID, manual)
	for _, m := range c.Members {
		marker := " "
		if m.IsPrimary {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s doc %d  similarity %.3f\n", marker, m.DocID, m.SimilarityScore)
	}
}

// WriteCluster writes one cluster.
func WriteCluster(w io.Writer, c *models.DedupCluster, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, c)
	}
	writeCluster(w, c)
	return nil
}

// WriteScanReport writes the summary of a dedup rescan.
func WriteScanReport(w io.Writer, r *dedup.ScanReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Rescan (%s): %d candidates, %d pairs, %d clusters, %d documents changed\n",
		r.Method, r.Candidates, r.Pairs, r.Clusters, len(r.Changed))
	return nil
}

// WriteDocument writes a document summary.
func WriteDocument(w io.Writer, d *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	fmt.Fprintf(w, "Document %d: %s [%s, dedup %s]\n", d.ID, d.Filename, d.Status, d.DedupStatus)
	if d.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", d.LastError)
	}
	return nil
}

// ReorderArgs moves flags that follow positional arguments to the front so that
// flag.Parse sees them; the flag package stops at the first positional argument.
func ReorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// JoinQuery joins positional arguments so multi-word queries work with or without
// shell quoting.
func JoinQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
