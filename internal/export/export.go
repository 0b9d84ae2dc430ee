// Package export writes search and batch results to files under a
// results directory: CSV for spreadsheets (BOM-prefixed so Excel detects
// UTF-8), JSON for downstream tooling, and the hash-delimited report CSV
// procurement teams ingest.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"catsearch/internal/batch"
	"catsearch/internal/engine"
	"catsearch/internal/report"
	"catsearch/internal/store"
)

// DefaultResultsDir is where exports land when no directory is
// configured.
const DefaultResultsDir = "resultados"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// searchColumns is the fixed prefix of the per-search CSV; catalog
// pass-through columns follow in file order.
var searchColumns = []string{
	"Score_Similaridade",
	"Código do Item",
	"Descrição do Item",
	"Nome da Classe",
	"Nome do Grupo",
	"Código NCM",
	"Query_Original",
	"Timestamp_Busca",
}

// batchColumns is the fixed prefix of the batch CSV.
var batchColumns = []string{
	"Numero_Item",
	"Item_Original",
	"Status",
	"Ranking_Item",
	"Score_Similaridade",
	"Código do Item",
	"Descrição do Item",
	"Recomendacao_IA",
	"Nome da Classe",
	"Nome do Grupo",
	"Código NCM",
}

// Exporter writes result files into a single directory. Files are
// written atomically; a failed export never leaves a partial file.
type Exporter struct {
	dir string
}

// New creates an exporter rooted at dir, or DefaultResultsDir when
// empty. The directory is created on first write.
func New(dir string) *Exporter {
	if dir == "" {
		dir = DefaultResultsDir
	}
	return &Exporter{dir: dir}
}

// Dir returns the results directory.
func (e *Exporter) Dir() string { return e.dir }

// SearchCSV exports one search's results. extraCols orders the catalog
// pass-through columns appended after the fixed set.
func (e *Exporter) SearchCSV(results []engine.Result, extraCols []string) (string, error) {
	if len(results) == 0 {
		return "", fmt.Errorf("export: no results to export")
	}
	query := results[0].Query
	path := filepath.Join(e.dir, fmt.Sprintf("busca_%s_%s.csv", cleanName(query), timestamp()))

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)

	if err := w.Write(append(append([]string{}, searchColumns...), extraCols...)); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range results {
		row := []string{
			formatScore(r.Score),
			r.Record.ItemCode,
			r.Record.Description,
			r.Record.ClassName,
			r.Record.GroupName,
			r.Record.NCMCode,
			r.Query,
			r.Timestamp.Format(time.RFC3339),
		}
		for _, col := range extraCols {
			row = append(row, r.Record.Extra[col])
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("export: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: flush csv: %w", err)
	}

	if err := store.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	log.Printf("[Export] Results written to %s", path)
	return path, nil
}

// SearchJSON exports one search's results with optional AI
// recommendation attached.
func (e *Exporter) SearchJSON(results []engine.Result, recommendation string) (string, error) {
	if len(results) == 0 {
		return "", fmt.Errorf("export: no results to export")
	}
	query := results[0].Query
	path := filepath.Join(e.dir, fmt.Sprintf("busca_%s_%s.json", cleanName(query), timestamp()))

	records := make([]map[string]any, len(results))
	for i, r := range results {
		rec := map[string]any{
			"Score_Similaridade": r.Score,
			"Código do Item":     r.Record.ItemCode,
			"Descrição do Item":  r.Record.Description,
			"Nome da Classe":     r.Record.ClassName,
			"Nome do Grupo":      r.Record.GroupName,
			"Código NCM":         r.Record.NCMCode,
			"Query_Original":     r.Query,
			"Timestamp_Busca":    r.Timestamp.Format(time.RFC3339),
		}
		for col, val := range r.Record.Extra {
			rec[col] = val
		}
		records[i] = rec
	}

	doc := map[string]any{
		"query":            query,
		"timestamp":        time.Now().Format(time.RFC3339),
		"total_resultados": len(results),
		"resultados":       records,
	}
	if recommendation != "" {
		doc["recomendacao_ia"] = recommendation
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal json: %w", err)
	}
	if err := store.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	log.Printf("[Export] Results written to %s", path)
	return path, nil
}

// RecommendationText saves an AI recommendation alongside the CSV
// export.
func (e *Exporter) RecommendationText(query, recommendation string) (string, error) {
	if recommendation == "" {
		return "", fmt.Errorf("export: empty recommendation")
	}
	path := filepath.Join(e.dir, fmt.Sprintf("recomendacao_%s_%s.txt", cleanName(query), timestamp()))

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Timestamp: %s\n", timestamp())
	b.WriteString(strings.Repeat("=", 50) + "\n")
	b.WriteString(recommendation)

	if err := store.WriteFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// BatchCSV exports a batch run as one flat table. filename may be empty
// for a timestamped default, and may omit the extension.
func (e *Exporter) BatchCSV(run *batch.Run, filename string, extraCols []string) (string, error) {
	if run == nil || len(run.Results) == 0 {
		return "", fmt.Errorf("export: no results to export")
	}
	path := e.runPath(filename, "busca_lote", "csv")

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)

	header := append(append([]string{}, batchColumns...), "Query_Original", "Timestamp_Busca")
	header = append(header, extraCols...)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range run.Results {
		row := []string{
			strconv.Itoa(r.ItemNumber),
			r.OriginalItem,
			r.Status,
			strconv.Itoa(r.ItemRank),
			formatScore(r.Result.Score),
			r.Result.Record.ItemCode,
			r.Result.Record.Description,
			r.Recommendation,
			r.Result.Record.ClassName,
			r.Result.Record.GroupName,
			r.Result.Record.NCMCode,
			r.Result.Query,
			r.Result.Timestamp.Format(time.RFC3339),
		}
		for _, col := range extraCols {
			row = append(row, r.Result.Record.Extra[col])
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("export: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: flush csv: %w", err)
	}

	if err := store.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	log.Printf("[Export] Batch results written to %s", path)
	return path, nil
}

// BatchJSON exports a batch run grouped by item with summary metadata.
func (e *Exporter) BatchJSON(run *batch.Run, filename string) (string, error) {
	if run == nil || len(run.Results) == 0 {
		return "", fmt.Errorf("export: no results to export")
	}
	path := e.runPath(filename, "busca_lote", "json")

	summary := report.Summarize(run.Results)

	type jsonResult struct {
		Ranking      int     `json:"ranking"`
		Score        float32 `json:"score"`
		Codigo       string  `json:"codigo"`
		Descricao    string  `json:"descricao"`
		Recomendacao string  `json:"recomendacao_ia"`
	}
	type jsonItem struct {
		NumeroItem   int          `json:"numero_item"`
		ItemOriginal string       `json:"item_original"`
		Status       string       `json:"status"`
		Resultados   []jsonResult `json:"resultados"`
	}

	var items []jsonItem
	byNumber := make(map[int]int)
	for _, r := range run.Results {
		idx, ok := byNumber[r.ItemNumber]
		if !ok {
			idx = len(items)
			byNumber[r.ItemNumber] = idx
			items = append(items, jsonItem{
				NumeroItem:   r.ItemNumber,
				ItemOriginal: r.OriginalItem,
				Status:       r.Status,
			})
		}
		items[idx].Resultados = append(items[idx].Resultados, jsonResult{
			Ranking:      r.ItemRank,
			Score:        r.Result.Score,
			Codigo:       r.Result.Record.ItemCode,
			Descricao:    r.Result.Record.Description,
			Recomendacao: r.Recommendation,
		})
	}

	doc := map[string]any{
		"metadata": map[string]any{
			"run_id":           run.ID,
			"timestamp":        time.Now().Format(time.RFC3339),
			"total_itens":      summary.TotalItems,
			"total_resultados": summary.TotalResults,
			"itens_sucesso":    summary.Succeeded,
			"score_medio":      summary.MeanScore,
		},
		"itens": items,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal json: %w", err)
	}
	if err := store.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	log.Printf("[Export] Batch results written to %s", path)
	return path, nil
}

func (e *Exporter) runPath(filename, prefix, ext string) string {
	if filename == "" {
		filename = fmt.Sprintf("%s_%s", prefix, timestamp())
	}
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	return filepath.Join(e.dir, filename+"."+ext)
}

func timestamp() string {
	return time.Now().Format("20060102_150405")
}

// cleanName reduces a query to a filename-safe slug: letters, digits,
// spaces, dashes, underscores; spaces collapse to underscores, capped at
// 50 runes.
func cleanName(query string) string {
	var b strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimRight(b.String(), " ")
	clean = strings.ReplaceAll(clean, " ", "_")
	runes := []rune(clean)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

func formatScore(score float32) string {
	return strconv.FormatFloat(float64(score), 'f', 6, 32)
}
