// Package batch runs many catalog searches as one job, producing a flat
// result table suitable for reports and spreadsheet export.
//
// Items are isolated: one item failing to resolve produces a single
// error row and never aborts the rest of the job. AI recommendations are
// best-effort per item and never change an item's status.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"catsearch/internal/advisor"
	"catsearch/internal/catalog"
	"catsearch/internal/engine"
)

// DefaultTopK is the per-item result count when the caller passes none.
const DefaultTopK = 5

// Status labels kept in Portuguese: exports and reports surface them to
// procurement users directly.
const (
	StatusSuccess = "Sucesso"
	StatusError   = "Erro"
)

// ErrNoItems reports an empty batch request.
var ErrNoItems = errors.New("batch: no items to process")

// ItemResult is one row of a batch run: a single ranked match for one
// requested item, or the sentinel error row for an item that failed.
type ItemResult struct {
	ItemNumber     int           `json:"item_number"`
	OriginalItem   string        `json:"original_item"`
	Status         string        `json:"status"`
	ItemRank       int           `json:"item_rank"`
	Result         engine.Result `json:"result"`
	Recommendation string        `json:"recommendation,omitempty"`
}

// Run is the outcome of one batch job.
type Run struct {
	ID         string       `json:"id"`
	Items      []string     `json:"items"`
	Results    []ItemResult `json:"results"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Options tunes a batch run.
type Options struct {
	TopK  int
	UseAI bool

	// Progress, when set, is called before each item with the 1-based
	// item number, the total, and the item text.
	Progress func(done, total int, item string)
}

// Processor coordinates searches and recommendations for batch jobs.
type Processor struct {
	engine  *engine.Engine
	advisor *advisor.Advisor
}

// New creates a processor. The advisor may be nil; items then carry the
// AI-disabled marker.
func New(eng *engine.Engine, adv *advisor.Advisor) *Processor {
	return &Processor{engine: eng, advisor: adv}
}

// Process runs every item through search (and optionally the advisor),
// sequentially, collecting one result row per match. Items that fail
// produce a single error row; the run itself only fails on an empty item
// list or a cancelled context.
func (p *Processor) Process(ctx context.Context, items []string, opts Options) (*Run, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	run := &Run{
		ID:        uuid.New().String(),
		Items:     items,
		StartedAt: time.Now(),
	}
	log.Printf("[Batch] Run %s: processing %d items (top_k=%d, ai=%v)", run.ID, len(items), topK, opts.UseAI)

	for i, raw := range items {
		if err := ctx.Err(); err != nil {
			run.FinishedAt = time.Now()
			return run, err
		}

		item := strings.TrimSpace(raw)
		if opts.Progress != nil {
			opts.Progress(i+1, len(items), item)
		}
		log.Printf("[Batch] Item %d/%d: %s", i+1, len(items), truncate(item, 50))

		rows, err := p.processItem(ctx, i+1, item, topK, opts.UseAI)
		if err != nil {
			log.Printf("[Batch] Item %d failed: %v", i+1, err)
			run.Results = append(run.Results, errorRow(i+1, item, err))
			run.Failed++
			continue
		}
		run.Results = append(run.Results, rows...)
		run.Succeeded++
	}

	run.FinishedAt = time.Now()
	log.Printf("[Batch] Run %s completed: %d results for %d items (%d failed)",
		run.ID, len(run.Results), len(items), run.Failed)
	return run, nil
}

func (p *Processor) processItem(ctx context.Context, num int, item string, topK int, useAI bool) ([]ItemResult, error) {
	if item == "" {
		return nil, fmt.Errorf("empty item")
	}

	results, err := p.engine.Search(ctx, item, topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for %q", item)
	}

	recommendation := p.recommend(ctx, item, results, useAI)

	rows := make([]ItemResult, len(results))
	for i, r := range results {
		rows[i] = ItemResult{
			ItemNumber:     num,
			OriginalItem:   item,
			Status:         StatusSuccess,
			ItemRank:       i + 1,
			Result:         r,
			Recommendation: recommendation,
		}
	}
	return rows, nil
}

func (p *Processor) recommend(ctx context.Context, item string, results []engine.Result, useAI bool) string {
	if !useAI || p.advisor == nil {
		return "IA desabilitada"
	}

	rec, err := p.advisor.Recommend(ctx, item, results)
	switch {
	case err == nil:
		return rec
	case errors.Is(err, advisor.ErrUnavailable):
		return "IA indisponível: chave não configurada"
	default:
		log.Printf("WARNING: AI recommendation for %q failed: %v", truncate(item, 50), err)
		return fmt.Sprintf("Erro na análise IA: %v", err)
	}
}

// errorRow is the sentinel row for a failed item, shaped like a real
// result so exports keep a uniform table.
func errorRow(num int, item string, err error) ItemResult {
	return ItemResult{
		ItemNumber:   num,
		OriginalItem: item,
		Status:       StatusError,
		ItemRank:     1,
		Result: engine.Result{
			Record: catalog.Record{
				ItemCode:    "N/A",
				Description: "Erro ao processar: " + err.Error(),
			},
			Query:     item,
			Timestamp: time.Now(),
		},
		Recommendation: "Erro: " + err.Error(),
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
