// Package report renders batch run summaries as text, markdown, or HTML
// for procurement teams.
package report

import (
	"fmt"
	"html"
	"strings"

	"gonum.org/v1/gonum/stat"

	"catsearch/internal/batch"
)

// Format selects the report output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// bestPerItem caps how many matches each item section shows.
const bestPerItem = 3

// Summary aggregates a batch run.
type Summary struct {
	TotalItems   int     `json:"total_items"`
	TotalResults int     `json:"total_results"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	MeanScore    float64 `json:"mean_score"`
	StdDevScore  float64 `json:"stddev_score"`
}

// Summarize computes run statistics. Succeeded and Failed count items,
// not result rows; the score statistics cover successful rows only.
func Summarize(results []batch.ItemResult) Summary {
	s := Summary{TotalResults: len(results)}

	itemStatus := make(map[int]string)
	var scores []float64
	for _, r := range results {
		if _, seen := itemStatus[r.ItemNumber]; !seen {
			itemStatus[r.ItemNumber] = r.Status
		}
		if r.Status == batch.StatusSuccess {
			scores = append(scores, float64(r.Result.Score))
		}
	}

	s.TotalItems = len(itemStatus)
	for _, status := range itemStatus {
		if status == batch.StatusSuccess {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	if len(scores) > 0 {
		s.MeanScore = stat.Mean(scores, nil)
	}
	if len(scores) > 1 {
		s.StdDevScore = stat.StdDev(scores, nil)
	}
	return s
}

// Render formats a batch run for the given format.
func Render(run *batch.Run, format Format) (string, error) {
	if run == nil || len(run.Results) == 0 {
		return "Nenhum dado para gerar relatório.", nil
	}

	summary := Summarize(run.Results)
	items := groupByItem(run.Results)

	switch format {
	case FormatText:
		return renderText(run, summary, items), nil
	case FormatMarkdown:
		return renderMarkdown(run, summary, items), nil
	case FormatHTML:
		return renderHTML(run, summary, items), nil
	default:
		return "", fmt.Errorf("report: unknown format %q", format)
	}
}

// itemGroup is one requested item with its result rows in rank order.
type itemGroup struct {
	number int
	rows   []batch.ItemResult
}

func groupByItem(results []batch.ItemResult) []itemGroup {
	var groups []itemGroup
	byNumber := make(map[int]int)
	for _, r := range results {
		idx, ok := byNumber[r.ItemNumber]
		if !ok {
			idx = len(groups)
			byNumber[r.ItemNumber] = idx
			groups = append(groups, itemGroup{number: r.ItemNumber})
		}
		groups[idx].rows = append(groups[idx].rows, r)
	}
	return groups
}

func renderText(run *batch.Run, s Summary, items []itemGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RELATÓRIO DE BUSCA EM LOTE\n%s\n\n", strings.Repeat("=", 50))
	fmt.Fprintf(&b, "Execução: %s\n", run.ID)
	fmt.Fprintf(&b, "Duração: %.1fs\n\n", run.FinishedAt.Sub(run.StartedAt).Seconds())
	b.WriteString("ESTATÍSTICAS GERAIS:\n")
	fmt.Fprintf(&b, "- Itens Processados: %d\n", s.TotalItems)
	fmt.Fprintf(&b, "- Total de Resultados: %d\n", s.TotalResults)
	fmt.Fprintf(&b, "- Sucessos: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "- Erros: %d\n", s.Failed)
	fmt.Fprintf(&b, "- Score Médio: %.3f\n\n", s.MeanScore)
	fmt.Fprintf(&b, "DETALHES POR ITEM:\n%s\n", strings.Repeat("-", 50))

	for _, g := range items {
		first := g.rows[0]
		fmt.Fprintf(&b, "\nItem %d: %s\n", g.number, first.OriginalItem)
		fmt.Fprintf(&b, "Status: %s\n", first.Status)
		if first.Status != batch.StatusSuccess {
			continue
		}
		b.WriteString("Melhores Resultados:\n")
		for _, r := range best(g.rows) {
			fmt.Fprintf(&b, "  #%d - Score: %.3f\n", r.ItemRank, r.Result.Score)
			fmt.Fprintf(&b, "    Código: %s\n", r.Result.Record.ItemCode)
			fmt.Fprintf(&b, "    Descrição: %s\n", clip(r.Result.Record.Description, 80))
		}
	}
	return b.String()
}

func renderMarkdown(run *batch.Run, s Summary, items []itemGroup) string {
	var b strings.Builder
	b.WriteString("# 📊 Relatório de Busca em Lote\n\n")
	fmt.Fprintf(&b, "Execução `%s` em %.1fs\n\n", run.ID, run.FinishedAt.Sub(run.StartedAt).Seconds())
	b.WriteString("## 📈 Estatísticas Gerais\n\n")
	fmt.Fprintf(&b, "- **Itens Processados:** %d\n", s.TotalItems)
	fmt.Fprintf(&b, "- **Total de Resultados:** %d\n", s.TotalResults)
	fmt.Fprintf(&b, "- **Sucessos:** %d\n", s.Succeeded)
	fmt.Fprintf(&b, "- **Erros:** %d\n", s.Failed)
	fmt.Fprintf(&b, "- **Score Médio:** %.3f\n\n", s.MeanScore)
	b.WriteString("## 📋 Detalhes por Item\n\n")

	for _, g := range items {
		first := g.rows[0]
		fmt.Fprintf(&b, "### Item %d: %s\n\n", g.number, first.OriginalItem)
		fmt.Fprintf(&b, "**Status:** %s\n\n", first.Status)
		if first.Status != batch.StatusSuccess {
			continue
		}
		b.WriteString("**🏆 Melhores Resultados:**\n\n")
		for _, r := range best(g.rows) {
			fmt.Fprintf(&b, "- **#%d** - Score: %.3f\n", r.ItemRank, r.Result.Score)
			fmt.Fprintf(&b, "  - **Código:** %s\n", r.Result.Record.ItemCode)
			fmt.Fprintf(&b, "  - **Descrição:** %s\n\n", clip(r.Result.Record.Description, 100))
		}
	}
	return b.String()
}

func renderHTML(run *batch.Run, s Summary, items []itemGroup) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: 'Segoe UI', Arial, sans-serif; max-width: 1200px; margin: 0 auto; padding: 20px;">` + "\n")
	b.WriteString(`<h1 style="color: #2c3e50; border-bottom: 3px solid #3498db; padding-bottom: 15px;">Relatório de Busca em Lote</h1>` + "\n")

	fmt.Fprintf(&b, `<p style="color: #6c757d;">Execução %s em %.1fs</p>`+"\n",
		html.EscapeString(run.ID), run.FinishedAt.Sub(run.StartedAt).Seconds())

	b.WriteString(`<div style="background: #f8f9fa; padding: 20px; border-radius: 10px; margin: 20px 0;">` + "\n")
	b.WriteString(`<h2 style="margin-top: 0;">Estatísticas Gerais</h2>` + "\n<ul>\n")
	fmt.Fprintf(&b, "<li><strong>Itens Processados:</strong> %d</li>\n", s.TotalItems)
	fmt.Fprintf(&b, "<li><strong>Total de Resultados:</strong> %d</li>\n", s.TotalResults)
	fmt.Fprintf(&b, `<li><strong>Sucessos:</strong> <span style="color: #28a745;">%d</span></li>`+"\n", s.Succeeded)
	fmt.Fprintf(&b, `<li><strong>Erros:</strong> <span style="color: #dc3545;">%d</span></li>`+"\n", s.Failed)
	fmt.Fprintf(&b, "<li><strong>Score Médio:</strong> %.3f</li>\n", s.MeanScore)
	b.WriteString("</ul>\n</div>\n")

	b.WriteString(`<h2>Detalhes por Item</h2>` + "\n")
	for _, g := range items {
		first := g.rows[0]
		color := "#28a745"
		if first.Status != batch.StatusSuccess {
			color = "#dc3545"
		}
		fmt.Fprintf(&b, `<div style="border-left: 4px solid %s; margin: 20px 0; padding: 15px; background: #f8f9fa; border-radius: 8px;">`+"\n", color)
		fmt.Fprintf(&b, "<h3>Item %d: %s</h3>\n", g.number, html.EscapeString(first.OriginalItem))
		fmt.Fprintf(&b, `<p><strong>Status:</strong> <span style="color: %s;">%s</span></p>`+"\n", color, html.EscapeString(first.Status))

		if first.Status == batch.StatusSuccess {
			b.WriteString("<h4>Melhores Resultados:</h4>\n<ul>\n")
			for _, r := range best(g.rows) {
				fmt.Fprintf(&b, "<li><strong>#%d</strong> - Score: %.3f<br>Código: %s<br>Descrição: %s</li>\n",
					r.ItemRank, r.Result.Score,
					html.EscapeString(r.Result.Record.ItemCode),
					html.EscapeString(clip(r.Result.Record.Description, 100)))
			}
			b.WriteString("</ul>\n")

			if rec := first.Recommendation; rec != "" && rec != "IA desabilitada" {
				fmt.Fprintf(&b, `<div style="background: #e3f2fd; padding: 15px; border-radius: 8px; margin-top: 10px;">`+
					"\n<h5 style=\"color: #1976d2; margin-top: 0;\">Recomendação IA:</h5>\n"+
					`<div style="white-space: pre-wrap;">%s</div>`+"\n</div>\n",
					html.EscapeString(clip(rec, 500)))
			}
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n")
	return b.String()
}

func best(rows []batch.ItemResult) []batch.ItemResult {
	if len(rows) > bestPerItem {
		return rows[:bestPerItem]
	}
	return rows
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
