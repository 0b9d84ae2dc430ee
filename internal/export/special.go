package export

import (
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"catsearch/internal/batch"
	"catsearch/internal/store"
)

// specialHeader is the column set of the hash-delimited report CSV.
var specialHeader = []string{
	"Item",
	"Descricao",
	"Codigo_Catmat_1",
	"Descricao_Catmat_1",
	"Porque_IA_1",
	"Codigo_Catmat_2",
	"Descricao_Catmat_2",
	"Porque_IA_2",
	"Codigo_Catmat_3",
	"Descricao_Catmat_3",
	"Porque_IA_3",
}

// Recommendation texts follow the advisor's response template; these
// pull the per-option justification out of it. The emoji-less variants
// cover models that drop the medal markers.
var aiPickPatterns = [3]*regexp.Regexp{
	regexp.MustCompile(`(?si)🥇\s*PRIMEIRA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n🥈]+)`),
	regexp.MustCompile(`(?si)🥈\s*SEGUNDA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n🥉]+)`),
	regexp.MustCompile(`(?si)🥉\s*TERCEIRA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n💡]+)`),
}

var aiPickFallbacks = [3]*regexp.Regexp{
	regexp.MustCompile(`(?si)PRIMEIRA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n]+)`),
	regexp.MustCompile(`(?si)SEGUNDA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n]+)`),
	regexp.MustCompile(`(?si)TERCEIRA\s+OPÇÃO.*?Código:\s*([^\n]+).*?Por que:\s*([^\n]+)`),
}

// aiPicks holds the extracted top-3 recommendation slots.
type aiPicks struct {
	codes   [3]string
	reasons [3]string
}

// extractPicks parses the advisor's structured response into the three
// recommendation slots, with fixed fallbacks when extraction fails.
func extractPicks(text string) aiPicks {
	p := aiPicks{}
	if text == "" || text == "IA desabilitada" {
		for i := range p.codes {
			p.codes[i] = "N/A"
			p.reasons[i] = "IA não utilizada"
		}
		return p
	}

	for i := range p.codes {
		p.codes[i] = "N/A"
		p.reasons[i] = "Não extraída"
	}
	for i, re := range aiPickPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			p.codes[i] = strings.TrimSpace(m[1])
			p.reasons[i] = strings.TrimSpace(m[2])
		}
	}
	if p.codes[0] == "N/A" {
		for i, re := range aiPickFallbacks {
			if m := re.FindStringSubmatch(text); m != nil {
				p.codes[i] = strings.TrimSpace(m[1])
				p.reasons[i] = strings.TrimSpace(m[2])
			}
		}
	}
	return p
}

// SpecialCSV exports the hash-delimited report: one line per item with
// its top 3 matches and the AI justification for each.
func (e *Exporter) SpecialCSV(run *batch.Run, filename string) (string, error) {
	if run == nil || len(run.Results) == 0 {
		return "", fmt.Errorf("export: no results to export")
	}

	if filename == "" {
		filename = fmt.Sprintf("relatorio_especial_%s", time.Now().Format("20060102_150405"))
	}
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	path := filepath.Join(e.dir, filename+".csv")

	lines := []string{strings.Join(specialHeader, "#")}

	var itemOrder []int
	rowsByItem := make(map[int][]batch.ItemResult)
	for _, r := range run.Results {
		if _, ok := rowsByItem[r.ItemNumber]; !ok {
			itemOrder = append(itemOrder, r.ItemNumber)
		}
		rowsByItem[r.ItemNumber] = append(rowsByItem[r.ItemNumber], r)
	}

	for _, num := range itemOrder {
		rows := rowsByItem[num]
		first := rows[0]

		if first.Status != batch.StatusSuccess {
			line := []string{
				sanitizeField(first.OriginalItem),
				"ERRO: " + first.Status,
			}
			for i := 0; i < 3; i++ {
				line = append(line, "N/A", "Erro no processamento", "Erro no processamento")
			}
			lines = append(lines, strings.Join(line, "#"))
			continue
		}

		picks := extractPicks(first.Recommendation)
		line := []string{
			sanitizeField(first.OriginalItem),
			sanitizeField(first.OriginalItem),
		}
		for i := 0; i < 3; i++ {
			if i < len(rows) {
				line = append(line,
					sanitizeField(rows[i].Result.Record.ItemCode),
					sanitizeField(rows[i].Result.Record.Description),
					sanitizeField(picks.reasons[i]))
			} else {
				line = append(line, "N/A", "Sem resultado suficiente", "Não disponível")
			}
		}
		lines = append(lines, strings.Join(line, "#"))
	}

	data := append(append([]byte{}, utf8BOM...), []byte(strings.Join(lines, "\n"))...)
	if err := store.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	log.Printf("[Export] Special report written to %s", path)
	return path, nil
}

// sanitizeField keeps values from breaking the hash-delimited format.
func sanitizeField(s string) string {
	s = strings.ReplaceAll(s, "#", "-")
	return strings.Join(strings.Fields(s), " ")
}
