package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"

	"catsearch/internal/engine"
)

// ResultsViewModel manages the scrollable results viewport
type ResultsViewModel struct {
	Query          string
	Results        []engine.Result
	Recommendation string
	Viewport       viewport.Model
	Width          int
	Height         int
	Styles         Styles
}

// NewResultsViewModel creates a new results view
func NewResultsViewModel(styles Styles) ResultsViewModel {
	vp := viewport.New(80, 20)
	vp.SetContent("")
	return ResultsViewModel{
		Viewport: vp,
		Styles:   styles,
	}
}

// SetSize updates the viewport dimensions
func (v *ResultsViewModel) SetSize(width, height int) {
	v.Width = width
	v.Height = height
	v.Viewport.Width = width
	v.Viewport.Height = height
	v.refreshContent()
}

// ShowResults replaces the displayed result set
func (v *ResultsViewModel) ShowResults(query string, results []engine.Result) {
	v.Query = query
	v.Results = results
	v.Recommendation = ""
	v.refreshContent()
	v.Viewport.GotoTop()
}

// ShowRecommendation appends the generated analysis below the results
func (v *ResultsViewModel) ShowRecommendation(text string) {
	v.Recommendation = text
	v.refreshContent()
	v.Viewport.GotoBottom()
}

// refreshContent rebuilds the viewport content from the result set
func (v *ResultsViewModel) refreshContent() {
	maxWidth := v.Width - 4
	if maxWidth < 20 {
		maxWidth = 20
	}

	if v.Query == "" {
		v.Viewport.SetContent(v.renderWelcome())
		return
	}

	var sb strings.Builder
	if len(v.Results) == 0 {
		sb.WriteString(v.Styles.Muted.Render(fmt.Sprintf("Nenhum resultado para %q.", v.Query)))
		sb.WriteString("\n")
	}

	for _, r := range v.Results {
		sb.WriteString(v.renderResult(r, maxWidth))
		sb.WriteString("\n")
	}

	if v.Recommendation != "" {
		sb.WriteString(v.Styles.Divider.Render(strings.Repeat("-", maxWidth)))
		sb.WriteString("\n")
		sb.WriteString(v.Styles.AdviceTitle.Render("Análise IA"))
		sb.WriteString("\n")
		sb.WriteString(v.Styles.AdviceBody.Render(wrapText(v.Recommendation, maxWidth)))
		sb.WriteString("\n")
	}

	v.Viewport.SetContent(sb.String())
}

// renderWelcome renders the key reference shown before the first search
func (v *ResultsViewModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString(v.Styles.Bold.Render("Busca semântica no catálogo Catmat"))
	sb.WriteString("\n\n")
	sb.WriteString(v.Styles.Muted.Render(
		"Enter: buscar\n" +
			"Tab: ligar/desligar análise IA\n" +
			"Alt+Up/Down: ajustar top-k\n" +
			"PgUp/PgDn: rolar resultados\n" +
			"Esc ou Ctrl+C: sair"))
	return sb.String()
}

// renderResult renders a single scored catalog match
func (v *ResultsViewModel) renderResult(r engine.Result, maxWidth int) string {
	score := fmt.Sprintf("%.3f", r.Score)
	switch {
	case r.Score >= 0.85:
		score = v.Styles.ScoreHigh.Render(score)
	case r.Score >= 0.70:
		score = v.Styles.ScoreMedium.Render(score)
	default:
		score = v.Styles.ScoreLow.Render(score)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s  %s\n",
		v.Styles.Rank.Render(fmt.Sprintf("%2d.", r.Rank)),
		score,
		v.Styles.ItemCode.Render(r.Record.ItemCode)))

	desc := wrapText(r.Record.Description, maxWidth-4)
	for _, line := range strings.Split(desc, "\n") {
		sb.WriteString("    " + v.Styles.Description.Render(line) + "\n")
	}

	var meta []string
	if r.Record.ClassName != "" {
		meta = append(meta, r.Record.ClassName)
	}
	if r.Record.GroupName != "" {
		meta = append(meta, r.Record.GroupName)
	}
	if r.Record.NCMCode != "" {
		meta = append(meta, "NCM "+r.Record.NCMCode)
	}
	if len(meta) > 0 {
		sb.WriteString("    " + v.Styles.Meta.Render(strings.Join(meta, " | ")) + "\n")
	}
	return sb.String()
}

// View renders the results viewport
func (v ResultsViewModel) View() string {
	return v.Viewport.View()
}

// wrapText wraps text to fit within maxWidth
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		if len(line) <= maxWidth {
			result.WriteString(line)
			continue
		}

		words := strings.Fields(line)
		currentLine := ""
		for _, word := range words {
			if currentLine == "" {
				currentLine = word
			} else if len(currentLine)+1+len(word) <= maxWidth {
				currentLine += " " + word
			} else {
				result.WriteString(currentLine + "\n")
				currentLine = word
			}
		}
		if currentLine != "" {
			result.WriteString(currentLine)
		}
	}

	return result.String()
}
