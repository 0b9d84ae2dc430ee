package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"catsearch/internal/advisor"
	"catsearch/internal/engine"
	"catsearch/internal/history"
)

// ModelConfig holds the configuration for creating a new TUI model
type ModelConfig struct {
	Engine  *engine.Engine
	Advisor *advisor.Advisor // nil disables the AI toggle
	History *history.Store   // nil disables search logging
	TopK    int
}

// Model is the root BubbleTea model
type Model struct {
	config ModelConfig
	styles Styles

	// Sub-models
	input   textinput.Model
	spin    spinner.Model
	results ResultsViewModel

	// Global state
	width  int
	height int
	status engine.Status
	topK   int
	useAI  bool

	// In-flight search state. Seq correlates async responses with the
	// search that requested them; anything older is dropped.
	seq          int
	searching    bool
	recommending bool
	lastQuery    string
	lastCount    int
	lastTook     time.Duration
	errText      string
	quitting     bool
}

const (
	minTopK = 1
	maxTopK = 50
)

// NewModel creates the root TUI model
func NewModel(config ModelConfig) Model {
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Digite a consulta e pressione Enter"
	ti.CharLimit = 500
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = styles.Spinner

	topK := config.TopK
	if topK <= 0 {
		topK = engine.DefaultTopK
	}

	return Model{
		config:  config,
		styles:  styles,
		input:   ti,
		spin:    sp,
		results: NewResultsViewModel(styles),
		status:  config.Engine.Status(),
		topK:    topK,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// aiAvailable reports whether the AI toggle has a configured advisor behind it
func (m *Model) aiAvailable() bool {
	return m.config.Advisor != nil && m.config.Advisor.Available()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()

	case tea.KeyMsg:
		cmd, handled := m.handleKeyMsg(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if m.quitting {
			return m, tea.Quit
		}
		if handled {
			return m, tea.Batch(cmds...)
		}

	case spinner.TickMsg:
		if m.searching || m.recommending {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}

	case SearchDoneMsg:
		if msg.Seq != m.seq {
			break
		}
		m.searching = false
		m.status = m.config.Engine.Status()
		if msg.Err != nil {
			if errors.Is(msg.Err, engine.ErrNotInitialized) {
				m.errText = "índice não inicializado (rode: catsearch index)"
			} else {
				m.errText = msg.Err.Error()
			}
			break
		}
		m.lastCount = len(msg.Results)
		m.lastTook = msg.Took
		m.results.ShowResults(msg.Query, msg.Results)
		if m.useAI && m.aiAvailable() && len(msg.Results) > 0 {
			cmds = append(cmds, m.startRecommend(), m.spin.Tick)
		}

	case RecommendDoneMsg:
		if msg.Seq != m.seq {
			break
		}
		m.recommending = false
		if msg.Err != nil {
			m.errText = "análise IA falhou: " + msg.Err.Error()
			break
		}
		m.results.ShowRecommendation(msg.Text)
	}

	// Update the text input with whatever the key handler left through
	var tiCmd tea.Cmd
	m.input, tiCmd = m.input.Update(msg)
	if tiCmd != nil {
		cmds = append(cmds, tiCmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyMsg processes keyboard input.
// Returns (cmd, handled) where handled=true prevents the text input from also processing the key.
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return tea.Quit, true

	case "enter":
		query := strings.TrimSpace(m.input.Value())
		if query == "" || m.searching {
			return nil, true
		}
		return m.startSearch(query), true

	case "tab":
		if m.aiAvailable() {
			m.useAI = !m.useAI
		}
		return nil, true

	case "alt+up":
		if m.topK < maxTopK {
			m.topK++
		}
		return nil, true

	case "alt+down":
		if m.topK > minTopK {
			m.topK--
		}
		return nil, true

	case "pgup":
		m.results.Viewport.HalfViewUp()
		return nil, true

	case "pgdown":
		m.results.Viewport.HalfViewDown()
		return nil, true
	}

	return nil, false
}

// startSearch kicks off an asynchronous search for query
func (m *Model) startSearch(query string) tea.Cmd {
	m.seq++
	m.searching = true
	m.recommending = false
	m.errText = ""
	m.lastQuery = query

	seq := m.seq
	topK := m.topK
	eng := m.config.Engine
	hist := m.config.History

	search := func() tea.Msg {
		start := time.Now()
		results, err := eng.Search(context.Background(), query, topK)
		took := time.Since(start)
		if err == nil && hist != nil {
			e := history.SearchEntry{
				Query:      query,
				TopK:       topK,
				Results:    len(results),
				DurationMS: took.Milliseconds(),
			}
			if len(results) > 0 {
				e.BestScore = float64(results[0].Score)
				e.BestItem = results[0].Record.ItemCode
			}
			// Logging here would tear the alternate screen; a lost
			// history row is not worth interrupting the session over.
			hist.RecordSearch(e)
		}
		return SearchDoneMsg{Seq: seq, Query: query, Results: results, Took: took, Err: err}
	}
	return tea.Batch(search, m.spin.Tick)
}

// startRecommend kicks off the asynchronous ranking analysis for the last search
func (m *Model) startRecommend() tea.Cmd {
	m.recommending = true

	seq := m.seq
	adv := m.config.Advisor
	query := m.lastQuery
	results := m.results.Results

	return func() tea.Msg {
		text, err := adv.Recommend(context.Background(), query, results)
		return RecommendDoneMsg{Seq: seq, Text: text, Err: err}
	}
}

// updateLayout recalculates sub-model dimensions
func (m *Model) updateLayout() {
	titleBarHeight := 2 // title + border
	statusBarHeight := 1
	inputHeight := 2 // input + border

	resultsHeight := m.height - titleBarHeight - statusBarHeight - inputHeight
	if resultsHeight < 5 {
		resultsHeight = 5
	}

	m.input.Width = m.width - 4
	m.results.SetSize(m.width, resultsHeight)
}

// View renders the entire TUI
func (m Model) View() string {
	if m.quitting {
		return "Até logo!\n"
	}

	var sections []string
	sections = append(sections, m.renderTitleBar())
	sections = append(sections, m.results.View())
	sections = append(sections, m.styles.InputStyle.Width(m.width).Render(m.input.View()))
	sections = append(sections, m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderTitleBar renders the top bar with the corpus summary
func (m Model) renderTitleBar() string {
	title := m.styles.Title.Render("catsearch")
	info := m.styles.Muted.Render(fmt.Sprintf("  %d itens  |  dim %d  |  %s",
		m.status.Items, m.status.Dimensions, m.status.Embedder))
	return m.styles.TitleBar.Width(m.width).Render(title + info)
}

// renderStatusBar renders the bottom status bar
func (m Model) renderStatusBar() string {
	var parts []string

	switch {
	case m.searching:
		parts = append(parts, m.spin.View()+" buscando...")
	case m.recommending:
		parts = append(parts, m.spin.View()+" analisando...")
	case m.status.Ready:
		parts = append(parts, m.styles.StatusReady.Render("* pronto"))
	default:
		parts = append(parts, m.styles.StatusDegraded.Render("x sem índice"))
	}

	parts = append(parts, m.styles.Muted.Render(fmt.Sprintf("top-k %d", m.topK)))
	parts = append(parts, m.styles.Muted.Render(fmt.Sprintf("ef %d", m.status.EfSearch)))

	if m.aiAvailable() {
		if m.useAI {
			parts = append(parts, m.styles.Accent.Render("IA ativa"))
		} else {
			parts = append(parts, m.styles.Muted.Render("IA inativa"))
		}
	}

	if m.errText != "" {
		parts = append(parts, m.styles.Error.Render(m.errText))
	} else if m.lastQuery != "" && !m.searching {
		parts = append(parts, m.styles.Muted.Render(
			fmt.Sprintf("%d resultados em %s", m.lastCount, formatTook(m.lastTook))))
	}

	content := strings.Join(parts, "  |  ")
	return m.styles.StatusBar.Width(m.width).Render(content)
}

// formatTook renders a search duration at a readable precision
func formatTook(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
