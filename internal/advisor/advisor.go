// Package advisor turns a result set into a purchasing recommendation via
// an OpenAI-compatible chat-completions endpoint.
//
// The advisor is an optional layer: when no API key is configured it
// reports ErrUnavailable and callers carry on with plain search results.
// Advisor failures never fail a search.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"catsearch/internal/engine"
	"catsearch/internal/version"
)

// ErrUnavailable reports that no API key is configured.
var ErrUnavailable = errors.New("advisor: API key not configured, AI recommendations unavailable")

// UnavailableMessage is the user-facing form of ErrUnavailable.
const UnavailableMessage = "Análise IA indisponível: configure a chave de API."

// maxItems caps how many results are sent to the model.
const maxItems = 10

const systemPrompt = "Você é um especialista em compras públicas e análise do Catmat. " +
	"Seja objetivo, prático e focado nas necessidades reais do usuário."

// Config holds the chat-completions client settings.
type Config struct {
	APIKey      string
	Model       string
	URL         string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.URL == "" {
		c.URL = "https://api.openai.com/v1/chat/completions"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 800
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Advisor is a chat-completions client for result analysis.
type Advisor struct {
	cfg    Config
	client *http.Client
}

// New creates an advisor. A missing API key is not an error; the advisor
// simply reports itself unavailable.
func New(cfg Config) *Advisor {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		log.Printf("WARNING: OpenAI API key not found, AI recommendations unavailable")
	}
	return &Advisor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Available reports whether the advisor can make requests.
func (a *Advisor) Available() bool {
	return a.cfg.APIKey != ""
}

// Model returns the configured model name.
func (a *Advisor) Model() string {
	return a.cfg.Model
}

// promptItem is the per-result payload embedded in the prompt. Field
// names stay in Portuguese to match the catalog vocabulary the model is
// asked to reason about.
type promptItem struct {
	Codigo    string `json:"codigo"`
	Descricao string `json:"descricao"`
	Score     string `json:"score"`
	Classe    string `json:"classe"`
	Grupo     string `json:"grupo"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Recommend analyzes search results against the user's query and returns
// the model's purchasing recommendation.
func (a *Advisor) Recommend(ctx context.Context, query string, results []engine.Result) (string, error) {
	if !a.Available() {
		return "", ErrUnavailable
	}
	if len(results) == 0 {
		return "", fmt.Errorf("advisor: no results to analyze")
	}

	log.Printf("[Advisor] Analyzing %d results with %s", len(results), a.cfg.Model)
	started := time.Now()

	prompt, err := buildPrompt(query, results)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]any{
		"model": a.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":  a.cfg.MaxTokens,
		"temperature": a.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("advisor: API error %d: %s", resp.StatusCode, msg)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("advisor: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("advisor: response has no choices")
	}

	log.Printf("[Advisor] AI analysis completed in %.1fs", time.Since(started).Seconds())
	return parsed.Choices[0].Message.Content, nil
}

func buildPrompt(query string, results []engine.Result) (string, error) {
	top := results
	if len(top) > maxItems {
		top = top[:maxItems]
	}

	items := make([]promptItem, len(top))
	for i, r := range top {
		items[i] = promptItem{
			Codigo:    orNA(r.Record.ItemCode),
			Descricao: r.Record.Description,
			Score:     fmt.Sprintf("%.3f", r.Score),
			Classe:    orNA(r.Record.ClassName),
			Grupo:     orNA(r.Record.GroupName),
		}
	}
	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("advisor: marshal items: %w", err)
	}

	return fmt.Sprintf(`Você é um especialista em compras públicas e análise do Catmat (Catálogo de Materiais).

SOLICITAÇÃO DO USUÁRIO: %q

ITENS ENCONTRADOS NA BUSCA SEMÂNTICA:
%s

TAREFA:
1. Analise os itens encontrados considerando a solicitação do usuário
2. Recomende os 3 MELHORES itens que atendem à necessidade
3. Para cada recomendação, explique BREVEMENTE por que é adequada
4. Se houver diferenças importantes entre os itens, destaque-as
5. Se nenhum item for realmente adequado, mencione isso

FORMATO DA RESPOSTA:
🎯 RECOMENDAÇÕES PARA: [solicitação]

🥇 PRIMEIRA OPÇÃO
Código: [código]
Por que: [justificativa breve]

🥈 SEGUNDA OPÇÃO
Código: [código]
Por que: [justificativa breve]

🥉 TERCEIRA OPÇÃO
Código: [código]
Por que: [justificativa breve]

💡 OBSERVAÇÕES IMPORTANTES:
[diferenças relevantes, alertas, ou comentários adicionais]

Seja objetivo e prático. Foque no que realmente importa para a decisão de compra.`, query, encoded), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
