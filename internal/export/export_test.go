package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"catsearch/internal/batch"
	"catsearch/internal/catalog"
	"catsearch/internal/engine"
)

func searchResults() []engine.Result {
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return []engine.Result{
		{
			Score: 0.95, Rank: 1, Query: "parafuso de aço", Timestamp: ts,
			Record: catalog.Record{
				ItemCode: "123456", Description: "Parafuso de aço inoxidável M6",
				ClassName: "Parafusos", GroupName: "Material de Fixação", NCMCode: "7318.15.00",
				Extra: map[string]string{"Unidade": "UN"},
			},
		},
		{
			Score: 0.82, Rank: 2, Query: "parafuso de aço", Timestamp: ts,
			Record: catalog.Record{
				ItemCode: "234567", Description: "Parafuso de aço carbono M8",
				ClassName: "Parafusos", GroupName: "Material de Fixação", NCMCode: "7318.15.00",
				Extra: map[string]string{"Unidade": "CX"},
			},
		},
	}
}

func batchRun() *batch.Run {
	results := searchResults()
	return &batch.Run{
		ID: "run-1",
		Results: []batch.ItemResult{
			{ItemNumber: 1, OriginalItem: "parafuso de aço", Status: batch.StatusSuccess,
				ItemRank: 1, Result: results[0], Recommendation: "IA desabilitada"},
			{ItemNumber: 1, OriginalItem: "parafuso de aço", Status: batch.StatusSuccess,
				ItemRank: 2, Result: results[1], Recommendation: "IA desabilitada"},
			{ItemNumber: 2, OriginalItem: "peça inexistente", Status: batch.StatusError,
				ItemRank: 1, Result: engine.Result{
					Record: catalog.Record{ItemCode: "N/A", Description: "Erro ao processar: no results"},
				}, Recommendation: "Erro: no results"},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM), "csv should start with a UTF-8 BOM")

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSearchCSV(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.SearchCSV(searchResults(), []string{"Unidade"})
	require.NoError(t, err)
	require.Contains(t, path, "busca_parafuso_de_aço_")
	require.True(t, strings.HasSuffix(path, ".csv"))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, append(append([]string{}, searchColumns...), "Unidade"), rows[0])
	require.Equal(t, "123456", rows[1][1])
	require.Equal(t, "Parafuso de aço inoxidável M6", rows[1][2])
	require.Equal(t, "parafuso de aço", rows[1][6])
	require.Equal(t, "UN", rows[1][8])
	require.Equal(t, "CX", rows[2][8])
}

func TestSearchCSV_Empty(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.SearchCSV(nil, nil)
	require.Error(t, err)
}

func TestSearchJSON(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.SearchJSON(searchResults(), "🥇 Recomendo o 123456")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "parafuso de aço", doc["query"])
	require.Equal(t, float64(2), doc["total_resultados"])
	require.Contains(t, doc["recomendacao_ia"], "123456")

	records := doc["resultados"].([]any)
	require.Len(t, records, 2)
	first := records[0].(map[string]any)
	require.Equal(t, "123456", first["Código do Item"])
	require.Equal(t, "UN", first["Unidade"])
}

func TestSearchJSON_NoRecommendationKey(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.SearchJSON(searchResults(), "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	_, present := doc["recomendacao_ia"]
	require.False(t, present)
}

func TestRecommendationText(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.RecommendationText("parafuso", "🥇 PRIMEIRA OPÇÃO\nCódigo: 123456")
	require.NoError(t, err)
	require.Contains(t, path, "recomendacao_parafuso_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "Query: parafuso")
	require.Contains(t, string(data), "Código: 123456")
}

func TestBatchCSV(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.BatchCSV(batchRun(), "meu_lote", []string{"Unidade"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "meu_lote.csv"))

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	require.Equal(t, "Numero_Item", rows[0][0])
	require.Equal(t, "Recomendacao_IA", rows[0][7])
	require.Equal(t, "Unidade", rows[0][len(rows[0])-1])

	require.Equal(t, []string{"1", "parafuso de aço", "Sucesso"}, rows[1][:3])
	require.Equal(t, "123456", rows[1][5])
	require.Equal(t, "2", rows[3][0])
	require.Equal(t, "Erro", rows[3][2])
	require.Equal(t, "N/A", rows[3][5])
}

func TestBatchJSON(t *testing.T) {
	e := New(t.TempDir())

	path, err := e.BatchJSON(batchRun(), "")
	require.NoError(t, err)
	require.Contains(t, path, "busca_lote_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Metadata struct {
			RunID           string  `json:"run_id"`
			TotalItens      int     `json:"total_itens"`
			TotalResultados int     `json:"total_resultados"`
			ItensSucesso    int     `json:"itens_sucesso"`
			ScoreMedio      float64 `json:"score_medio"`
		} `json:"metadata"`
		Itens []struct {
			NumeroItem int    `json:"numero_item"`
			Status     string `json:"status"`
			Resultados []struct {
				Ranking int     `json:"ranking"`
				Score   float64 `json:"score"`
				Codigo  string  `json:"codigo"`
			} `json:"resultados"`
		} `json:"itens"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	require.Equal(t, "run-1", doc.Metadata.RunID)
	require.Equal(t, 2, doc.Metadata.TotalItens)
	require.Equal(t, 3, doc.Metadata.TotalResultados)
	require.Equal(t, 1, doc.Metadata.ItensSucesso)

	require.Len(t, doc.Itens, 2)
	require.Len(t, doc.Itens[0].Resultados, 2)
	require.Equal(t, 1, doc.Itens[0].Resultados[0].Ranking)
	require.Equal(t, "123456", doc.Itens[0].Resultados[0].Codigo)
	require.Equal(t, batch.StatusError, doc.Itens[1].Status)
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"parafuso de aço":   "parafuso_de_aço",
		"cabo (cat-6) 305m": "cabo_cat-6_305m",
		"a/b\\c:d":          "abcd",
	}
	for in, want := range cases {
		require.Equal(t, want, cleanName(in), "cleanName(%q)", in)
	}

	long := strings.Repeat("a", 80)
	require.Len(t, []rune(cleanName(long)), 50)
}
