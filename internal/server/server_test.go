package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"catsearch/internal/batch"
	"catsearch/internal/embed"
	"catsearch/internal/engine"
	"catsearch/internal/history"
)

const testCSV = `Código do Item,Descrição do Item,Nome da Classe,Nome do Grupo,Código NCM
123456,Parafuso de aço inoxidável M6 20mm cabeça panela,Parafusos,Material de Fixação,7318.15.00
234567,Cabo de rede ethernet categoria 6 azul 305 metros,Cabos,Material de Rede,8544.49.00
345678,Tinta acrílica branca fosca para parede interna 18 litros,Tintas,Material de Pintura,3209.10.10
`

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "catmat.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))

	eng, err := engine.New(engine.Config{
		CSVPath:        csvPath,
		EmbeddingsPath: filepath.Join(dir, "embeddings.bin"),
		IndexPath:      filepath.Join(dir, "index.gob"),
	}, embed.NewHashing(256))
	require.NoError(t, err)
	require.NoError(t, eng.Initialize(context.Background(), false))
	return eng
}

func newTestServer(t *testing.T, hist *history.Store) *httptest.Server {
	t.Helper()
	eng := newTestEngine(t)
	s := New(Config{}, eng, batch.New(eng, nil), nil, hist)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })
	return hist
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/search", map[string]interface{}{
		"query": "parafuso de aço",
		"top_k": 2,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Query   string          `json:"query"`
		Total   int             `json:"total"`
		Results []engine.Result `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "parafuso de aço", body.Query)
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Results, 2)
	require.Equal(t, "123456", body.Results[0].Record.ItemCode)
	require.Equal(t, 1, body.Results[0].Rank)
}

func TestSearchEndpoint_EmptyQuery(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/search", map[string]interface{}{"query": "   "})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body["error"], "query is required")
}

func TestSearchEndpoint_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/search", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpoint_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSearchEndpoint_RecordsHistory(t *testing.T) {
	hist := newTestHistory(t)
	ts := newTestServer(t, hist)

	resp := postJSON(t, ts.URL+"/api/search", map[string]interface{}{
		"query": "cabo de rede",
		"top_k": 1,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := hist.RecentSearches(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "cabo de rede", entries[0].Query)
	require.Equal(t, 1, entries[0].Results)
	require.Equal(t, "234567", entries[0].BestItem)
	require.Greater(t, entries[0].BestScore, 0.0)
}

func TestBatchEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/batch", map[string]interface{}{
		"items": []string{"parafuso de aço", "tinta acrílica"},
		"top_k": 1,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run batch.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	require.Equal(t, 2, run.Succeeded)
	require.Equal(t, 0, run.Failed)
	require.Len(t, run.Results, 2)
	require.Equal(t, "123456", run.Results[0].Result.Record.ItemCode)
	require.Equal(t, "345678", run.Results[1].Result.Record.ItemCode)
	require.NotEmpty(t, run.ID)
}

func TestBatchEndpoint_NoItems(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/batch", map[string]interface{}{"items": []string{}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchEndpoint_RecordsHistory(t *testing.T) {
	hist := newTestHistory(t)
	ts := newTestServer(t, hist)

	resp := postJSON(t, ts.URL+"/api/batch", map[string]interface{}{
		"items": []string{"parafuso de aço"},
		"top_k": 2,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := hist.RecentBatches(5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].Items)
	require.Equal(t, 2, entries[0].Results)
	require.Equal(t, 1, entries[0].Succeeded)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["ready"])
	require.Equal(t, float64(3), body["items"])
	require.Equal(t, float64(256), body["dimensions"])
	require.Equal(t, "hash", body["embedder"])
	require.Equal(t, false, body["ai_enabled"])
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, 3, body.Items)
	require.False(t, body.Timestamp.IsZero())
}

func TestHealthEndpoint_NotReady(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "catmat.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))

	eng, err := engine.New(engine.Config{
		CSVPath:        csvPath,
		EmbeddingsPath: filepath.Join(dir, "embeddings.bin"),
		IndexPath:      filepath.Join(dir, "index.gob"),
	}, embed.NewHashing(256))
	require.NoError(t, err)

	s := New(Config{}, eng, batch.New(eng, nil), nil, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "degraded", body.Status)
}

func TestRebuildEndpoint(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "catmat.csv")
	embPath := filepath.Join(dir, "embeddings.bin")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))

	eng, err := engine.New(engine.Config{
		CSVPath:        csvPath,
		EmbeddingsPath: embPath,
		IndexPath:      filepath.Join(dir, "index.gob"),
	}, embed.NewHashing(256))
	require.NoError(t, err)
	require.NoError(t, eng.Initialize(context.Background(), false))

	before, err := os.Stat(embPath)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	s := New(Config{}, eng, batch.New(eng, nil), nil, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/rebuild", map[string]interface{}{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "rebuilding", body["status"])

	require.Eventually(t, func() bool {
		after, err := os.Stat(embPath)
		return err == nil && after.ModTime().After(before.ModTime())
	}, 5*time.Second, 50*time.Millisecond)
}

func TestHistoryEndpoints(t *testing.T) {
	hist := newTestHistory(t)
	ts := newTestServer(t, hist)

	_, err := hist.RecordSearch(history.SearchEntry{Query: "parafuso", TopK: 5, Results: 3})
	require.NoError(t, err)
	_, err = hist.RecordSearch(history.SearchEntry{Query: "cabo", TopK: 5, Results: 2})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/history/searches?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Searches []history.SearchEntry `json:"searches"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Searches, 2)
	require.Equal(t, "cabo", body.Searches[0].Query)
}

func TestHistoryEndpoints_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/history/searches")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBatchWebSocket(t *testing.T) {
	ts := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/batch"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(wsBatchRequest{
		Items: []string{"parafuso de aço", "cabo de rede"},
		TopK:  1,
	}))

	var progress []wsProgress
	var run *batch.Run
	for run == nil {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var probe struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(data, &probe))

		switch probe.Type {
		case "progress":
			var p wsProgress
			require.NoError(t, json.Unmarshal(data, &p))
			progress = append(progress, p)
		case "result":
			var res wsResult
			require.NoError(t, json.Unmarshal(data, &res))
			run = res.Run
		case "error":
			t.Fatalf("unexpected error message: %s", probe.Error)
		default:
			t.Fatalf("unknown message type %q", probe.Type)
		}
	}

	require.Len(t, progress, 2)
	require.Equal(t, 1, progress[0].Done)
	require.Equal(t, 2, progress[0].Total)
	require.Equal(t, "parafuso de aço", progress[0].Item)
	require.Equal(t, 2, progress[1].Done)

	require.Equal(t, 2, run.Succeeded)
	require.Len(t, run.Results, 2)
	require.Equal(t, "123456", run.Results[0].Result.Record.ItemCode)
}

func TestBatchWebSocket_EmptyItems(t *testing.T) {
	ts := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/batch"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(wsBatchRequest{Items: nil}))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var e wsError
	require.NoError(t, json.Unmarshal(data, &e))
	require.Equal(t, "error", e.Type)
	require.Contains(t, e.Error, "items is required")
}
