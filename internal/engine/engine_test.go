package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"catsearch/internal/embed"
)

const testCSV = `Código do Item,Descrição do Item,Nome da Classe,Nome do Grupo,Código NCM
123456,Parafuso de aço inoxidável M6 20mm cabeça panela,Parafusos,Material de Fixação,7318.15.00
234567,Cabo de rede ethernet categoria 6 azul 305 metros,Cabos,Material de Rede,8544.49.00
345678,Tinta acrílica branca fosca para parede interna 18 litros,Tintas,Material de Pintura,3209.10.10
`

// countingEmbedder wraps the deterministic hashing embedder and counts
// Embed calls, so tests can tell a cache hit from a rebuild.
type countingEmbedder struct {
	inner embed.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) Name() string    { return c.inner.Name() }

type testPaths struct {
	csv        string
	embeddings string
	index      string
}

func writeTestCorpus(t *testing.T, csv string) testPaths {
	t.Helper()
	dir := t.TempDir()
	p := testPaths{
		csv:        filepath.Join(dir, "catmat.csv"),
		embeddings: filepath.Join(dir, "embeddings.bin"),
		index:      filepath.Join(dir, "index.gob"),
	}
	require.NoError(t, os.WriteFile(p.csv, []byte(csv), 0o644))
	return p
}

func newTestEngine(t *testing.T, p testPaths) (*Engine, *countingEmbedder) {
	t.Helper()
	emb := &countingEmbedder{inner: embed.NewHashing(256)}
	eng, err := New(Config{
		CSVPath:        p.csv,
		EmbeddingsPath: p.embeddings,
		IndexPath:      p.index,
		NWorkers:       2,
		BatchSize:      2,
	}, emb)
	require.NoError(t, err)
	return eng, emb
}

func TestSearch_TopResult(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	results, err := eng.Search(context.Background(), "parafuso de aço", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "123456", results[0].Record.ItemCode)
	require.Contains(t, results[0].Record.Description, "Parafuso")
	require.Equal(t, "parafuso de aço", results[0].Query)
	require.Equal(t, 1, results[0].Rank)
	require.Equal(t, 2, results[1].Rank)
	require.False(t, results[0].Timestamp.IsZero())
}

func TestSearch_ExactlyMinKN(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	results, err := eng.Search(context.Background(), "material", 50)
	require.NoError(t, err)
	require.Len(t, results, 3)

	results, err = eng.Search(context.Background(), "material", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestSearch_ScoresDescending(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	results, err := eng.Search(context.Background(), "cabo de rede azul", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		require.Equal(t, i+1, results[i].Rank)
	}
	for _, r := range results {
		require.LessOrEqual(t, r.Score, float32(1.001))
		require.GreaterOrEqual(t, r.Score, float32(-1.001))
	}
}

func TestSearch_SelfRetrieval(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	for i, desc := range []string{
		"Parafuso de aço inoxidável M6 20mm cabeça panela",
		"Cabo de rede ethernet categoria 6 azul 305 metros",
		"Tinta acrílica branca fosca para parede interna 18 litros",
	} {
		results, err := eng.Search(context.Background(), desc, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, desc, results[0].Record.Description, "query %d should retrieve its own record", i)
	}
}

func TestSearch_RepeatConsistent(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	first, err := eng.Search(context.Background(), "tinta para parede", 3)
	require.NoError(t, err)
	second, err := eng.Search(context.Background(), "tinta para parede", 3)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		require.Equal(t, first[i].Record.ItemCode, second[i].Record.ItemCode)
		require.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	results, err := eng.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSearch_BeforeInitialize(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)

	_, err := eng.Search(context.Background(), "parafuso", 5)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_CachedSkipsEmbedding(t *testing.T) {
	p := writeTestCorpus(t, testCSV)

	eng, emb := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))
	require.Greater(t, emb.calls.Load(), int32(0))

	matStat, err := os.Stat(p.embeddings)
	require.NoError(t, err)
	idxStat, err := os.Stat(p.index)
	require.NoError(t, err)

	eng2, emb2 := newTestEngine(t, p)
	require.NoError(t, eng2.Initialize(context.Background(), false))
	require.Equal(t, int32(0), emb2.calls.Load(), "cached artifacts should skip embedding")

	matStat2, err := os.Stat(p.embeddings)
	require.NoError(t, err)
	idxStat2, err := os.Stat(p.index)
	require.NoError(t, err)
	require.Equal(t, matStat.ModTime(), matStat2.ModTime())
	require.Equal(t, idxStat.ModTime(), idxStat2.ModTime())

	results, err := eng2.Search(context.Background(), "parafuso de aço", 1)
	require.NoError(t, err)
	require.Equal(t, "123456", results[0].Record.ItemCode)
}

func TestInitialize_ForceRebuilds(t *testing.T) {
	p := writeTestCorpus(t, testCSV)

	eng, emb := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))
	before := emb.calls.Load()

	require.NoError(t, eng.Rebuild(context.Background()))
	require.Greater(t, emb.calls.Load(), before)
}

func TestInitialize_CorruptMatrixRebuilt(t *testing.T) {
	p := writeTestCorpus(t, testCSV)

	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	require.NoError(t, os.WriteFile(p.embeddings, []byte("not a matrix"), 0o644))

	eng2, emb2 := newTestEngine(t, p)
	require.NoError(t, eng2.Initialize(context.Background(), false))
	require.Greater(t, emb2.calls.Load(), int32(0), "corrupt matrix should force a rebuild")

	results, err := eng2.Search(context.Background(), "parafuso de aço", 1)
	require.NoError(t, err)
	require.Equal(t, "123456", results[0].Record.ItemCode)
}

func TestInitialize_CorpusGrowthInvalidatesCache(t *testing.T) {
	p := writeTestCorpus(t, testCSV)

	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))
	require.Equal(t, 3, eng.Len())

	grown := testCSV + "456789,Luva de procedimento em látex tamanho M caixa com 100,Luvas,Material Hospitalar,4015.12.00\n"
	require.NoError(t, os.WriteFile(p.csv, []byte(grown), 0o644))

	eng2, emb2 := newTestEngine(t, p)
	require.NoError(t, eng2.Initialize(context.Background(), false))
	require.Equal(t, 4, eng2.Len())
	require.Greater(t, emb2.calls.Load(), int32(0), "row-count mismatch should force a rebuild")

	results, err := eng2.Search(context.Background(), "luva de látex", 1)
	require.NoError(t, err)
	require.Equal(t, "456789", results[0].Record.ItemCode)
}

func TestInitialize_MatrixRebuildCascadesToIndex(t *testing.T) {
	p := writeTestCorpus(t, testCSV)

	eng, _ := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	idxStat, err := os.Stat(p.index)
	require.NoError(t, err)

	// Corrupt only the matrix. The persisted index still matches the
	// corpus row count, but it must be rebuilt anyway: it indexes the
	// vectors that are about to be regenerated.
	require.NoError(t, os.WriteFile(p.embeddings, []byte("garbage"), 0o644))
	time.Sleep(20 * time.Millisecond)

	eng2, _ := newTestEngine(t, p)
	require.NoError(t, eng2.Initialize(context.Background(), false))

	idxStat2, err := os.Stat(p.index)
	require.NoError(t, err)
	require.NotEqual(t, idxStat.ModTime(), idxStat2.ModTime(), "index should be rewritten after matrix rebuild")
}

func TestSearch_QueryCacheSingleEmbedCall(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, emb := newTestEngine(t, p)
	require.NoError(t, eng.Initialize(context.Background(), false))

	_, err := eng.Search(context.Background(), "cabo ethernet", 2)
	require.NoError(t, err)
	after := emb.calls.Load()

	_, err = eng.Search(context.Background(), "cabo ethernet", 2)
	require.NoError(t, err)
	require.Equal(t, after, emb.calls.Load(), "repeated query should hit the vector cache")
}

func TestStatus(t *testing.T) {
	p := writeTestCorpus(t, testCSV)
	eng, _ := newTestEngine(t, p)

	s := eng.Status()
	require.False(t, s.Ready)
	require.Equal(t, 0, s.Items)

	require.NoError(t, eng.Initialize(context.Background(), false))

	s = eng.Status()
	require.True(t, s.Ready)
	require.Equal(t, 3, s.Items)
	require.Equal(t, 256, s.Dimensions)
	require.Equal(t, "hash", s.Embedder)
}

func TestEngine_RequiresEmbedder(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestEngine_ExtraColumns(t *testing.T) {
	csv := `Descrição do Item,Unidade de Fornecimento
Parafuso de aço inoxidável M6 20mm,UNIDADE
Cabo de rede ethernet categoria 6 azul,CAIXA
`
	p := writeTestCorpus(t, csv)
	eng, _ := newTestEngine(t, p)

	require.Nil(t, eng.ExtraColumns())
	require.NoError(t, eng.Initialize(context.Background(), false))
	require.Equal(t, []string{"Unidade de Fornecimento"}, eng.ExtraColumns())

	results, err := eng.Search(context.Background(), "parafuso", 1)
	require.NoError(t, err)
	require.Equal(t, "UNIDADE", results[0].Record.Extra["Unidade de Fornecimento"])
}
