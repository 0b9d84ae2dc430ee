package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

const sampleCSV = `Código do Item,Descrição do Item,Nome da Classe,Nome do Grupo,Código NCM
443342,parafuso de aço inoxidável M6 20mm cabeça sextavada,Ferramentas,Fixadores,73181500
221101,cabo elétrico flexível 2.5mm isolamento PVC,Material Elétrico,Cabos,85444900
330215,tinta acrílica branca fosca lata 18 litros,Tintas,Acabamento,32091010
`

func TestLoad_UTF8(t *testing.T) {
	path := writeFixture(t, "catmat.csv", []byte(sampleCSV))

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", cat.Encoding)
	assert.Equal(t, "Descrição do Item", cat.DescColumn)
	require.Equal(t, 3, cat.Len())

	first := cat.Records[0]
	assert.Equal(t, "443342", first.ItemCode)
	assert.Equal(t, "parafuso de aço inoxidável M6 20mm cabeça sextavada", first.Description)
	assert.Equal(t, "Ferramentas", first.ClassName)
	assert.Equal(t, "Fixadores", first.GroupName)
	assert.Equal(t, "73181500", first.NCMCode)
	assert.Empty(t, cat.ExtraColumns)
}

func TestLoad_UTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(sampleCSV)...)
	path := writeFixture(t, "catmat.csv", data)

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", cat.Encoding)
	assert.Equal(t, "443342", cat.Records[0].ItemCode)
}

func TestLoad_Latin1Fallback(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(sampleCSV))
	require.NoError(t, err)
	path := writeFixture(t, "catmat.csv", encoded)

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "latin-1", cat.Encoding)
	require.Equal(t, 3, cat.Len())
	assert.Equal(t, "parafuso de aço inoxidável M6 20mm cabeça sextavada", cat.Records[0].Description)
}

func TestLoad_DescriptionColumnVariants(t *testing.T) {
	for _, col := range []string{"Descrição do Item", "Descricao do Item", "Descrição", "Descricao", "Description"} {
		csvData := col + "\numa descrição longa o bastante\n"
		path := writeFixture(t, "variant.csv", []byte(csvData))

		cat, err := Load(path)
		require.NoError(t, err, "column %q", col)
		assert.Equal(t, col, cat.DescColumn)
		require.Equal(t, 1, cat.Len())
	}
}

func TestLoad_DescriptionColumnCaseInsensitive(t *testing.T) {
	path := writeFixture(t, "catmat.csv", []byte("DESCRIPTION\numa descrição longa o bastante\n"))

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DESCRIPTION", cat.DescColumn)
}

func TestLoad_MissingDescriptionColumn(t *testing.T) {
	path := writeFixture(t, "catmat.csv", []byte("Código do Item,Preço\n1,2\n"))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestLoad_ShortDescriptionsDropped(t *testing.T) {
	csvData := "Descrição do Item\n" +
		"parafuso de aço inoxidável\n" + // kept
		"curta\n" + // dropped, 5 runes
		"   \n" + // dropped, empty after normalization
		"  cabo   elétrico    flexível  \n" // kept, whitespace collapsed
	path := writeFixture(t, "catmat.csv", []byte(csvData))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())
	assert.Equal(t, "parafuso de aço inoxidável", cat.Records[0].Description)
	assert.Equal(t, "cabo elétrico flexível", cat.Records[1].Description)
}

func TestLoad_AllRowsDroppedIsSchemaError(t *testing.T) {
	path := writeFixture(t, "catmat.csv", []byte("Descrição do Item\nab\ncd\n"))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestLoad_ExtraColumnsPassThrough(t *testing.T) {
	csvData := "Descrição do Item,Unidade,Situação\n" +
		"parafuso de aço inoxidável,UN,Ativo\n"
	path := writeFixture(t, "catmat.csv", []byte(csvData))

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unidade", "Situação"}, cat.ExtraColumns)
	require.Equal(t, 1, cat.Len())
	assert.Equal(t, "UN", cat.Records[0].Extra["Unidade"])
	assert.Equal(t, "Ativo", cat.Records[0].Extra["Situação"])
}

func TestLoad_UnparseableCSV(t *testing.T) {
	// Ragged rows fail the CSV parse for every encoding candidate.
	path := writeFixture(t, "broken.csv", []byte("a,b,c\n1,2\n1,2,3,4\n"))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorpusUnreadable))
}

func TestLoad_FileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestDescriptionsOrder(t *testing.T) {
	path := writeFixture(t, "catmat.csv", []byte(sampleCSV))

	cat, err := Load(path)
	require.NoError(t, err)
	descs := cat.Descriptions()
	require.Len(t, descs, 3)
	assert.Contains(t, descs[0], "parafuso")
	assert.Contains(t, descs[1], "cabo")
	assert.Contains(t, descs[2], "tinta")
}
