package carriers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const selectionCSV = `ID,Company Name,Category,Selected
12345,Acme Mutual,A,1
67890,Umbrella Life,B,0
54321,Globex Assurance,,yes

99999,,A,1
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile_CSV(t *testing.T) {
	carriers, err := ImportFile(writeTemp(t, "selection.csv", selectionCSV))
	require.NoError(t, err)
	// The nameless row is dropped.
	require.Len(t, carriers, 3)

	assert.Equal(t, "12345", carriers[0].NAIC)
	assert.Equal(t, "Acme Mutual", carriers[0].CompanyName)
	assert.Equal(t, 0, carriers[0].Category)
	assert.True(t, carriers[0].Selected)

	assert.Equal(t, 1, carriers[1].Category)
	assert.False(t, carriers[1].Selected)

	// Blank category maps to the catch-all bucket.
	assert.Equal(t, 2, carriers[2].Category)
	assert.True(t, carriers[2].Selected)
}

func TestImportFile_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Carriers")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"NAIC", "Company", "Category"},
		{"12345", "Acme Mutual", "a"},
		{"67890", "Umbrella Life", "B"},
	} {
		r := sheet.AddRow()
		for _, v := range row {
			r.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "selection.xlsx")
	require.NoError(t, f.Save(path))

	carriers, err := ImportFile(path)
	require.NoError(t, err)
	require.Len(t, carriers, 2)
	assert.Equal(t, 0, carriers[0].Category)
	assert.Equal(t, 1, carriers[1].Category)
	// No selected column: everything listed is selected.
	assert.True(t, carriers[0].Selected)
}

func TestImportFile_UnsupportedExtension(t *testing.T) {
	_, err := ImportFile(writeTemp(t, "selection.txt", "nope"))
	require.Error(t, err)
}

func TestImportFile_MissingColumns(t *testing.T) {
	_, err := ImportFile(writeTemp(t, "selection.csv", "Foo,Bar\n1,2\n"))
	require.Error(t, err)
}

func TestMapCategory(t *testing.T) {
	assert.Equal(t, 0, MapCategory("A"))
	assert.Equal(t, 0, MapCategory(" a "))
	assert.Equal(t, 1, MapCategory("b"))
	assert.Equal(t, 2, MapCategory("c"))
	assert.Equal(t, 2, MapCategory(""))
}
