// Package catalog loads the CATMAT procurement-items CSV into memory.
//
// Source files arrive from several government export pipelines with
// inconsistent encodings and header spellings, so loading tries a fixed
// chain of encodings and matches the description column against a list of
// known header variants. Row order in the file defines the ordinal space
// used by the vector index: record i corresponds to vector i everywhere
// downstream.
package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrCorpusUnreadable reports that no supported encoding produced a
	// parseable CSV.
	ErrCorpusUnreadable = errors.New("catalog: corpus not readable with any supported encoding")

	// ErrSchema reports a structurally valid CSV whose content is unusable:
	// no description column, or no rows surviving cleanup.
	ErrSchema = errors.New("catalog: invalid corpus schema")
)

// descriptionColumns are the accepted header spellings for the item
// description, in priority order.
var descriptionColumns = []string{
	"Descrição do Item",
	"Descricao do Item",
	"Descrição",
	"Descricao",
	"Description",
}

// Known identifier columns. All optional; a missing column leaves the
// corresponding Record field empty.
const (
	colItemCode  = "Código do Item"
	colClassName = "Nome da Classe"
	colGroupName = "Nome do Grupo"
	colNCMCode   = "Código NCM"
)

// minDescriptionRunes is the shortest description kept after whitespace
// normalization. Shorter entries are catalog noise (codes, dashes,
// placeholder rows) and embed poorly.
const minDescriptionRunes = 10

// Record is one catalog item. Extra holds columns beyond the known set,
// keyed by their original header names.
type Record struct {
	ItemCode    string            `json:"item_code"`
	Description string            `json:"description"`
	ClassName   string            `json:"class_name"`
	GroupName   string            `json:"group_name"`
	NCMCode     string            `json:"ncm_code"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Catalog is the cleaned, ordered corpus. The slice index of a Record is
// its ordinal; every vector and index entry downstream joins back through
// that position.
type Catalog struct {
	Records []Record

	// ExtraColumns lists unmapped header names in file order, so exports
	// can reproduce them deterministically.
	ExtraColumns []string

	// DescColumn is the header variant that matched.
	DescColumn string

	// Encoding is the name of the encoding that loaded the file.
	Encoding string

	// Path is the source file.
	Path string
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.Records) }

// Descriptions returns the cleaned item descriptions in ordinal order.
func (c *Catalog) Descriptions() []string {
	out := make([]string, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.Description
	}
	return out
}

type encodingAttempt struct {
	name string
	cm   *charmap.Charmap // nil means plain UTF-8 validation
}

// encodingChain mirrors the encodings seen in the wild for CATMAT exports.
// latin-1 accepts every byte sequence, so the chain only advances past it
// when the decoded bytes fail to parse as CSV.
var encodingChain = []encodingAttempt{
	{"utf-8", nil},
	{"latin-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load reads and cleans the catalog CSV at path.
//
// Encodings are tried in order; an attempt must both decode and parse as
// CSV to win. When every attempt fails the file is unreadable. A file that
// parses but lacks a recognizable description column, or retains no rows
// after cleaning, fails with ErrSchema.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	rows, encName, err := decodeRows(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	log.Printf("[Catalog] Loaded %s with encoding %s", path, encName)

	cat, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	cat.Encoding = encName
	cat.Path = path
	return cat, nil
}

func decodeRows(data []byte) ([][]string, string, error) {
	for _, att := range encodingChain {
		var decoded []byte
		if att.cm == nil {
			trimmed := bytes.TrimPrefix(data, utf8BOM)
			if !utf8.Valid(trimmed) {
				continue
			}
			decoded = trimmed
		} else {
			var err error
			decoded, err = att.cm.NewDecoder().Bytes(data)
			if err != nil {
				continue
			}
		}

		rows, err := parseCSV(decoded)
		if err != nil || len(rows) == 0 {
			continue
		}
		return rows, att.name, nil
	}
	return nil, "", ErrCorpusUnreadable
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	return r.ReadAll()
}

func fromRows(rows [][]string) (*Catalog, error) {
	header := rows[0]

	descIdx := findColumn(header, descriptionColumns)
	if descIdx < 0 {
		return nil, fmt.Errorf("%w: description column not found (tried %s)",
			ErrSchema, strings.Join(descriptionColumns, ", "))
	}

	itemIdx := findColumn(header, []string{colItemCode})
	classIdx := findColumn(header, []string{colClassName})
	groupIdx := findColumn(header, []string{colGroupName})
	ncmIdx := findColumn(header, []string{colNCMCode})

	mapped := map[int]bool{descIdx: true}
	for _, i := range []int{itemIdx, classIdx, groupIdx, ncmIdx} {
		if i >= 0 {
			mapped[i] = true
		}
	}
	var extraCols []string
	var extraIdx []int
	for i, name := range header {
		if !mapped[i] {
			extraCols = append(extraCols, name)
			extraIdx = append(extraIdx, i)
		}
	}

	initial := len(rows) - 1
	records := make([]Record, 0, initial)
	for _, row := range rows[1:] {
		desc := normalizeSpace(row[descIdx])
		if utf8.RuneCountInString(desc) < minDescriptionRunes {
			continue
		}
		rec := Record{
			Description: desc,
			ItemCode:    fieldAt(row, itemIdx),
			ClassName:   fieldAt(row, classIdx),
			GroupName:   fieldAt(row, groupIdx),
			NCMCode:     fieldAt(row, ncmIdx),
		}
		if len(extraCols) > 0 {
			rec.Extra = make(map[string]string, len(extraCols))
			for j, col := range extraCols {
				rec.Extra[col] = row[extraIdx[j]]
			}
		}
		records = append(records, rec)
	}

	log.Printf("[Catalog] Cleanup done: %d -> %d valid items", initial, len(records))
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no usable rows after cleanup", ErrSchema)
	}

	return &Catalog{
		Records:      records,
		ExtraColumns: extraCols,
		DescColumn:   header[descIdx],
	}, nil
}

// findColumn matches header names against candidates, exact match first,
// then case-insensitive. Returns -1 when nothing matches.
func findColumn(header []string, candidates []string) int {
	for _, want := range candidates {
		for i, name := range header {
			if name == want {
				return i
			}
		}
	}
	for _, want := range candidates {
		for i, name := range header {
			if strings.EqualFold(name, want) {
				return i
			}
		}
	}
	return -1
}

func fieldAt(row []string, idx int) string {
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// normalizeSpace collapses whitespace runs to single spaces and trims the
// ends.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
