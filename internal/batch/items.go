package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Request is a parsed batch request file: the queries to run plus the
// per-run overrides the file may set.
type Request struct {
	Items []string
	TopK  int   // 0 when the file does not set it
	UseAI *bool // nil when the file does not set it
}

// ParseRequestFile reads a batch request file. Files with a .yaml or
// .yml extension may hold a plain list of queries or a mapping with a
// "queries" (or "items") list plus optional top_k and use_ai overrides;
// anything else is read line by line, skipping blanks and #-comments.
func ParseRequestFile(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("batch: read request file: %w", err)
	}

	var req *Request
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		req, err = parseYAMLRequest(data)
		if err != nil {
			return nil, fmt.Errorf("batch: parse %s: %w", path, err)
		}
	default:
		req = &Request{Items: parseTextItems(data)}
	}

	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	return req, nil
}

// ParseItemsFile reads only the query list of a request file.
func ParseItemsFile(path string) ([]string, error) {
	req, err := ParseRequestFile(path)
	if err != nil {
		return nil, err
	}
	return req.Items, nil
}

func parseYAMLRequest(data []byte) (*Request, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return &Request{Items: cleanItems(list)}, nil
	}

	var doc struct {
		Queries []string `yaml:"queries"`
		Items   []string `yaml:"items"`
		TopK    int      `yaml:"top_k"`
		UseAI   *bool    `yaml:"use_ai"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	items := doc.Queries
	if len(items) == 0 {
		items = doc.Items
	}
	return &Request{Items: cleanItems(items), TopK: doc.TopK, UseAI: doc.UseAI}, nil
}

func parseTextItems(data []byte) []string {
	var items []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	return items
}

func cleanItems(raw []string) []string {
	var items []string
	for _, it := range raw {
		it = strings.TrimSpace(it)
		if it != "" {
			items = append(items, it)
		}
	}
	return items
}
