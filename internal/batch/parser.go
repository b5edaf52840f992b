package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/akula/imgbot/internal/workflow"
)

// Item is one generation request from a batch file.
type Item struct {
	Index       int
	Prompt      string
	AspectRatio string
	Quantity    int
}

type jsonItem struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

// ParseFile reads a prompts file. A .txt file carries one prompt per line
// with # comments; a .json file carries an array of items with optional
// aspect_ratio and quantity.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(file)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
}

func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		items = append(items, Item{Index: index, Prompt: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}
	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if len(jsonItems) == 0 {
		return nil, fmt.Errorf("no prompts found in file")
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		item := Item{
			Index:       i + 1,
			Prompt:      strings.TrimSpace(ji.Prompt),
			AspectRatio: ji.AspectRatio,
			Quantity:    ji.Quantity,
		}
		if err := validateItem(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		items[i] = item
	}
	return items, nil
}

func validateItem(item Item) error {
	if item.Prompt == "" {
		return fmt.Errorf("empty prompt")
	}
	if item.AspectRatio != "" && !slices.Contains(workflow.AspectRatios, item.AspectRatio) {
		return fmt.Errorf("unknown aspect ratio %q", item.AspectRatio)
	}
	if item.Quantity < 0 || item.Quantity > 4 {
		return fmt.Errorf("quantity %d out of range (1-4)", item.Quantity)
	}
	return nil
}
