package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/akula/imgbot/internal/genclient"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []genclient.CreateRequest
	fn    func(req genclient.CreateRequest) ([][]byte, error)
}

func (g *fakeGenerator) Create(_ context.Context, req genclient.CreateRequest) ([][]byte, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(req)
	}
	return [][]byte{[]byte("img")}, nil
}

func TestParseText(t *testing.T) {
	input := "a sunset\n\n# skip me\n  a forest  \n"
	items, err := ParseText(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Prompt != "a sunset" || items[1].Prompt != "a forest" {
		t.Errorf("prompts = %q, %q", items[0].Prompt, items[1].Prompt)
	}
	if items[0].Index != 1 || items[1].Index != 2 {
		t.Errorf("indexes = %d, %d", items[0].Index, items[1].Index)
	}

	if _, err := ParseText(strings.NewReader("# only comments\n")); err == nil {
		t.Error("ParseText() of empty input should fail")
	}
}

func TestParseJSON(t *testing.T) {
	input := `[
		{"prompt": "a sunset", "aspect_ratio": "16:9", "quantity": 2},
		{"prompt": "a forest"}
	]`
	items, err := ParseJSON(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if items[0].AspectRatio != "16:9" || items[0].Quantity != 2 {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].AspectRatio != "" || items[1].Quantity != 0 {
		t.Errorf("item 1 = %+v", items[1])
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty prompt", input: `[{"prompt": "  "}]`},
		{name: "unknown ratio", input: `[{"prompt": "x", "aspect_ratio": "5:4"}]`},
		{name: "quantity too high", input: `[{"prompt": "x", "quantity": 9}]`},
		{name: "empty array", input: `[]`},
		{name: "not json", input: `prompt`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJSON(strings.NewReader(tt.input)); err == nil {
				t.Errorf("ParseJSON(%q) should fail", tt.input)
			}
		})
	}
}

func TestParseFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "prompts.txt")
	if err := os.WriteFile(txt, []byte("a cat\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	items, err := ParseFile(txt)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}

	bad := filepath.Join(dir, "prompts.csv")
	if err := os.WriteFile(bad, []byte("a cat\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(bad); err == nil {
		t.Error("ParseFile() of .csv should fail")
	}
}

func TestProcess_Sequential(t *testing.T) {
	gen := &fakeGenerator{fn: func(genclient.CreateRequest) ([][]byte, error) {
		return [][]byte{[]byte("one"), []byte("two")}, nil
	}}
	dir := t.TempDir()
	p := NewProcessor(gen, &bytes.Buffer{}, &bytes.Buffer{})

	items := []Item{
		{Index: 1, Prompt: "a sunset", AspectRatio: "16:9", Quantity: 2},
		{Index: 2, Prompt: "a forest"},
	}
	results, err := p.Process(context.Background(), items, &Options{
		OutputDir:          dir,
		DefaultAspectRatio: "1:1",
		DefaultQuantity:    1,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Error != nil {
			t.Errorf("item %d error = %v", r.Index, r.Error)
		}
		if len(r.Paths) != 2 {
			t.Errorf("item %d paths = %d, want 2", r.Index, len(r.Paths))
		}
		for _, path := range r.Paths {
			if _, err := os.Stat(path); err != nil {
				t.Errorf("saved file missing: %v", err)
			}
		}
	}

	if gen.calls[0].AspectRatio != "16:9" || gen.calls[0].N != 2 {
		t.Errorf("call 0 = %+v", gen.calls[0])
	}
	// Unset fields fall back to the run defaults.
	if gen.calls[1].AspectRatio != "1:1" || gen.calls[1].N != 1 {
		t.Errorf("call 1 = %+v", gen.calls[1])
	}
}

func TestProcess_StopOnError(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{fn: func(req genclient.CreateRequest) ([][]byte, error) {
		if req.Prompt == "bad" {
			return nil, boom
		}
		return [][]byte{[]byte("img")}, nil
	}}
	p := NewProcessor(gen, &bytes.Buffer{}, &bytes.Buffer{})

	items := []Item{
		{Index: 1, Prompt: "good"},
		{Index: 2, Prompt: "bad"},
		{Index: 3, Prompt: "never reached"},
	}
	results, err := p.Process(context.Background(), items, &Options{
		OutputDir:   t.TempDir(),
		StopOnError: true,
	})
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Process() error = %v, want wrapping boom", err)
	}
	if results[0].Error != nil {
		t.Errorf("item 1 error = %v, want nil", results[0].Error)
	}
	if len(gen.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(gen.calls))
	}
}

func TestProcess_ParallelCompletesAllItems(t *testing.T) {
	gen := &fakeGenerator{}
	p := NewProcessor(gen, &bytes.Buffer{}, &bytes.Buffer{})

	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{Index: i + 1, Prompt: "p"}
	}
	results, err := p.Process(context.Background(), items, &Options{
		OutputDir: t.TempDir(),
		Parallel:  4,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for i, r := range results {
		if r.Index != i+1 {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if len(r.Paths) != 1 {
			t.Errorf("result %d paths = %d, want 1", i, len(r.Paths))
		}
	}
	if len(gen.calls) != 8 {
		t.Errorf("calls = %d, want 8", len(gen.calls))
	}
}

func TestProcess_PartialImagesSavedOnFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(genclient.CreateRequest) ([][]byte, error) {
		return [][]byte{[]byte("partial")}, errors.New("quota")
	}}
	dir := t.TempDir()
	p := NewProcessor(gen, &bytes.Buffer{}, &bytes.Buffer{})

	results, err := p.Process(context.Background(), []Item{{Index: 1, Prompt: "x"}}, &Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("Process() error = %v (StopOnError off)", err)
	}
	if results[0].Error == nil {
		t.Error("item error not reported")
	}
	if len(results[0].Paths) != 1 {
		t.Errorf("paths = %d, want the partial image saved", len(results[0].Paths))
	}
}
