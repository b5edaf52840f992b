// Package batch runs generation requests from a prompts file straight
// against the generation client, bypassing the conversational flow. It is
// the bulk counterpart of the bot's create flow.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/akula/imgbot/internal/genclient"
	"github.com/akula/imgbot/internal/security"
)

// Generator issues create requests; satisfied by *genclient.Client.
type Generator interface {
	Create(ctx context.Context, req genclient.CreateRequest) ([][]byte, error)
}

// Result is the outcome of one batch item.
type Result struct {
	Index    int
	Prompt   string
	Paths    []string
	Error    error
	Duration time.Duration
}

// Options control a batch run.
type Options struct {
	OutputDir          string
	DefaultAspectRatio string
	DefaultQuantity    int
	Parallel           int
	StopOnError        bool
	Delay              time.Duration
}

// Processor executes batch items and saves the produced images.
type Processor struct {
	client Generator
	out    io.Writer
	err    io.Writer
	outMu  sync.Mutex
}

func NewProcessor(client Generator, out, errOut io.Writer) *Processor {
	return &Processor{client: client, out: out, err: errOut}
}

func (p *Processor) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

// Process runs every item, sequentially or with opts.Parallel workers.
// Results are indexed like items regardless of completion order.
func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, items, opts)
	}
	return p.processParallel(ctx, items, opts)
}

func (p *Processor) processSequential(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		results[i] = p.processItem(ctx, item, opts, i+1, total)
		if results[i].Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", i+1, results[i].Error)
		}

		if opts.Delay > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	type job struct {
		index int
		item  Item
	}

	jobs := make(chan job, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := opts.Parallel
	if workers > len(items) {
		workers = len(items)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result := p.processItem(ctx, j.item, opts, j.index+1, total)

				mu.Lock()
				results[j.index] = result
				if result.Error != nil && opts.StopOnError && firstErr == nil {
					firstErr = result.Error
				}
				stop := opts.StopOnError && firstErr != nil
				mu.Unlock()

				if stop {
					return
				}
			}
		}()
	}

	for i, item := range items {
		jobs <- job{index: i, item: item}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", firstErr)
	}
	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{Index: item.Index, Prompt: item.Prompt}

	p.printf("[%d/%d] Generating: %q...\n", current, total, truncate(item.Prompt, 50))

	ratio := item.AspectRatio
	if ratio == "" {
		ratio = opts.DefaultAspectRatio
	}
	quantity := item.Quantity
	if quantity == 0 {
		quantity = opts.DefaultQuantity
	}
	if quantity == 0 {
		quantity = 1
	}

	images, err := p.client.Create(ctx, genclient.CreateRequest{
		Prompt:      item.Prompt,
		AspectRatio: ratio,
		N:           quantity,
	})
	if err != nil {
		result.Error = err
	}

	// Partial output is still saved; the error stands alongside it.
	for n, img := range images {
		path, saveErr := p.save(opts.OutputDir, item.Index, n+1, img)
		if saveErr != nil {
			if result.Error == nil {
				result.Error = saveErr
			}
			break
		}
		result.Paths = append(result.Paths, path)
	}

	result.Duration = time.Since(start)
	if result.Error != nil {
		p.printf("[%d/%d] failed: %v\n", current, total, result.Error)
	} else {
		p.printf("[%d/%d] done: %d image(s) in %s\n", current, total, len(result.Paths), result.Duration.Round(time.Millisecond))
	}
	return result
}

func (p *Processor) save(dir string, item, n int, data []byte) (string, error) {
	name := fmt.Sprintf("batch_%03d_%d.png", item, n)
	if err := security.ValidateFilename(name); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return path, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
