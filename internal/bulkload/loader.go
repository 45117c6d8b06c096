// Package bulkload indexes a directory of static documents, such as
// handbooks and regulations, under the static namespace.
package bulkload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/docconv"
	"github.com/kalinplus/WHUCS-Qwen3/internal/metadata"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

const DefaultBatchSize = 64

type Extractor interface {
	Extract(ctx context.Context, path string) (docconv.Document, error)
}

type Config struct {
	BatchSize   int
	Concurrency int
}

// Report summarizes one Load run.
type Report struct {
	Files    int
	Indexed  int
	Skipped  int
	Records  int
	Failures map[string]string
}

type Loader struct {
	extractor Extractor
	assembler *worker.Assembler
	embedder  worker.Embedder
	store     worker.IndexUpserter
	cfg       Config
	logger    *slog.Logger
}

// NewLoader expects an assembler built for the static namespace.
func NewLoader(ex Extractor, asm *worker.Assembler, em worker.Embedder, store worker.IndexUpserter, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Loader{
		extractor: ex,
		assembler: asm,
		embedder:  em,
		store:     store,
		cfg:       cfg,
		logger:    slog.Default().With("component", "bulkload"),
	}
}

type extraction struct {
	doc docconv.Document
	err error
}

// Load extracts every supported file of dir in parallel, then chunks, embeds
// and upserts them one file at a time in name order. A failing file is
// recorded in the report and does not stop the run.
func (l *Loader) Load(ctx context.Context, dir string) (Report, error) {
	files, err := listFiles(dir)
	if err != nil {
		return Report{}, err
	}
	report := Report{Files: len(files), Failures: map[string]string{}}
	if len(files) == 0 {
		l.logger.WarnContext(ctx, "no supported documents found", "dir", dir)
		return report, nil
	}
	l.logger.InfoContext(ctx, "starting bulk load", "dir", dir, "files", len(files))

	results, err := l.extractAll(ctx, dir, files)
	if err != nil {
		return report, err
	}

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if results[i].err != nil {
			l.logger.ErrorContext(ctx, "failed to extract document", "file", name, "error", results[i].err)
			report.Failures[name] = results[i].err.Error()
			continue
		}

		n, err := l.indexFile(ctx, name, results[i].doc)
		if err != nil {
			l.logger.ErrorContext(ctx, "failed to index document", "file", name, "error", err)
			report.Failures[name] = err.Error()
			continue
		}
		if n == 0 {
			l.logger.WarnContext(ctx, "no text chunks extracted, skipping", "file", name)
			report.Skipped++
			continue
		}
		report.Indexed++
		report.Records += n
	}

	l.logger.InfoContext(ctx, "bulk load finished",
		"files", report.Files,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"records", report.Records,
	)
	return report, nil
}

func (l *Loader) extractAll(ctx context.Context, dir string, files []string) ([]extraction, error) {
	pool, err := ants.NewPool(l.cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	results := make([]extraction, len(files))
	var wg sync.WaitGroup
	for i, name := range files {
		wg.Add(1)
		path := filepath.Join(dir, name)
		err := pool.Submit(func() {
			defer wg.Done()
			doc, err := l.extractor.Extract(ctx, path)
			results[i] = extraction{doc: doc, err: err}
		})
		if err != nil {
			wg.Done()
			results[i] = extraction{err: fmt.Errorf("submit: %w", err)}
		}
	}
	wg.Wait()
	return results, nil
}

func (l *Loader) indexFile(ctx context.Context, name string, doc docconv.Document) (int, error) {
	meta := make(metadata.Map, len(doc.Meta)+1)
	for k, v := range doc.Meta {
		meta[k] = metadata.String(v)
	}
	meta[metadata.SourceKey] = metadata.String(name)

	records := l.assembler.Expand(worker.StreamMessage{SourceID: name, Content: doc.Text, Metadata: meta})

	for start := 0; start < len(records); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(records))
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Text
		}
		vectors, err := l.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", worker.ErrEmbedding, err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("%w: got %d vectors for %d texts", worker.ErrEmbedding, len(vectors), len(texts))
		}

		out := make([]worker.IndexRecord, len(batch))
		for i, r := range batch {
			out[i] = r.WithVector(vectors[i])
		}
		if err := l.store.Upsert(ctx, out); err != nil {
			return 0, err
		}
		l.logger.DebugContext(ctx, "upserted batch", "file", name, "batch", start/l.cfg.BatchSize+1, "records", len(out))
	}
	return len(records), nil
}

// listFiles returns the supported regular files of dir, sorted by name.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && docconv.Supported(e.Name()) {
			files = append(files, e.Name())
		}
	}
	return files, nil
}
