package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalinplus/WHUCS-Qwen3/internal/adapter/docconv"
	js "github.com/kalinplus/WHUCS-Qwen3/internal/adapter/jetstream"
	"github.com/kalinplus/WHUCS-Qwen3/internal/app"
	"github.com/kalinplus/WHUCS-Qwen3/internal/bulkload"
	"github.com/kalinplus/WHUCS-Qwen3/internal/config"
	"github.com/kalinplus/WHUCS-Qwen3/internal/logger"
	"github.com/kalinplus/WHUCS-Qwen3/internal/producer"
	"github.com/kalinplus/WHUCS-Qwen3/internal/text"
	"github.com/kalinplus/WHUCS-Qwen3/internal/worker"
)

const (
	Version = "0.1.0"
	appName = "rag-sync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Keeps a vector index in sync with a document stream",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}

	cmd.AddCommand(bulkloadCmd(), produceCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)
	return cfg, log, nil
}

// run starts the sync worker and blocks until it has drained.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("failed to close dependencies", "error", err)
		}
	}()

	a, err := app.New(cfg, deps.Components(), log)
	if err != nil {
		return fmt.Errorf("app init failed: %w", err)
	}
	log.Info("sync worker starting",
		"consumer", cfg.ConsumerName,
		"group", cfg.ConsumerGroup,
		"stream", cfg.StreamName,
		"vector_store", cfg.VectorStore,
	)
	return a.Run(ctx)
}

func bulkloadCmd() *cobra.Command {
	var dir string
	var readability bool

	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "Index every supported document of a directory into the static namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.StaticDocPath
			}
			report, err := bulkLoad(cmd.Context(), cfg, dir, readability)
			if err != nil {
				return err
			}
			log.Info("bulk load finished",
				"files", report.Files,
				"indexed", report.Indexed,
				"skipped", report.Skipped,
				"records", report.Records,
				"failed", len(report.Failures),
			)
			for file, reason := range report.Failures {
				log.Warn("file not indexed", "file", file, "error", reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to load (defaults to STATIC_DOC_PATH)")
	cmd.Flags().BoolVar(&readability, "readability", false, "Strip boilerplate from HTML documents")
	return cmd
}

func bulkLoad(ctx context.Context, cfg *config.Config, dir string, readability bool) (bulkload.Report, error) {
	deps, err := app.BootstrapIndex(ctx, cfg)
	if err != nil {
		return bulkload.Report{}, fmt.Errorf("bootstrap failed: %w", err)
	}
	defer deps.Close()

	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return bulkload.Report{}, err
	}
	loader := bulkload.NewLoader(
		docconv.NewExtractor(readability),
		worker.NewAssembler(splitter, config.NamespaceStatic),
		deps.Embedder,
		deps.VectorStore,
		bulkload.Config{BatchSize: cfg.BulkLoadBatchSize, Concurrency: cfg.BulkLoadConcurrency},
	)
	return loader.Load(ctx, dir)
}

func produceCmd() *cobra.Command {
	var sourceID, file, metadata string

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish one document to the sync stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), sourceID, file, metadata)
			if err != nil {
				return err
			}

			nc, jsCtx, err := js.Connect(cfg.NATSURL, appName+"-producer")
			if err != nil {
				return err
			}
			defer nc.Close()

			seq, err := producer.NewPublisher(jsCtx, cfg.StreamSubject).Publish(cmd.Context(), doc)
			if err != nil {
				return err
			}
			log.Info("document published", "source_id", doc.SourceID, "sequence", seq)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "Source identifier of the document")
	cmd.Flags().StringVar(&file, "file", "-", "File holding the document content, - for stdin")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Metadata as a JSON object")
	_ = cmd.MarkFlagRequired("source-id")
	return cmd
}

func readDocument(stdin io.Reader, sourceID, file, metadata string) (producer.Document, error) {
	var content []byte
	var err error
	if file == "-" {
		content, err = io.ReadAll(stdin)
	} else {
		content, err = os.ReadFile(file)
	}
	if err != nil {
		return producer.Document{}, fmt.Errorf("read content: %w", err)
	}

	doc := producer.Document{SourceID: sourceID, Content: string(content)}
	if strings.TrimSpace(metadata) != "" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return producer.Document{}, errors.Join(producer.ErrInvalidDocument, fmt.Errorf("metadata: %w", err))
		}
	}
	return doc, nil
}
