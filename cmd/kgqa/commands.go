package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/api"
	"github.com/dblp-kgqa/kgqa/internal/api/handlers"
	"github.com/dblp-kgqa/kgqa/internal/evaluation"
	"github.com/dblp-kgqa/kgqa/internal/ingestion"
	"github.com/dblp-kgqa/kgqa/internal/kg/builder"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/query"
	"github.com/dblp-kgqa/kgqa/internal/storage/checkpoint"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// --- eval ---

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Answer a test set and checkpoint every outcome",
	Long: `Answer every question of a test set in order, writing each outcome to the
output file before moving on. Re-running against the same output resumes
according to --resume.

Examples:
  kgqa eval --test-set experiment/ask-dblp/test_data.json --output answers.json
  kgqa eval --format dblp-quad --test-set DBLP-QuAD/test/questions.json --resume retry`,
	RunE: func(cmd *cobra.Command, args []string) error {
		testSet, _ := cmd.Flags().GetString("test-set")
		formatStr, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		resume, _ := cmd.Flags().GetString("resume")
		topK, _ := cmd.Flags().GetInt("top-k")

		testSet = orDefault(testSet, cfg.Evaluation.TestSetPath)
		output = orDefault(output, cfg.Evaluation.OutputPath)
		if topK <= 0 {
			topK = cfg.Similarity.TopK
		}

		format, err := ingestion.ParseFormat(orDefault(formatStr, cfg.Evaluation.Format))
		if err != nil {
			return err
		}
		policy, err := evaluation.ParseResumePolicy(orDefault(resume, cfg.Evaluation.Resume))
		if err != nil {
			return err
		}

		questions, err := ingestion.LoadQuestions(testSet, format)
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			printWarning("No questions found in %s", testSet)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := checkpoint.Open(output)
		if errors.Is(err, checkpoint.ErrLocked) {
			return fmt.Errorf("%s is in use by another run", output)
		}
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := buildComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		opts := evaluation.Options{
			TopK:        topK,
			Resume:      policy,
			Model:       cfg.LLM.Model,
			TestSetPath: testSet,
			Format:      string(format),
		}
		if c.audit != nil {
			opts.Audit = c.audit
		}

		summary, err := evaluation.NewHarness(c.engine, opts).Run(ctx, questions, store)
		if summary != nil {
			printSummary(summary, store.Path())
		}
		return err
	},
}

func init() {
	evalCmd.Flags().String("test-set", "", "test set path (default: evaluation.testSetPath)")
	evalCmd.Flags().String("format", "", "test set format: ask-dblp or dblp-quad (default: evaluation.format)")
	evalCmd.Flags().String("output", "", "checkpoint file (default: evaluation.outputPath)")
	evalCmd.Flags().String("resume", "", "resume policy: skip, retry or append (default: evaluation.resume)")
	evalCmd.Flags().Int("top-k", 0, "similar examples per prompt (default: similarity.topK)")
}

func printSummary(s *evaluation.RunSummary, output string) {
	printStatus("Run", "%s", s.RunID)
	printStatus("Output", "%s", output)
	printStatus("Questions", "%d", s.Total)
	printStatus("Processed", "%d", s.Processed)
	printStatus("Answered", "%d (%d empty)", s.Answered, s.EmptyAnswers)
	printStatus("Unanswered", "%d", s.Unanswered)
	printStatus("Failed", "%d", s.Failed)
	printStatus("Skipped", "%d", s.Skipped)
	printStatus("Duration", "%s", s.Duration.Round(time.Millisecond))
	if s.Interrupted {
		printWarning("Run interrupted; re-run with the same output to resume")
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the result as JSON",
	Long: `Answer one question and print the result as JSON.

Examples:
  kgqa ask "What are the papers written by Hannah Bast?"
  kgqa ask --top-k 3 "Which venue did Ricardo Usbeck publish in most?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		topK, _ := cmd.Flags().GetInt("top-k")

		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fmt.Errorf("question is empty")
		}
		if id == "" {
			id = uuid.New().String()
		}
		if topK <= 0 {
			topK = cfg.Similarity.TopK
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := buildComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		q := qa.Question{ID: id, Text: text}
		start := time.Now()
		out := c.engine.Answer(ctx, q, topK)
		latency := time.Since(start)

		if c.audit != nil {
			if err := c.audit.InsertOutcome(query.AuditRecord("", q, out, latency)); err != nil {
				logger.Warn("Audit write failed", zap.Error(err))
			}
		}

		return printJSON(cmd, handlers.NewAnswerResponse(out, latency))
	},
}

func init() {
	askCmd.Flags().String("id", "", "question id (default: random UUID)")
	askCmd.Flags().Int("top-k", 0, "similar examples in the prompt (default: similarity.topK)")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the answer API over HTTP and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		origins, _ := cmd.Flags().GetStringSlice("allowed-origins")
		dev, _ := cmd.Flags().GetBool("dev")
		accessLog, _ := cmd.Flags().GetBool("access-log")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := buildComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		deps := api.Dependencies{
			Engine: c.engine,
			TopK:   cfg.Similarity.TopK,
			Ready: func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := c.sparql.Execute(pingCtx, "ASK { ?s ?p ?o }"); err != nil {
					return fmt.Errorf("sparql endpoint unavailable: %w", err)
				}
				return nil
			},
		}
		if c.audit != nil {
			deps.Runs = c.audit
			deps.Audit = c.audit
		}

		app, release := api.NewApp(api.Config{
			ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
			BodyLimit:         cfg.Server.BodyLimit,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			MaxQuestionLength: cfg.Server.MaxQuestionLength,
			AllowedOrigins:    origins,
			IsDevelopment:     dev,
			AccessLog:         accessLog,
		}, deps)
		defer release()

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		errCh := make(chan error, 1)
		go func() {
			logger.Info("Server starting", zap.String("address", addr))
			errCh <- app.Listen(addr)
		}()

		select {
		case <-ctx.Done():
			logger.Info("Server shutting down gracefully...")
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			logger.Info("Server stopped")
			return nil
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringSlice("allowed-origins", nil, "origins allowed by CORS and the CSP (default: any)")
	serveCmd.Flags().Bool("dev", false, "development mode: no HSTS header")
	serveCmd.Flags().Bool("access-log", false, "log every request")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load the solved-question pool into the similarity index",
	Long: `Load the solved-question pool into the configured similarity index and,
with --seed-graph or the graph linker, seed the Neo4j label index with the
entities the pool mentions. Cached similarity and linking results are
invalidated afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		poolPath, _ := cmd.Flags().GetString("pool")
		seedGraph, _ := cmd.Flags().GetBool("seed-graph")
		poolPath = orDefault(poolPath, cfg.Similarity.PoolPath)

		switch {
		case cfg.Similarity.Backend == "none":
			return fmt.Errorf("similarity.backend is none; nothing to index")
		case cfg.Similarity.Backend == "bleve" && cfg.Similarity.IndexPath == "":
			return fmt.Errorf("similarity.indexPath must be set to build a persistent bleve index")
		}

		pool, err := ingestion.LoadPool(poolPath)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			printWarning("No examples found in %s", poolPath)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := &components{}
		defer c.Close()

		if err := c.openShared(ctx, cfg); err != nil {
			return err
		}
		index, err := c.openIndex(ctx, cfg)
		if err != nil {
			return err
		}

		var graph builder.EntityStore
		if seedGraph || cfg.Linker.Backend == "graph" {
			g, err := c.openGraph(ctx, cfg)
			if err != nil {
				return err
			}
			graph = g
		}
		var cache builder.CacheInvalidator
		if c.cache != nil {
			cache = c.cache
		}

		report, err := builder.NewBuilder(index, graph, cache).BuildFromPool(ctx, pool)
		if err != nil {
			return err
		}

		printSuccess("Indexed %d examples from %s", report.Examples, poolPath)
		printStatus("Index size", "%d", report.IndexSize)
		if graph != nil {
			printStatus("Entities", "%d seeded, %d in graph", report.Entities, report.GraphEntities)
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().String("pool", "", "solved-question pool (default: similarity.poolPath)")
	indexCmd.Flags().Bool("seed-graph", false, "seed the Neo4j label index even when the linker is not graph")
}

// --- score ---

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a checkpoint file against gold answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		predPath, _ := cmd.Flags().GetString("predictions")
		goldPath, _ := cmd.Flags().GetString("gold")
		formatStr, _ := cmd.Flags().GetString("format")

		predPath = orDefault(predPath, cfg.Evaluation.OutputPath)
		goldPath = orDefault(goldPath, cfg.Evaluation.TestSetPath)

		format, err := ingestion.ParseFormat(orDefault(formatStr, cfg.Evaluation.Format))
		if err != nil {
			return err
		}

		entries, err := checkpoint.Load(predPath)
		if err != nil {
			return err
		}
		gold, err := ingestion.LoadGold(goldPath, format)
		if err != nil {
			return err
		}
		if len(gold) == 0 {
			return fmt.Errorf("no gold answers found in %s", goldPath)
		}

		report := evaluation.Score(evaluation.FlattenPredictions(entries), gold)
		fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(report))
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("predictions", "", "checkpoint file (default: evaluation.outputPath)")
	scoreCmd.Flags().String("gold", "", "dataset with gold answers (default: evaluation.testSetPath)")
	scoreCmd.Flags().String("format", "", "gold dataset format (default: evaluation.format)")
}

// --- split ---

var splitCmd = &cobra.Command{
	Use:   "split <collection>",
	Short: "Split an ask-dblp collection into training pool and test set",
	Long: `Shuffle an ask-dblp collection with a fixed seed and cut it into a test set
of floor(n * ratio) items and a training pool with the rest.

Examples:
  kgqa split experiment/ask-dblp/data.json --train-out train_data.json --test-out test_data.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trainOut, _ := cmd.Flags().GetString("train-out")
		testOut, _ := cmd.Flags().GetString("test-out")
		ratio, _ := cmd.Flags().GetFloat64("ratio")
		seed, _ := cmd.Flags().GetInt64("seed")

		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("--ratio must be within [0, 1], got %v", ratio)
		}

		items, err := ingestion.LoadAskDBLP(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("no items found in %s", args[0])
		}

		train, test := ingestion.RandomSplit(items, ratio, seed)
		if err := ingestion.WriteJSON(trainOut, train); err != nil {
			return err
		}
		if err := ingestion.WriteJSON(testOut, test); err != nil {
			return err
		}

		printSuccess("Wrote %d training and %d test items", len(train), len(test))
		return nil
	},
}

func init() {
	splitCmd.Flags().String("train-out", "train_data.json", "training pool output")
	splitCmd.Flags().String("test-out", "test_data.json", "test set output")
	splitCmd.Flags().Float64("ratio", ingestion.DefaultTestRatio, "share of items in the test set")
	splitCmd.Flags().Int64("seed", ingestion.DefaultSplitSeed, "shuffle seed")
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
