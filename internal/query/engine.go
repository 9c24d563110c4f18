package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/metrics"
	"github.com/dblp-kgqa/kgqa/internal/qa"
	"github.com/dblp-kgqa/kgqa/internal/sparql"
	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

type SimilarityRetriever interface {
	IdentifySimilar(ctx context.Context, question string) ([]qa.SimilarExample, error)
}

type EntityLinker interface {
	Link(ctx context.Context, question string) (qa.Linking, error)
}

type PromptComposer interface {
	Compose(question string, selected []qa.LinkedEntity, pool []qa.SimilarExample) (string, error)
}

type QuerySynthesizer interface {
	Generate(ctx context.Context, prompt, model string) (*qa.GenerationResult, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, query string) (*sparql.Result, error)
}

const DefaultTopK = 5

// Engine answers one question at a time: similar examples and linked
// entities feed the prompt, the model writes a SPARQL query, and the endpoint
// answers it.
type Engine struct {
	retriever SimilarityRetriever
	linker    EntityLinker
	composer  PromptComposer
	synth     QuerySynthesizer
	executor  QueryExecutor
	model     string
	topK      int
}

type Options struct {
	Model string
	TopK  int
}

// NewEngine wires the collaborators. retriever and linker may be nil, in
// which case the prompt is built without examples or entities.
func NewEngine(retriever SimilarityRetriever, linker EntityLinker, composer PromptComposer, synth QuerySynthesizer, executor QueryExecutor, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Engine{
		retriever: retriever,
		linker:    linker,
		composer:  composer,
		synth:     synth,
		executor:  executor,
		model:     opts.Model,
		topK:      opts.TopK,
	}
}

func (e *Engine) TopK() int {
	return e.topK
}

// Answer never returns an error and never panics: every failure is folded
// into the returned Outcome. topK <= 0 uses the engine default.
func (e *Engine) Answer(ctx context.Context, q qa.Question, topK int) (out qa.Outcome) {
	if topK <= 0 {
		topK = e.topK
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked",
				zap.String("question_id", q.ID),
				zap.String("question", q.Text),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out = qa.Failed(q.ID, fmt.Sprintf("panic: %v", r))
		}
		metrics.QuestionsTotal.WithLabelValues(string(out.Status)).Inc()
		metrics.QuestionDuration.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
	}()

	logger.Info("Answering question",
		zap.String("question_id", q.ID),
		zap.String("question", q.Text),
	)

	similar := e.identifySimilar(ctx, q)
	pool := similar
	if len(pool) > topK {
		pool = pool[:topK]
	}
	metrics.SimilarExamplesCount.Observe(float64(len(pool)))

	linking := e.link(ctx, q).Sanitize()
	metrics.SelectedEntitiesCount.Observe(float64(len(linking.Selected)))

	stageStart := time.Now()
	prompt, err := e.composer.Compose(q.Text, linking.Selected, pool)
	observeStage("compose", stageStart)
	if err != nil {
		logger.Error("Prompt composition failed", zap.String("question_id", q.ID), zap.Error(err))
		return qa.Failed(q.ID, fmt.Sprintf("compose: %v", err))
	}

	stageStart = time.Now()
	gen, err := e.synth.Generate(ctx, prompt, e.model)
	observeStage("synthesis", stageStart)
	if err != nil {
		metrics.StageErrors.WithLabelValues("synthesis").Inc()
		logger.Error("Query synthesis failed", zap.String("question_id", q.ID), zap.Error(err))
		return qa.Failed(q.ID, fmt.Sprintf("synthesis: %v", err))
	}
	if !gen.HasQuery() {
		logger.Warn("No query generated; question left unanswered", zap.String("question_id", q.ID))
		return qa.Unanswered(q.ID, "response carried no query")
	}

	confidence := gen.Confidence
	metrics.ConfidenceScore.Observe(confidence)

	record := &qa.AnswerRecord{
		Answer:           qa.ValuesAnswer(),
		Query:            gen.Query,
		Confidence:       &confidence,
		AllEntities:      linking.All,
		SelectedEntities: linking.Selected,
		SimilarQuestions: pool,
		TopK:             topK,
	}

	stageStart = time.Now()
	result, err := e.executor.Execute(ctx, gen.Query)
	observeStage("execution", stageStart)
	if err != nil {
		metrics.StageErrors.WithLabelValues("execution").Inc()
		logger.Warn("Query execution failed; recording empty answer",
			zap.String("question_id", q.ID),
			zap.String("sparql", gen.Query),
			zap.Error(err),
		)
		record.ExecutionError = err.Error()
		return qa.Answered(q.ID, record)
	}
	if result != nil {
		record.Answer = sparql.Extract(result)
	}
	metrics.AnswerSize.Observe(float64(record.Answer.Len()))

	logger.Info("Question answered",
		zap.String("question_id", q.ID),
		zap.Int("answer_size", record.Answer.Len()),
		zap.Float64("confidence", confidence),
		zap.Duration("latency", time.Since(start)),
	)

	return qa.Answered(q.ID, record)
}

func (e *Engine) identifySimilar(ctx context.Context, q qa.Question) []qa.SimilarExample {
	if e.retriever == nil {
		return []qa.SimilarExample{}
	}
	start := time.Now()
	similar, err := e.retriever.IdentifySimilar(ctx, q.Text)
	observeStage("retrieval", start)
	if err != nil {
		metrics.StageErrors.WithLabelValues("retrieval").Inc()
		logger.Warn("Similarity retrieval failed; continuing without examples",
			zap.String("question_id", q.ID),
			zap.Error(err),
		)
		return []qa.SimilarExample{}
	}
	if similar == nil {
		similar = []qa.SimilarExample{}
	}
	return similar
}

func (e *Engine) link(ctx context.Context, q qa.Question) qa.Linking {
	if e.linker == nil {
		return qa.Linking{}
	}
	start := time.Now()
	linking, err := e.linker.Link(ctx, q.Text)
	observeStage("linking", start)
	if err != nil {
		metrics.StageErrors.WithLabelValues("linking").Inc()
		logger.Warn("Entity linking failed; continuing without entities",
			zap.String("question_id", q.ID),
			zap.Error(err),
		)
		return qa.Linking{}
	}
	return linking
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// AuditRecord converts an outcome into its audit row.
func AuditRecord(runID string, q qa.Question, out qa.Outcome, latency time.Duration) *models.OutcomeRecord {
	rec := &models.OutcomeRecord{
		RunID:      runID,
		QuestionID: q.ID,
		Question:   q.Text,
		Status:     string(out.Status),
		Reason:     out.Reason,
		LatencyMS:  int(latency.Milliseconds()),
		CreatedAt:  time.Now(),
	}
	if out.Record != nil {
		rec.Query = out.Record.Query
		rec.AnswerCount = out.Record.Answer.Len()
		rec.Confidence = out.Record.Confidence
		rec.ExecutionError = out.Record.ExecutionError
	}
	return rec
}
