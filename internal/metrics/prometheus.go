package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QuestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgqa_question_duration_seconds",
			Help:    "End-to-end time to answer one question",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"mode"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgqa_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	QuestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_questions_total",
			Help: "Questions processed by outcome status",
		},
		[]string{"status"},
	)

	StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_stage_errors_total",
			Help: "Collaborator failures per pipeline stage",
		},
		[]string{"stage"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgqa_confidence_score",
			Help:    "Confidence reported for generated queries",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	SimilarExamplesCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgqa_similar_examples_count",
			Help:    "Similar examples placed in the prompt",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	SelectedEntitiesCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgqa_selected_entities_count",
			Help:    "Linked entities selected per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	AnswerSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kgqa_answer_size",
			Help:    "Number of values in extracted answers",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 1000},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CheckpointWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgqa_checkpoint_writes_total",
			Help: "Checkpoint rewrites by result",
		},
		[]string{"result"},
	)

	PoolExamplesIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgqa_pool_examples_indexed",
			Help: "Solved questions in the similarity index",
		},
	)

	KGEntitiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgqa_kg_entities_total",
			Help: "Entities in the label index",
		},
	)

	HarnessState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kgqa_harness_state",
			Help: "1 for the evaluation harness's current state",
		},
		[]string{"state"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QuestionDuration)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(QuestionsTotal)
		prometheus.MustRegister(StageErrors)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(SimilarExamplesCount)
		prometheus.MustRegister(SelectedEntitiesCount)
		prometheus.MustRegister(AnswerSize)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CheckpointWrites)
		prometheus.MustRegister(PoolExamplesIndexed)
		prometheus.MustRegister(KGEntitiesTotal)
		prometheus.MustRegister(HarnessState)
	})
}

// SetHarnessState marks state as current and clears the others.
func SetHarnessState(current string, all ...string) {
	for _, s := range all {
		HarnessState.WithLabelValues(s).Set(0)
	}
	HarnessState.WithLabelValues(current).Set(1)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
